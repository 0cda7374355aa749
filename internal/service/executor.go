package service

import (
	"context"
	"fmt"
	"time"

	"github.com/quickpayplatform/autocue/internal/logger"
	"github.com/quickpayplatform/autocue/internal/metrics"
	"github.com/quickpayplatform/autocue/internal/models"
	"github.com/quickpayplatform/autocue/internal/osc"
	"github.com/quickpayplatform/autocue/internal/relay"
	"github.com/quickpayplatform/autocue/internal/repository"
)

// Audit messages written by the executor.
const (
	msgAttemptsExhausted = "Execution attempts exhausted"
	msgPartialFailure    = "partial OSC execution detected; no retry"
	msgWillRetry         = "execution error; will retry if attempts remain"
	msgExecuted          = "cue recorded on console"
	msgAwaitingNode      = "dispatched to relay node; awaiting node result"
	msgRelayTimeout      = "no result from relay node; console state unknown; no retry"
)

// Outcome labels for metrics.CueOutcomes.
const (
	outcomeExecuted   = "executed"
	outcomeDispatched = "dispatched"
	outcomeRetry      = "retry"
	outcomePartial    = "partial_failure"
	outcomeExhausted  = "exhausted"
	outcomeTimeout    = "relay_timeout"
)

// DirectSender is the cloud-side console path.
type DirectSender interface {
	Configured() bool
	Send(cmds []osc.Command) error
}

// Dispatcher hands payloads to live relay sessions.
type Dispatcher interface {
	SendCommand(nodeID string, env relay.Envelope) bool
}

type ExecutorConfig struct {
	MaxAttempts   int
	ResultTimeout time.Duration
}

// ExecutorService moves every APPROVED cue to a terminal state. It is the
// only writer of post-approval status transitions.
type ExecutorService struct {
	cues   repository.CueRepo
	nodes  repository.NodeRepo
	audit  Auditor
	direct DirectSender
	relay  Dispatcher
	cfg    ExecutorConfig
	log    *logger.Logger
	now    func() time.Time
	kick   chan struct{}
}

func NewExecutorService(cues repository.CueRepo, nodes repository.NodeRepo, audit Auditor,
	direct DirectSender, dispatcher Dispatcher, cfg ExecutorConfig, log *logger.Logger) *ExecutorService {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ExecutorService{
		cues:   cues,
		nodes:  nodes,
		audit:  audit,
		direct: direct,
		relay:  dispatcher,
		cfg:    cfg,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
		kick:   make(chan struct{}, 1),
	}
}

// Run drains the queue every tick until ctx is canceled. Kick triggers an
// early drain; drains never overlap.
func (s *ExecutorService) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-s.kick:
		}
		if err := s.ProcessQueue(ctx); err != nil && ctx.Err() == nil {
			s.log.Errorw("executor_drain_failed", "err", err)
		}
	}
}

// Kick asks the run loop for an immediate drain.
func (s *ExecutorService) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// ProcessQueue handles every APPROVED cue oldest-first, one at a time. A
// failing cue is logged and does not stop the rest.
func (s *ExecutorService) ProcessQueue(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.QueueDrainDuration.Observe(time.Since(start).Seconds()) }()

	cues, err := s.cues.ListApproved(ctx)
	if err != nil {
		return fmt.Errorf("list approved cues: %w", err)
	}
	for _, c := range cues {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := s.handleIsolated(ctx, c.ID, c.ApprovalLabel); err != nil {
			s.log.Errorw("cue_handle_failed", "cue_id", c.ID, "err", err)
		}
	}
	return nil
}

func (s *ExecutorService) handleIsolated(ctx context.Context, cueID, label string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling cue: %v", r)
		}
	}()
	return s.HandleApprovedCue(ctx, cueID, label)
}

// HandleApprovedCue makes one execution step for an APPROVED cue. Cues in any
// other status are left alone. Returned errors are storage errors only;
// delivery failures end up in the cue status and its audit trail.
func (s *ExecutorService) HandleApprovedCue(ctx context.Context, cueID, label string) error {
	cue, err := s.cues.Get(ctx, cueID)
	if err != nil {
		return err
	}
	if cue == nil {
		return ErrCueNotFound
	}
	if cue.Status != models.CueStatusApproved {
		return nil
	}
	if label == "" {
		label = cue.ApprovalLabel
	}

	waiting, err := s.awaitingNode(ctx, cue)
	if err != nil || waiting {
		return err
	}

	attempts, err := s.audit.CountByType(ctx, cue.ID, models.AuditExecuteAttempt)
	if err != nil {
		return err
	}
	if attempts >= s.cfg.MaxAttempts {
		return s.fail(ctx, cue, msgAttemptsExhausted, outcomeExhausted, map[string]any{"attempts": attempts})
	}

	rt, err := s.resolveRoute(ctx, cue)
	if err != nil {
		return err
	}

	cmds := BuildCommands(*cue, label)
	if err := s.record(ctx, cue, models.AuditExecuteAttempt, fmt.Sprintf("attempt %d of %d", attempts+1, s.cfg.MaxAttempts),
		map[string]any{"attempt": attempts + 1, "commands": len(cmds)}); err != nil {
		return err
	}

	nodeID, sendErr := s.deliver(cue, cmds, rt)
	switch {
	case sendErr == nil && nodeID != "":
		metrics.CueOutcomes.WithLabelValues(outcomeDispatched).Inc()
		s.log.Infow("cue_dispatched", "cue_id", cue.ID, "node_id", nodeID, "commands", len(cmds))
		return s.record(ctx, cue, models.AuditNodeSend, msgAwaitingNode, map[string]any{"nodeId": nodeID})

	case sendErr == nil:
		return s.succeed(ctx, cue, map[string]any{"commands": len(cmds)})
	}

	sent, _ := osc.SentCount(sendErr)
	if sent > 0 {
		s.log.Warnw("cue_partial_failure", "cue_id", cue.ID, "sent", sent, "total", len(cmds), "err", sendErr)
		return s.fail(ctx, cue, msgPartialFailure, outcomePartial,
			map[string]any{"sentCount": sent, "total": len(cmds), "error": sendErr.Error()})
	}

	if attempts+1 >= s.cfg.MaxAttempts {
		return s.fail(ctx, cue, msgAttemptsExhausted, outcomeExhausted,
			map[string]any{"attempts": attempts + 1, "error": sendErr.Error()})
	}
	metrics.CueOutcomes.WithLabelValues(outcomeRetry).Inc()
	s.log.Warnw("cue_execution_error", "cue_id", cue.ID, "attempt", attempts+1, "err", sendErr)
	return s.record(ctx, cue, models.AuditExecutionError, msgWillRetry,
		map[string]any{"attempt": attempts + 1, "error": sendErr.Error()})
}

// awaitingNode reports whether the cue was handed to a relay node that has
// not answered yet. A silent node past the result timeout fails the cue:
// some commands may have reached the console.
func (s *ExecutorService) awaitingNode(ctx context.Context, cue *models.Cue) (bool, error) {
	latest, err := s.audit.LatestOf(ctx, cue.ID, models.AuditNodeSend, models.AuditNodeResult, models.AuditExecuteAttempt)
	if err != nil {
		return false, err
	}
	if latest == nil || latest.Type != models.AuditNodeSend {
		return false, nil
	}
	if s.cfg.ResultTimeout > 0 && s.now().Sub(latest.CreatedAt) >= s.cfg.ResultTimeout {
		return true, s.fail(ctx, cue, msgRelayTimeout, outcomeTimeout, map[string]any{"sentAt": latest.CreatedAt})
	}
	return true, nil
}

// route is where an attempt goes. err is set when no path to the console
// exists; that attempt counts as a total failure.
type route struct {
	node   *models.RelayNode
	direct bool
	err    error
}

// resolveRoute picks relay when the venue has paired nodes, else the direct
// console. Storage errors are returned before any attempt is recorded.
func (s *ExecutorService) resolveRoute(ctx context.Context, cue *models.Cue) (route, error) {
	paired, err := s.nodes.CountByVenue(ctx, cue.VenueID)
	if err != nil {
		return route{}, err
	}
	if paired > 0 {
		node, err := s.nodes.MostRecentOnline(ctx, cue.VenueID)
		if err != nil {
			return route{}, err
		}
		if node == nil || s.relay == nil {
			return route{err: ErrNoOnlineNode}, nil
		}
		return route{node: node}, nil
	}
	if s.direct != nil && s.direct.Configured() {
		return route{direct: true}, nil
	}
	return route{err: ErrNoRoute}, nil
}

// deliver sends the batch along rt. It returns the node id for a relay
// dispatch.
func (s *ExecutorService) deliver(cue *models.Cue, cmds []osc.Command, rt route) (string, error) {
	switch {
	case rt.err != nil:
		return "", rt.err
	case rt.direct:
		return "", s.direct.Send(cmds)
	}
	env, err := relay.NewEnvelope(relay.TypeCueExecute, relay.CueExecute{CueID: cue.ID, Commands: cmds})
	if err != nil {
		return "", err
	}
	if !s.relay.SendCommand(rt.node.ID, env) {
		return "", fmt.Errorf("%w: node %s not connected", ErrNoOnlineNode, rt.node.ID)
	}
	return rt.node.ID, nil
}

func (s *ExecutorService) succeed(ctx context.Context, cue *models.Cue, meta map[string]any) error {
	moved, err := s.cues.Transition(ctx, cue.ID, models.CueStatusApproved, models.CueStatusExecuted, s.now())
	if err != nil {
		return err
	}
	if !moved {
		s.log.Warnw("cue_transition_lost", "cue_id", cue.ID, "to", models.CueStatusExecuted)
		return nil
	}
	metrics.CueOutcomes.WithLabelValues(outcomeExecuted).Inc()
	s.log.Infow("cue_executed", "cue_id", cue.ID, "cue_number", cue.CueNumber)
	return s.record(ctx, cue, models.AuditExecuted, msgExecuted, meta)
}

func (s *ExecutorService) fail(ctx context.Context, cue *models.Cue, msg, outcome string, meta map[string]any) error {
	moved, err := s.cues.Transition(ctx, cue.ID, models.CueStatusApproved, models.CueStatusFailed, s.now())
	if err != nil {
		return err
	}
	if !moved {
		s.log.Warnw("cue_transition_lost", "cue_id", cue.ID, "to", models.CueStatusFailed)
		return nil
	}
	metrics.CueOutcomes.WithLabelValues(outcome).Inc()
	s.log.Warnw("cue_failed", "cue_id", cue.ID, "reason", msg)
	return s.record(ctx, cue, models.AuditFailed, msg, meta)
}

func (s *ExecutorService) record(ctx context.Context, cue *models.Cue, typ, msg string, meta map[string]any) error {
	return s.audit.Record(ctx, models.AuditEntry{
		CueID:     cue.ID,
		VenueID:   cue.VenueID,
		Type:      typ,
		Message:   msg,
		Metadata:  meta,
		CreatedAt: s.now(),
	})
}

