package service

import (
	"context"
	"time"

	"github.com/quickpayplatform/autocue/internal/config"
	"github.com/quickpayplatform/autocue/internal/logger"
	"github.com/quickpayplatform/autocue/internal/models"
	"github.com/quickpayplatform/autocue/internal/osc"
	"github.com/quickpayplatform/autocue/internal/relay"
	"github.com/quickpayplatform/autocue/internal/repository"
)

// Authorization signs operators in and resolves their bearer tokens.
type Authorization interface {
	SignUp(ctx context.Context, username, password string) (int, error)
	SignIn(ctx context.Context, username, password string) (string, error)
	ParseToken(accessToken string) (int, error)
}

// Auditor is the cue audit trail. Attempt counting reads it back.
type Auditor interface {
	Record(ctx context.Context, e models.AuditEntry) error
	CountByType(ctx context.Context, cueID, typ string) (int, error)
	LatestOf(ctx context.Context, cueID string, types ...string) (*models.AuditEntry, error)
	ListForCue(ctx context.Context, cueID string) ([]models.AuditEntry, error)
}

// Cues is the operator authoring surface.
type Cues interface {
	Submit(ctx context.Context, p SubmitCueParams, operatorID int) (*models.Cue, error)
	Approve(ctx context.Context, id string, operatorID int, p ApproveParams) (*models.Cue, error)
	Reject(ctx context.Context, id string, operatorID int) (*models.Cue, error)
	Get(ctx context.Context, id string) (*models.Cue, error)
	List(ctx context.Context, venueID string) ([]models.Cue, error)
	Logs(ctx context.Context, id string) ([]models.AuditEntry, error)
}

// Nodes covers pairing, liveness and node-reported results.
type Nodes interface {
	StartPairing(ctx context.Context) (*models.PairingCode, error)
	ClaimPairing(ctx context.Context, p ClaimParams, operatorID int) (*models.RelayNode, error)
	CompletePairing(ctx context.Context, code, nonce string) (*PairingResult, error)
	Authenticate(ctx context.Context, token string) (string, bool)
	Heartbeat(ctx context.Context, nodeID string, hb models.Heartbeat) error
	ListByVenue(ctx context.Context, venueID string) ([]models.RelayNode, error)
	SendCommand(ctx context.Context, nodeID string, cmd osc.Command) (string, error)
	ReportResult(ctx context.Context, nodeID, cueID string, res relay.CueResult) (*models.Cue, error)
	ResetOnline(ctx context.Context) error
}

// Console reconfigures the direct bridge at runtime.
type Console interface {
	Config() (osc.Config, bool)
	Reconfigure(cfg osc.Config) error
}

// Executor drains APPROVED cues. Stop via context cancellation in main().
type Executor interface {
	Run(ctx context.Context, tick time.Duration)
	ProcessQueue(ctx context.Context) error
	HandleApprovedCue(ctx context.Context, cueID, label string) error
}

// Service aggregates all sub-services.
type Service struct {
	Authorization
	Cues     Cues
	Nodes    Nodes
	Console  Console
	Executor Executor

	// Relay owns live node sessions; the websocket handler serves into it.
	Relay *relay.Registry
}

// Deps are the process-level collaborators built in main().
type Deps struct {
	Config    *config.Cloud
	Log       *logger.Logger
	Direct    *DirectBridge
	Publisher Publisher
	Telemetry HeartbeatRecorder
}

// NewService wires the repository layer into concrete services and builds
// the relay session registry.
func NewService(repos *repository.Repository, d Deps) *Service {
	log := d.Log
	if log == nil {
		log = logger.Nop()
	}
	cfg := d.Config

	audit := NewAuditService(repos.Audit, d.Publisher, log.Named("audit"))
	nodes := NewNodeService(repos.Nodes, repos.Pairing, repos.Cues, audit, d.Telemetry, log.Named("nodes"))

	registry := relay.NewRegistry(nodes, log.Named("relay"), cfg.Relay.SendBuffer)
	registry.OnResult(nodes.HandleCommandResult)
	nodes.UseRelay(registry)

	var direct DirectSender
	if d.Direct != nil {
		direct = d.Direct
	}
	executor := NewExecutorService(repos.Cues, repos.Nodes, audit, direct, registry, ExecutorConfig{
		MaxAttempts:   cfg.Executor.MaxAttempts,
		ResultTimeout: cfg.Relay.ResultTimeout,
	}, log.Named("executor"))

	cues := NewCueService(repos.Cues, audit, CueRules{
		PatchMin:      cfg.Cues.PatchMin,
		PatchMax:      cfg.Cues.PatchMax,
		LockedNumbers: cfg.Cues.LockedNumbers,
	}, executor.Kick, log.Named("cues"))

	svc := &Service{
		Authorization: NewOperatorService(repos.Operators, cfg.Auth.SigningKey, cfg.Auth.TokenTTL, log.Named("operators")),
		Cues:          cues,
		Nodes:         nodes,
		Executor:      executor,
		Relay:         registry,
	}
	if d.Direct != nil {
		svc.Console = d.Direct
	}
	return svc
}
