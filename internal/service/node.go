package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/quickpayplatform/autocue/internal/logger"
	"github.com/quickpayplatform/autocue/internal/models"
	"github.com/quickpayplatform/autocue/internal/osc"
	"github.com/quickpayplatform/autocue/internal/relay"
	"github.com/quickpayplatform/autocue/internal/repository"
)

const (
	pairingAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	pairingCodeLen  = 8
	pairingTTL      = 10 * time.Minute
	nodeTokenBytes  = 32
)

var nodeOSes = []string{"macos", "windows", "linux"}

// HeartbeatRecorder receives every node heartbeat for time-series storage.
type HeartbeatRecorder interface {
	RecordHeartbeat(nodeID string, hb models.Heartbeat, at time.Time)
}

// NodeRelay is the part of the session registry the node service drives.
type NodeRelay interface {
	Dispatcher
	Authenticate(ctx context.Context, token string) (string, bool)
}

type ClaimParams struct {
	Code        string `json:"code" binding:"required"`
	DisplayName string `json:"displayName" binding:"required"`
	OS          string `json:"os" binding:"required"`
	VenueID     string `json:"venueId" binding:"required"`
}

// PairingResult is returned once, when pairing completes.
type PairingResult struct {
	NodeID    string `json:"nodeId"`
	NodeToken string `json:"nodeToken"`
}

// NodeService manages relay node pairing and liveness and applies results
// reported by nodes. It also backs the registry's NodeStore so websocket
// heartbeats reach telemetry.
type NodeService struct {
	nodes     repository.NodeRepo
	pairing   repository.PairingRepo
	cues      repository.CueRepo
	audit     Auditor
	telemetry HeartbeatRecorder
	relay     NodeRelay
	log       *logger.Logger
	now       func() time.Time
}

func NewNodeService(nodes repository.NodeRepo, pairing repository.PairingRepo, cues repository.CueRepo,
	audit Auditor, telemetry HeartbeatRecorder, log *logger.Logger) *NodeService {
	if log == nil {
		log = logger.Nop()
	}
	return &NodeService{
		nodes:     nodes,
		pairing:   pairing,
		cues:      cues,
		audit:     audit,
		telemetry: telemetry,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var _ relay.NodeStore = (*NodeService)(nil)

// UseRelay attaches the session registry once it exists.
func (s *NodeService) UseRelay(r NodeRelay) { s.relay = r }

// StartPairing issues a fresh code and nonce for an unpaired node.
func (s *NodeService) StartPairing(ctx context.Context) (*models.PairingCode, error) {
	code, err := randomCode(pairingCodeLen)
	if err != nil {
		return nil, err
	}
	nonce, err := randomCode(pairingCodeLen)
	if err != nil {
		return nil, err
	}
	p := models.PairingCode{Code: code, Nonce: nonce, ExpiresAt: s.now().Add(pairingTTL)}
	if err := s.pairing.Create(ctx, p); err != nil {
		return nil, err
	}
	s.log.Infow("pairing_started", "code", code, "expires_at", p.ExpiresAt)
	return &p, nil
}

// ClaimPairing binds a code to a venue on behalf of an operator and creates
// the node record offline.
func (s *NodeService) ClaimPairing(ctx context.Context, p ClaimParams, operatorID int) (*models.RelayNode, error) {
	osTag := strings.ToLower(strings.TrimSpace(p.OS))
	if !slices.Contains(nodeOSes, osTag) {
		return nil, fmt.Errorf("%w: os must be one of %s", ErrInvalidPairing, strings.Join(nodeOSes, ", "))
	}
	pc, err := s.pairing.Get(ctx, strings.ToUpper(strings.TrimSpace(p.Code)))
	if err != nil {
		return nil, err
	}
	now := s.now()
	if pc == nil || pc.ClaimedAt != nil || !now.Before(pc.ExpiresAt) {
		return nil, ErrInvalidPairing
	}

	node := models.RelayNode{
		ID:          uuid.NewString(),
		VenueID:     strings.TrimSpace(p.VenueID),
		DisplayName: strings.TrimSpace(p.DisplayName),
		OS:          osTag,
		Status:      models.NodeStatusOffline,
		CreatedAt:   now,
	}
	ok, err := s.pairing.Claim(ctx, pc.Code, node, operatorID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidPairing
	}
	s.log.Infow("pairing_claimed", "node_id", node.ID, "venue_id", node.VenueID, "operator_id", operatorID)
	return &node, nil
}

// CompletePairing hands the node its token. The plaintext exists only in
// this response; a second call for the same code fails.
func (s *NodeService) CompletePairing(ctx context.Context, code, nonce string) (*PairingResult, error) {
	pc, err := s.pairing.Get(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	if pc == nil || pc.Nonce != nonce {
		return nil, ErrInvalidPairing
	}
	if pc.CompletedAt != nil {
		return nil, ErrPairingCompleted
	}
	if pc.ClaimedAt == nil {
		return nil, ErrPairingPending
	}

	token, err := randomToken()
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash node token: %w", err)
	}
	ok, err := s.pairing.Complete(ctx, pc.Code, nonce, string(hash), s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPairingCompleted
	}
	s.log.Infow("pairing_completed", "node_id", pc.NodeID)
	return &PairingResult{NodeID: pc.NodeID, NodeToken: token}, nil
}

// Authenticate resolves a node bearer token.
func (s *NodeService) Authenticate(ctx context.Context, token string) (string, bool) {
	if s.relay == nil {
		return "", false
	}
	return s.relay.Authenticate(ctx, token)
}

// Heartbeat records a heartbeat posted over HTTP.
func (s *NodeService) Heartbeat(ctx context.Context, nodeID string, hb models.Heartbeat) error {
	return s.RecordHeartbeat(ctx, nodeID, hb, s.now())
}

func (s *NodeService) ListTokens(ctx context.Context) ([]models.NodeToken, error) {
	return s.nodes.ListTokens(ctx)
}

func (s *NodeService) SetStatus(ctx context.Context, nodeID, status string, seenAt time.Time) error {
	return s.nodes.SetStatus(ctx, nodeID, status, seenAt)
}

func (s *NodeService) RecordHeartbeat(ctx context.Context, nodeID string, hb models.Heartbeat, seenAt time.Time) error {
	if err := s.nodes.RecordHeartbeat(ctx, nodeID, hb, seenAt); err != nil {
		return err
	}
	if s.telemetry != nil {
		s.telemetry.RecordHeartbeat(nodeID, hb, seenAt)
	}
	return nil
}

func (s *NodeService) ListByVenue(ctx context.Context, venueID string) ([]models.RelayNode, error) {
	return s.nodes.ListByVenue(ctx, venueID)
}

// ResetOnline marks every node offline; sessions do not survive a restart.
func (s *NodeService) ResetOnline(ctx context.Context) error {
	n, err := s.nodes.ResetOnline(ctx)
	if err != nil {
		return err
	}
	s.log.Infow("nodes_reset_offline", "count", n)
	return nil
}

// SendCommand dispatches a single osc.send to a node and returns the
// envelope id the node will echo in its command.result.
func (s *NodeService) SendCommand(ctx context.Context, nodeID string, cmd osc.Command) (string, error) {
	node, err := s.nodes.Get(ctx, nodeID)
	if err != nil {
		return "", err
	}
	if node == nil {
		return "", ErrNodeNotFound
	}
	if _, err := cmd.MarshalBinary(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	env, err := relay.NewEnvelope(relay.TypeOSCSend, cmd)
	if err != nil {
		return "", err
	}
	if s.relay == nil || !s.relay.SendCommand(nodeID, env) {
		return "", ErrNodeOffline
	}
	s.log.Infow("node_command_dispatched", "node_id", nodeID, "id", env.ID, "address", cmd.Address)
	return env.ID, nil
}

// ReportResult applies a node's outcome for a dispatched cue. Only an
// APPROVED cue of the node's own venue moves; anything else is a no-op that
// still returns the current cue.
func (s *NodeService) ReportResult(ctx context.Context, nodeID, cueID string, res relay.CueResult) (*models.Cue, error) {
	node, err := s.nodes.Get(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, ErrNodeNotFound
	}
	cue, err := s.cues.Get(ctx, cueID)
	if err != nil {
		return nil, err
	}
	if cue == nil {
		return nil, ErrCueNotFound
	}
	if cue.VenueID != node.VenueID {
		return nil, ErrNodeForbidden
	}

	meta := map[string]any{"nodeId": nodeID, "ok": res.OK}
	if res.SentCount != nil {
		meta["sentCount"] = *res.SentCount
	}
	if res.Error != "" {
		meta["error"] = res.Error
	}
	now := s.now()
	if err := s.audit.Record(ctx, models.AuditEntry{
		CueID: cue.ID, VenueID: cue.VenueID, Type: models.AuditNodeResult,
		Message: "node reported result", Metadata: meta, CreatedAt: now,
	}); err != nil {
		return nil, err
	}
	if cue.Status != models.CueStatusApproved {
		s.log.Warnw("node_result_ignored", "cue_id", cue.ID, "node_id", nodeID, "status", cue.Status)
		return cue, nil
	}

	to, typ, msg := models.CueStatusExecuted, models.AuditExecuted, "Node reported execution"
	if !res.OK {
		to, typ, msg = models.CueStatusFailed, models.AuditFailed, "Node reported failure"
	}
	moved, err := s.cues.Transition(ctx, cue.ID, models.CueStatusApproved, to, now)
	if err != nil {
		return nil, err
	}
	if !moved {
		return s.cues.Get(ctx, cue.ID)
	}
	cue.Status = to
	if to == models.CueStatusExecuted {
		cue.ExecutedAt = &now
	}
	s.log.Infow("node_result_applied", "cue_id", cue.ID, "node_id", nodeID, "status", to)
	if err := s.audit.Record(ctx, models.AuditEntry{
		CueID: cue.ID, VenueID: cue.VenueID, Type: typ, Message: msg, Metadata: meta, CreatedAt: now,
	}); err != nil {
		return nil, err
	}
	return cue, nil
}

// HandleCommandResult logs command.result frames and audits those that
// name a cue of the reporting node's venue. The row is informational: cue
// outcomes arrive through ReportResult.
func (s *NodeService) HandleCommandResult(nodeID string, res relay.CommandResult) {
	if res.CueID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	node, err := s.nodes.Get(ctx, nodeID)
	if err != nil || node == nil {
		s.log.Warnw("command_result_unknown_node", "node_id", nodeID, "err", err)
		return
	}
	cue, err := s.cues.Get(ctx, res.CueID)
	if err != nil || cue == nil {
		s.log.Warnw("command_result_unknown_cue", "node_id", nodeID, "cue_id", res.CueID, "err", err)
		return
	}
	if cue.VenueID != node.VenueID {
		s.log.Warnw("command_result_foreign_cue", "node_id", nodeID, "cue_id", cue.ID, "venue_id", node.VenueID)
		return
	}
	meta := map[string]any{"nodeId": nodeID, "id": res.ID, "ok": res.OK}
	if res.Error != "" {
		meta["error"] = res.Error
	}
	if err := s.audit.Record(ctx, models.AuditEntry{
		CueID: cue.ID, VenueID: cue.VenueID, Type: models.AuditCommandResult,
		Message: "node command result", Metadata: meta, CreatedAt: s.now(),
	}); err != nil {
		s.log.Errorw("command_result_audit_failed", "cue_id", cue.ID, "err", err)
	}
}

func randomCode(n int) (string, error) {
	size := big.NewInt(int64(len(pairingAlphabet)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", fmt.Errorf("generate pairing code: %w", err)
		}
		b[i] = pairingAlphabet[idx.Int64()]
	}
	return string(b), nil
}

func randomToken() (string, error) {
	b := make([]byte, nodeTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate node token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
