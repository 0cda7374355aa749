package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quickpayplatform/autocue/internal/models"
	"github.com/quickpayplatform/autocue/internal/osc"
	"github.com/quickpayplatform/autocue/internal/relay"
)

// ---- in-memory repositories ----

type memCues struct {
	mu       sync.Mutex
	cues     map[string]*models.Cue
	order    []string
	getErr   error
	listErr  error
	takenFor map[int]bool
}

func newMemCues(cues ...models.Cue) *memCues {
	m := &memCues{cues: map[string]*models.Cue{}, takenFor: map[int]bool{}}
	for i := range cues {
		c := cues[i]
		m.cues[c.ID] = &c
		m.order = append(m.order, c.ID)
	}
	return m
}

func (m *memCues) Create(_ context.Context, c *models.Cue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = "cue-" + string(rune('a'+len(m.order)))
	}
	cp := *c
	m.cues[c.ID] = &cp
	m.order = append(m.order, c.ID)
	return nil
}

func (m *memCues) Get(_ context.Context, id string) (*models.Cue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.cues[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memCues) ListByVenue(_ context.Context, venueID string) ([]models.Cue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Cue
	for _, id := range m.order {
		if m.cues[id].VenueID == venueID {
			out = append(out, *m.cues[id])
		}
	}
	return out, nil
}

func (m *memCues) ListApproved(_ context.Context) ([]models.Cue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.Cue
	for _, id := range m.order {
		if m.cues[id].Status == models.CueStatusApproved {
			out = append(out, *m.cues[id])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memCues) NumberTaken(_ context.Context, _ string, _ int, cueNumber int, _ string) (bool, error) {
	return m.takenFor[cueNumber], nil
}

func (m *memCues) Approve(_ context.Context, id string, by int, label string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cues[id]
	if !ok || c.Status != models.CueStatusPending {
		return false, nil
	}
	c.Status, c.ApprovedBy, c.ApprovalLabel = models.CueStatusApproved, by, label
	return true, nil
}

func (m *memCues) Reject(_ context.Context, id string, by int, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cues[id]
	if !ok || c.Status != models.CueStatusPending {
		return false, nil
	}
	c.Status, c.ApprovedBy = models.CueStatusRejected, by
	return true, nil
}

func (m *memCues) Transition(_ context.Context, id string, from, to models.CueStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cues[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	if to == models.CueStatusExecuted {
		t := at
		c.ExecutedAt = &t
	}
	return true, nil
}

func (m *memCues) status(id string) models.CueStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cues[id].Status
}

type memAudit struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (m *memAudit) Append(_ context.Context, e models.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) CountByType(_ context.Context, cueID, typ string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.CueID == cueID && e.Type == typ {
			n++
		}
	}
	return n, nil
}

func (m *memAudit) ListForCue(_ context.Context, cueID string) ([]models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AuditEntry
	for _, e := range m.entries {
		if e.CueID == cueID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memAudit) LatestOf(_ context.Context, cueID string, types ...string) (*models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.CueID != cueID {
			continue
		}
		for _, t := range types {
			if e.Type == t {
				return &e, nil
			}
		}
	}
	return nil, nil
}

func (m *memAudit) types(cueID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.entries {
		if e.CueID == cueID {
			out = append(out, e.Type)
		}
	}
	return out
}

func (m *memAudit) last(cueID string) models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].CueID == cueID {
			return m.entries[i]
		}
	}
	return models.AuditEntry{}
}

type memNodes struct {
	mu         sync.Mutex
	nodes      map[string]*models.RelayNode
	tokens     []models.NodeToken
	heartbeats int
	countErr   error
}

func newMemNodes(nodes ...models.RelayNode) *memNodes {
	m := &memNodes{nodes: map[string]*models.RelayNode{}}
	for i := range nodes {
		n := nodes[i]
		m.nodes[n.ID] = &n
	}
	return m
}

func (m *memNodes) Get(_ context.Context, id string) (*models.RelayNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return nil, nil
	}
	cp := *n
	return &cp, nil
}

func (m *memNodes) ListByVenue(_ context.Context, venueID string) ([]models.RelayNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RelayNode
	for _, n := range m.nodes {
		if n.VenueID == venueID {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (m *memNodes) CountByVenue(ctx context.Context, venueID string) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	ns, _ := m.ListByVenue(ctx, venueID)
	return len(ns), nil
}

func (m *memNodes) MostRecentOnline(_ context.Context, venueID string) (*models.RelayNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.RelayNode
	for _, n := range m.nodes {
		if n.VenueID != venueID || n.Status != models.NodeStatusOnline {
			continue
		}
		if best == nil || (n.LastSeenAt != nil && best.LastSeenAt != nil && n.LastSeenAt.After(*best.LastSeenAt)) {
			best = n
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (m *memNodes) ListTokens(context.Context) ([]models.NodeToken, error) { return m.tokens, nil }

func (m *memNodes) SetStatus(_ context.Context, nodeID, status string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[nodeID]; ok {
		n.Status = status
		t := seenAt
		n.LastSeenAt = &t
	}
	return nil
}

func (m *memNodes) RecordHeartbeat(ctx context.Context, nodeID string, _ models.Heartbeat, seenAt time.Time) error {
	m.mu.Lock()
	m.heartbeats++
	m.mu.Unlock()
	return m.SetStatus(ctx, nodeID, models.NodeStatusOnline, seenAt)
}

func (m *memNodes) ResetOnline(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, node := range m.nodes {
		if node.Status != models.NodeStatusOffline {
			node.Status = models.NodeStatusOffline
			n++
		}
	}
	return n, nil
}

// ---- delivery doubles ----

// scriptedSender returns the queued errors in order, then nil.
type scriptedSender struct {
	configured bool
	errs       []error
	batches    [][]osc.Command
}

func (s *scriptedSender) Configured() bool { return s.configured }

func (s *scriptedSender) Send(cmds []osc.Command) error {
	s.batches = append(s.batches, cmds)
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

type fakeDispatcher struct {
	online map[string]bool
	sent   []relay.Envelope
	tokens map[string]string
}

func (f *fakeDispatcher) SendCommand(nodeID string, env relay.Envelope) bool {
	if !f.online[nodeID] {
		return false
	}
	f.sent = append(f.sent, env)
	return true
}

func (f *fakeDispatcher) Authenticate(_ context.Context, token string) (string, bool) {
	id, ok := f.tokens[token]
	return id, ok
}

type recordingPublisher struct {
	mu      sync.Mutex
	entries []models.AuditEntry
}

func (p *recordingPublisher) Publish(e models.AuditEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, e)
}
