package service

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/quickpayplatform/autocue/internal/logger"
	"github.com/quickpayplatform/autocue/internal/models"
	"github.com/quickpayplatform/autocue/internal/repository"
)

// CueRules bound what an operator may submit.
type CueRules struct {
	PatchMin      int
	PatchMax      int
	LockedNumbers []int
}

// SubmitCueParams is the authoring input for a new PENDING cue.
type SubmitCueParams struct {
	VenueID   string              `json:"venueId" binding:"required"`
	CueNumber int                 `json:"cueNumber" binding:"required"`
	CueList   int                 `json:"cueList"`
	FadeTime  float64             `json:"fadeTime"`
	Notes     string              `json:"notes"`
	Channels  []models.CueChannel `json:"channels"`
}

type ApproveParams struct {
	Label            string `json:"label"`
	ConfirmDuplicate bool   `json:"confirmDuplicate"`
}

// CueService is the authoring side of the lifecycle: submit, approve and
// reject. Everything after APPROVED belongs to the executor.
type CueService struct {
	cues  repository.CueRepo
	audit Auditor
	rules CueRules
	log   *logger.Logger
	now   func() time.Time

	// onApproved lets the executor drain right away instead of on the next tick.
	onApproved func()
}

func NewCueService(cues repository.CueRepo, audit Auditor, rules CueRules, onApproved func(), log *logger.Logger) *CueService {
	if log == nil {
		log = logger.Nop()
	}
	return &CueService{
		cues:       cues,
		audit:      audit,
		rules:      rules,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
		onApproved: onApproved,
	}
}

func (s *CueService) Submit(ctx context.Context, p SubmitCueParams, operatorID int) (*models.Cue, error) {
	if p.CueList == 0 {
		p.CueList = 1
	}
	if err := s.validate(p); err != nil {
		return nil, err
	}

	c := &models.Cue{
		VenueID:     strings.TrimSpace(p.VenueID),
		CueNumber:   p.CueNumber,
		CueList:     p.CueList,
		FadeTime:    p.FadeTime,
		Notes:       strings.TrimSpace(p.Notes),
		Status:      models.CueStatusPending,
		SubmittedBy: operatorID,
		Channels:    p.Channels,
		CreatedAt:   s.now(),
	}
	if err := s.cues.Create(ctx, c); err != nil {
		return nil, err
	}
	s.log.Infow("cue_submitted", "cue_id", c.ID, "venue_id", c.VenueID, "cue_number", c.CueNumber)
	if err := s.record(ctx, c, models.AuditSubmitted, "cue submitted", map[string]any{"operatorId": operatorID}); err != nil {
		return nil, err
	}
	return c, nil
}

// Approve moves a PENDING cue to APPROVED. Reusing a cue number already
// recorded in the same list needs ConfirmDuplicate.
func (s *CueService) Approve(ctx context.Context, id string, operatorID int, p ApproveParams) (*models.Cue, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != models.CueStatusPending {
		return nil, ErrCueNotPending
	}
	if !p.ConfirmDuplicate {
		taken, err := s.cues.NumberTaken(ctx, c.VenueID, c.CueList, c.CueNumber, c.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fmt.Errorf("%w: cue %d in list %d", ErrDuplicateCueNumber, c.CueNumber, c.CueList)
		}
	}

	label := strings.TrimSpace(p.Label)
	moved, err := s.cues.Approve(ctx, c.ID, operatorID, label, s.now())
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrCueNotPending
	}
	c.Status = models.CueStatusApproved
	c.ApprovedBy = operatorID
	c.ApprovalLabel = label

	s.log.Infow("cue_approved", "cue_id", c.ID, "operator_id", operatorID)
	if err := s.record(ctx, c, models.AuditApproved, "cue approved", map[string]any{"operatorId": operatorID, "label": label}); err != nil {
		return nil, err
	}
	if s.onApproved != nil {
		s.onApproved()
	}
	return c, nil
}

func (s *CueService) Reject(ctx context.Context, id string, operatorID int) (*models.Cue, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	moved, err := s.cues.Reject(ctx, c.ID, operatorID, s.now())
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, ErrCueNotPending
	}
	c.Status = models.CueStatusRejected

	s.log.Infow("cue_rejected", "cue_id", c.ID, "operator_id", operatorID)
	if err := s.record(ctx, c, models.AuditRejected, "cue rejected", map[string]any{"operatorId": operatorID}); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CueService) Get(ctx context.Context, id string) (*models.Cue, error) {
	c, err := s.cues.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrCueNotFound
	}
	return c, nil
}

func (s *CueService) List(ctx context.Context, venueID string) ([]models.Cue, error) {
	return s.cues.ListByVenue(ctx, venueID)
}

// Logs returns the cue's audit trail.
func (s *CueService) Logs(ctx context.Context, id string) ([]models.AuditEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.ListForCue(ctx, id)
}

func (s *CueService) validate(p SubmitCueParams) error {
	if strings.TrimSpace(p.VenueID) == "" {
		return fmt.Errorf("%w: venueId is required", ErrInvalidCue)
	}
	if p.CueNumber <= 0 {
		return fmt.Errorf("%w: cueNumber must be positive", ErrInvalidCue)
	}
	if p.CueList <= 0 {
		return fmt.Errorf("%w: cueList must be positive", ErrInvalidCue)
	}
	if p.FadeTime < 0 || math.IsNaN(p.FadeTime) || math.IsInf(p.FadeTime, 0) {
		return fmt.Errorf("%w: fadeTime must be >= 0", ErrInvalidCue)
	}
	if slices.Contains(s.rules.LockedNumbers, p.CueNumber) {
		return fmt.Errorf("%w: %d", ErrCueNumberLocked, p.CueNumber)
	}
	if len(p.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrInvalidCue)
	}

	seen := make(map[int]struct{}, len(p.Channels))
	for _, ch := range p.Channels {
		if ch.Channel < s.rules.PatchMin || ch.Channel > s.rules.PatchMax {
			return fmt.Errorf("%w: channel %d outside patch %d..%d", ErrInvalidCue, ch.Channel, s.rules.PatchMin, s.rules.PatchMax)
		}
		if ch.Level < 0 || ch.Level > 100 {
			return fmt.Errorf("%w: channel %d level %d outside 0..100", ErrInvalidCue, ch.Channel, ch.Level)
		}
		if _, dup := seen[ch.Channel]; dup {
			return fmt.Errorf("%w: channel %d listed twice", ErrInvalidCue, ch.Channel)
		}
		seen[ch.Channel] = struct{}{}
	}
	return nil
}

func (s *CueService) record(ctx context.Context, c *models.Cue, typ, msg string, meta map[string]any) error {
	return s.audit.Record(ctx, models.AuditEntry{
		CueID:     c.ID,
		VenueID:   c.VenueID,
		Type:      typ,
		Message:   msg,
		Metadata:  meta,
		CreatedAt: s.now(),
	})
}
