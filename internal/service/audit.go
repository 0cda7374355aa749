package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/quickpayplatform/autocue/internal/logger"
	"github.com/quickpayplatform/autocue/internal/models"
	"github.com/quickpayplatform/autocue/internal/repository"
)

// Publisher fans audit entries out to external subscribers.
type Publisher interface {
	Publish(e models.AuditEntry)
}

// AuditService appends to the cue audit trail and publishes each entry
// after it is stored.
type AuditService struct {
	repo repository.AuditRepo
	pub  Publisher
	log  *logger.Logger
}

func NewAuditService(repo repository.AuditRepo, pub Publisher, log *logger.Logger) *AuditService {
	if log == nil {
		log = logger.Nop()
	}
	return &AuditService{repo: repo, pub: pub, log: log}
}

var _ Auditor = (*AuditService)(nil)

func (s *AuditService) Record(ctx context.Context, e models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := s.repo.Append(ctx, e); err != nil {
		return err
	}
	s.log.Debugw("audit_recorded", "cue_id", e.CueID, "type", e.Type)
	if s.pub != nil {
		s.pub.Publish(e)
	}
	return nil
}

func (s *AuditService) CountByType(ctx context.Context, cueID, typ string) (int, error) {
	return s.repo.CountByType(ctx, cueID, typ)
}

func (s *AuditService) LatestOf(ctx context.Context, cueID string, types ...string) (*models.AuditEntry, error) {
	return s.repo.LatestOf(ctx, cueID, types...)
}

func (s *AuditService) ListForCue(ctx context.Context, cueID string) ([]models.AuditEntry, error) {
	return s.repo.ListForCue(ctx, cueID)
}
