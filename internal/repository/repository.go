package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/quickpayplatform/autocue/internal/models"
)

// tsLayout is the SQLite TIMESTAMP text format; millis keep same-second rows ordered.
const tsLayout = "2006-01-02 15:04:05.000"

func ts(t time.Time) string { return t.UTC().Format(tsLayout) }

// OperatorRepo stores the accounts allowed to author and approve cues.
type OperatorRepo interface {
	Create(ctx context.Context, op models.Operator) (int, error)
	GetByUsername(ctx context.Context, username string) (*models.Operator, error)
}

// CueRepo persists cues and their channel levels. Status changes are
// conditional updates and report whether the row actually moved.
type CueRepo interface {
	Create(ctx context.Context, c *models.Cue) error
	Get(ctx context.Context, id string) (*models.Cue, error)
	ListByVenue(ctx context.Context, venueID string) ([]models.Cue, error)
	ListApproved(ctx context.Context) ([]models.Cue, error)
	NumberTaken(ctx context.Context, venueID string, cueList, cueNumber int, excludeID string) (bool, error)
	Approve(ctx context.Context, id string, approvedBy int, label string, at time.Time) (bool, error)
	Reject(ctx context.Context, id string, rejectedBy int, at time.Time) (bool, error)
	Transition(ctx context.Context, id string, from, to models.CueStatus, at time.Time) (bool, error)
}

type AuditRepo interface {
	Append(ctx context.Context, e models.AuditEntry) error
	CountByType(ctx context.Context, cueID, typ string) (int, error)
	ListForCue(ctx context.Context, cueID string) ([]models.AuditEntry, error)
	LatestOf(ctx context.Context, cueID string, types ...string) (*models.AuditEntry, error)
}

type NodeRepo interface {
	Get(ctx context.Context, id string) (*models.RelayNode, error)
	ListByVenue(ctx context.Context, venueID string) ([]models.RelayNode, error)
	CountByVenue(ctx context.Context, venueID string) (int, error)
	MostRecentOnline(ctx context.Context, venueID string) (*models.RelayNode, error)
	ListTokens(ctx context.Context) ([]models.NodeToken, error)
	SetStatus(ctx context.Context, nodeID, status string, seenAt time.Time) error
	RecordHeartbeat(ctx context.Context, nodeID string, hb models.Heartbeat, seenAt time.Time) error
	ResetOnline(ctx context.Context) (int64, error)
}

type PairingRepo interface {
	Create(ctx context.Context, p models.PairingCode) error
	Get(ctx context.Context, code string) (*models.PairingCode, error)
	Claim(ctx context.Context, code string, node models.RelayNode, claimedBy int, at time.Time) (bool, error)
	Complete(ctx context.Context, code, nonce, tokenHash string, at time.Time) (bool, error)
}

type Repository struct {
	Cues      CueRepo
	Audit     AuditRepo
	Nodes     NodeRepo
	Pairing   PairingRepo
	Operators OperatorRepo
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Cues:      NewCueSQLite(db),
		Audit:     NewAuditSQLite(db),
		Nodes:     NewNodeSQLite(db),
		Pairing:   NewPairingSQLite(db),
		Operators: NewOperatorSQLite(db),
	}
}
