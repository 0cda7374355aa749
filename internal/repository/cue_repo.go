package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quickpayplatform/autocue/internal/models"
)

type CueSQLite struct {
	db *sql.DB
}

func NewCueSQLite(db *sql.DB) *CueSQLite { return &CueSQLite{db: db} }

var _ CueRepo = (*CueSQLite)(nil)

const (
	insertCueSQL = `
		INSERT INTO cues (id, venue_id, cue_number, cue_list, fade_time, notes, status, submitted_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	insertCueChannelSQL = `INSERT INTO cue_channels (cue_id, position, channel, level) VALUES (?, ?, ?, ?)`

	cueColumns = `id, venue_id, cue_number, cue_list, fade_time, notes, approval_label, status,
		submitted_by, approved_by, executed_at, created_at, updated_at`

	selectCueSQL         = `SELECT ` + cueColumns + ` FROM cues WHERE id = ?`
	selectCuesByVenueSQL = `SELECT ` + cueColumns + ` FROM cues WHERE venue_id = ? ORDER BY created_at ASC`
	selectApprovedSQL    = `SELECT ` + cueColumns + ` FROM cues WHERE status = 'APPROVED' ORDER BY created_at ASC, rowid ASC`
	selectChannelsSQL    = `SELECT channel, level FROM cue_channels WHERE cue_id = ? ORDER BY position ASC`

	selectNumberTakenSQL = `
		SELECT COUNT(1) FROM cues
		WHERE venue_id = ? AND cue_list = ? AND cue_number = ? AND id <> ?
		  AND status IN ('APPROVED', 'EXECUTED')
	`

	approveCueSQL = `
		UPDATE cues SET status = 'APPROVED', approved_by = ?, approval_label = ?, updated_at = ?
		WHERE id = ? AND status = 'PENDING'
	`
	rejectCueSQL = `
		UPDATE cues SET status = 'REJECTED', approved_by = ?, updated_at = ?
		WHERE id = ? AND status = 'PENDING'
	`
	transitionCueSQL = `
		UPDATE cues SET status = ?, executed_at = COALESCE(?, executed_at), updated_at = ?
		WHERE id = ? AND status = ?
	`
)

// Create inserts the cue and its channels in one transaction. ID, status and
// timestamps are filled in when empty.
func (r *CueSQLite) Create(ctx context.Context, c *models.Cue) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = models.CueStatusPending
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cue insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insertCueSQL,
		c.ID, c.VenueID, c.CueNumber, c.CueList, c.FadeTime,
		nullString(c.Notes), string(c.Status), nullInt(c.SubmittedBy),
		ts(c.CreatedAt), ts(c.UpdatedAt),
	); err != nil {
		return fmt.Errorf("insert cue %s: %w", c.ID, err)
	}
	for i, ch := range c.Channels {
		if _, err := tx.ExecContext(ctx, insertCueChannelSQL, c.ID, i, ch.Channel, ch.Level); err != nil {
			return fmt.Errorf("insert cue %s channel %d: %w", c.ID, ch.Channel, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cue %s: %w", c.ID, err)
	}
	return nil
}

// Get returns the cue with its channels, or (nil, nil) if not found.
func (r *CueSQLite) Get(ctx context.Context, id string) (*models.Cue, error) {
	c, err := scanCue(r.db.QueryRowContext(ctx, selectCueSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select cue %s: %w", id, err)
	}
	if c.Channels, err = r.channels(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

func (r *CueSQLite) ListByVenue(ctx context.Context, venueID string) ([]models.Cue, error) {
	return r.list(ctx, selectCuesByVenueSQL, venueID)
}

// ListApproved returns every APPROVED cue oldest first.
func (r *CueSQLite) ListApproved(ctx context.Context) ([]models.Cue, error) {
	return r.list(ctx, selectApprovedSQL)
}

// NumberTaken reports whether another approved or executed cue in the same list uses cueNumber.
func (r *CueSQLite) NumberTaken(ctx context.Context, venueID string, cueList, cueNumber int, excludeID string) (bool, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, selectNumberTakenSQL, venueID, cueList, cueNumber, excludeID).Scan(&n); err != nil {
		return false, fmt.Errorf("count cue number %d: %w", cueNumber, err)
	}
	return n > 0, nil
}

// Approve moves a PENDING cue to APPROVED and stores the label to record with it.
func (r *CueSQLite) Approve(ctx context.Context, id string, approvedBy int, label string, at time.Time) (bool, error) {
	return r.update(ctx, id, approveCueSQL, approvedBy, nullString(label), ts(at), id)
}

// Reject moves a PENDING cue to REJECTED.
func (r *CueSQLite) Reject(ctx context.Context, id string, rejectedBy int, at time.Time) (bool, error) {
	return r.update(ctx, id, rejectCueSQL, rejectedBy, ts(at), id)
}

// Transition moves the cue from one status to another only if it is still in
// from. executed_at is stamped on the move to EXECUTED.
func (r *CueSQLite) Transition(ctx context.Context, id string, from, to models.CueStatus, at time.Time) (bool, error) {
	var executedAt any
	if to == models.CueStatusExecuted {
		executedAt = ts(at)
	}
	return r.update(ctx, id, transitionCueSQL, string(to), executedAt, ts(at), id, string(from))
}

func (r *CueSQLite) update(ctx context.Context, id, q string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, fmt.Errorf("update cue %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for cue %s: %w", id, err)
	}
	return n == 1, nil
}

func (r *CueSQLite) list(ctx context.Context, q string, args ...any) ([]models.Cue, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list cues: %w", err)
	}
	out := make([]models.Cue, 0, 16)
	for rows.Next() {
		c, err := scanCue(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan cue: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	// Channels are loaded after the cursor is released; the pool holds one connection.
	for i := range out {
		if out[i].Channels, err = r.channels(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *CueSQLite) channels(ctx context.Context, cueID string) ([]models.CueChannel, error) {
	rows, err := r.db.QueryContext(ctx, selectChannelsSQL, cueID)
	if err != nil {
		return nil, fmt.Errorf("select channels for cue %s: %w", cueID, err)
	}
	defer rows.Close()

	var out []models.CueChannel
	for rows.Next() {
		var ch models.CueChannel
		if err := rows.Scan(&ch.Channel, &ch.Level); err != nil {
			return nil, fmt.Errorf("scan channel for cue %s: %w", cueID, err)
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCue(s rowScanner) (*models.Cue, error) {
	var (
		c           models.Cue
		status      string
		notes       sql.NullString
		label       sql.NullString
		submittedBy sql.NullInt64
		approvedBy  sql.NullInt64
		executedAt  sql.NullTime
	)
	if err := s.Scan(&c.ID, &c.VenueID, &c.CueNumber, &c.CueList, &c.FadeTime, &notes, &label, &status,
		&submittedBy, &approvedBy, &executedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Status = models.CueStatus(status)
	c.Notes = notes.String
	c.ApprovalLabel = label.String
	c.SubmittedBy = int(submittedBy.Int64)
	c.ApprovedBy = int(approvedBy.Int64)
	if executedAt.Valid {
		t := executedAt.Time.UTC()
		c.ExecutedAt = &t
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
