package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quickpayplatform/autocue/internal/models"
)

type AuditSQLite struct {
	db *sql.DB
}

func NewAuditSQLite(db *sql.DB) *AuditSQLite { return &AuditSQLite{db: db} }

var _ AuditRepo = (*AuditSQLite)(nil)

const (
	insertAuditSQL = `
		INSERT INTO audit_logs (id, cue_id, venue_id, type, message, meta, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	countAuditByTypeSQL = `SELECT COUNT(1) FROM audit_logs WHERE cue_id = ? AND type = ?`
	selectAuditForCueSQL = `
		SELECT id, cue_id, venue_id, type, message, meta, created_at
		FROM audit_logs WHERE cue_id = ? ORDER BY created_at ASC, rowid ASC
	`
	selectLatestAuditSQL = `
		SELECT id, cue_id, venue_id, type, message, meta, created_at
		FROM audit_logs WHERE cue_id = ? AND type IN (%s)
		ORDER BY created_at DESC, rowid DESC LIMIT 1
	`
)

// Append inserts a new audit entry. If ID or CreatedAt are empty, they're set.
func (r *AuditSQLite) Append(ctx context.Context, e models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	// marshal metadata if present
	var metaPtr *string
	if e.Metadata != nil {
		if b, err := json.Marshal(e.Metadata); err == nil {
			s := string(b)
			metaPtr = &s
		}
	}

	_, err := r.db.ExecContext(ctx, insertAuditSQL,
		e.ID,
		e.CueID,
		nullString(e.VenueID),
		strings.ToUpper(strings.TrimSpace(e.Type)),
		e.Message,
		metaPtr,
		ts(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert audit %s for cue %s: %w", e.Type, e.CueID, err)
	}
	return nil
}

// CountByType counts entries of typ for the cue. The executor derives the
// attempt count from EXECUTE_ATTEMPT rows.
func (r *AuditSQLite) CountByType(ctx context.Context, cueID, typ string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, countAuditByTypeSQL, cueID, typ).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s audit for cue %s: %w", typ, cueID, err)
	}
	return n, nil
}

// ListForCue returns the cue's audit trail in insertion order.
func (r *AuditSQLite) ListForCue(ctx context.Context, cueID string) ([]models.AuditEntry, error) {
	rows, err := r.db.QueryContext(ctx, selectAuditForCueSQL, cueID)
	if err != nil {
		return nil, fmt.Errorf("list audit for cue %s: %w", cueID, err)
	}
	defer rows.Close()

	out := make([]models.AuditEntry, 0, 8)
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LatestOf returns the most recent entry among types, or (nil, nil).
func (r *AuditSQLite) LatestOf(ctx context.Context, cueID string, types ...string) (*models.AuditEntry, error) {
	if len(types) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(types)+1)
	args = append(args, cueID)
	for _, t := range types {
		args = append(args, t)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(types)), ", ")

	e, err := scanAudit(r.db.QueryRowContext(ctx, fmt.Sprintf(selectLatestAuditSQL, placeholders), args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest audit for cue %s: %w", cueID, err)
	}
	return e, nil
}

func scanAudit(s rowScanner) (*models.AuditEntry, error) {
	var (
		e       models.AuditEntry
		venueID sql.NullString
		metaStr sql.NullString
	)
	if err := s.Scan(&e.ID, &e.CueID, &venueID, &e.Type, &e.Message, &metaStr, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.VenueID = venueID.String
	e.CreatedAt = e.CreatedAt.UTC()

	if metaStr.Valid && metaStr.String != "" {
		var v any
		if err := json.Unmarshal([]byte(metaStr.String), &v); err == nil {
			e.Metadata = v
		} else {
			e.Metadata = metaStr.String // keep raw if malformed
		}
	}
	return &e, nil
}
