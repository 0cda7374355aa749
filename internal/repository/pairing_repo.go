package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quickpayplatform/autocue/internal/models"
)

type PairingSQLite struct {
	db *sql.DB
}

func NewPairingSQLite(db *sql.DB) *PairingSQLite { return &PairingSQLite{db: db} }

var _ PairingRepo = (*PairingSQLite)(nil)

const (
	insertPairingSQL = `INSERT INTO node_pairing_codes (code, nonce, expires_at) VALUES (?, ?, ?)`
	selectPairingSQL = `
		SELECT code, nonce, venue_id, node_id, claimed_by, expires_at, claimed_at, completed_at
		FROM node_pairing_codes WHERE code = ?
	`
	insertNodeSQL = `
		INSERT INTO nodes (id, venue_id, display_name, os, status, created_at)
		VALUES (?, ?, ?, ?, 'offline', ?)
	`
	claimPairingSQL = `
		UPDATE node_pairing_codes SET venue_id = ?, node_id = ?, claimed_by = ?, claimed_at = ?
		WHERE code = ? AND claimed_at IS NULL AND expires_at > ?
	`
	completePairingSQL = `
		UPDATE node_pairing_codes SET completed_at = ?
		WHERE code = ? AND nonce = ? AND node_id IS NOT NULL AND completed_at IS NULL
	`
	selectPairingNodeSQL = `SELECT node_id FROM node_pairing_codes WHERE code = ?`
	upsertNodeTokenSQL   = `
		INSERT INTO node_tokens (node_id, token_hash, created_at) VALUES (?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET token_hash = excluded.token_hash, created_at = excluded.created_at
	`
)

func (r *PairingSQLite) Create(ctx context.Context, p models.PairingCode) error {
	if _, err := r.db.ExecContext(ctx, insertPairingSQL, p.Code, p.Nonce, ts(p.ExpiresAt)); err != nil {
		return fmt.Errorf("insert pairing code: %w", err)
	}
	return nil
}

// Get returns the pairing code or (nil, nil) if unknown.
func (r *PairingSQLite) Get(ctx context.Context, code string) (*models.PairingCode, error) {
	var (
		p                      models.PairingCode
		venueID, nodeID        sql.NullString
		claimedBy              sql.NullInt64
		claimedAt, completedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, selectPairingSQL, code).Scan(
		&p.Code, &p.Nonce, &venueID, &nodeID, &claimedBy, &p.ExpiresAt, &claimedAt, &completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select pairing code: %w", err)
	}
	p.VenueID = venueID.String
	p.NodeID = nodeID.String
	p.ClaimedBy = int(claimedBy.Int64)
	p.ExpiresAt = p.ExpiresAt.UTC()
	if claimedAt.Valid {
		t := claimedAt.Time.UTC()
		p.ClaimedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		p.CompletedAt = &t
	}
	return &p, nil
}

// Claim binds an unclaimed, unexpired code to a venue and creates the node
// record (offline). Returns false when the code cannot be claimed.
func (r *PairingSQLite) Claim(ctx context.Context, code string, node models.RelayNode, claimedBy int, at time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, claimPairingSQL, node.VenueID, node.ID, claimedBy, ts(at), code, ts(at))
	if err != nil {
		return false, fmt.Errorf("claim pairing code: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, insertNodeSQL, node.ID, node.VenueID, node.DisplayName, node.OS, ts(at)); err != nil {
		return false, fmt.Errorf("insert node %s: %w", node.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit claim: %w", err)
	}
	return true, nil
}

// Complete marks a claimed code completed and stores the node's token hash.
// It succeeds at most once per code.
func (r *PairingSQLite) Complete(ctx context.Context, code, nonce, tokenHash string, at time.Time) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin complete: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, completePairingSQL, ts(at), code, nonce)
	if err != nil {
		return false, fmt.Errorf("complete pairing code: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return false, err
	}

	var nodeID string
	if err := tx.QueryRowContext(ctx, selectPairingNodeSQL, code).Scan(&nodeID); err != nil {
		return false, fmt.Errorf("select paired node: %w", err)
	}
	if _, err := tx.ExecContext(ctx, upsertNodeTokenSQL, nodeID, tokenHash, ts(at)); err != nil {
		return false, fmt.Errorf("store token for node %s: %w", nodeID, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit complete: %w", err)
	}
	return true, nil
}
