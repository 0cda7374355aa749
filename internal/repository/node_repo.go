package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quickpayplatform/autocue/internal/models"
)

type NodeSQLite struct {
	db *sql.DB
}

func NewNodeSQLite(db *sql.DB) *NodeSQLite { return &NodeSQLite{db: db} }

var _ NodeRepo = (*NodeSQLite)(nil)

const (
	nodeColumns = `id, venue_id, display_name, os, version, status, console_reachable, console_ip, osc_mode, last_seen_at, created_at`

	selectNodeSQL         = `SELECT ` + nodeColumns + ` FROM nodes WHERE id = ?`
	selectNodesByVenueSQL = `SELECT ` + nodeColumns + ` FROM nodes WHERE venue_id = ? ORDER BY created_at ASC`
	countNodesByVenueSQL  = `SELECT COUNT(1) FROM nodes WHERE venue_id = ?`
	selectRecentOnlineSQL = `
		SELECT ` + nodeColumns + ` FROM nodes
		WHERE venue_id = ? AND status = 'online'
		ORDER BY last_seen_at DESC LIMIT 1
	`
	selectNodeTokensSQL = `SELECT node_id, token_hash FROM node_tokens`
	updateNodeStatusSQL = `UPDATE nodes SET status = ?, last_seen_at = ? WHERE id = ?`
	updateHeartbeatSQL  = `
		UPDATE nodes SET status = 'online', version = COALESCE(NULLIF(?, ''), version),
			os = COALESCE(NULLIF(?, ''), os), console_reachable = ?, console_ip = ?, osc_mode = ?, last_seen_at = ?
		WHERE id = ?
	`
	resetOnlineSQL = `UPDATE nodes SET status = 'offline' WHERE status <> 'offline'`
)

// Get returns the node or (nil, nil) if not found.
func (r *NodeSQLite) Get(ctx context.Context, id string) (*models.RelayNode, error) {
	n, err := scanNode(r.db.QueryRowContext(ctx, selectNodeSQL, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select node %s: %w", id, err)
	}
	return n, nil
}

func (r *NodeSQLite) ListByVenue(ctx context.Context, venueID string) ([]models.RelayNode, error) {
	rows, err := r.db.QueryContext(ctx, selectNodesByVenueSQL, venueID)
	if err != nil {
		return nil, fmt.Errorf("list nodes for venue %s: %w", venueID, err)
	}
	defer rows.Close()

	out := make([]models.RelayNode, 0, 4)
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CountByVenue counts paired nodes for the venue regardless of status.
func (r *NodeSQLite) CountByVenue(ctx context.Context, venueID string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, countNodesByVenueSQL, venueID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count nodes for venue %s: %w", venueID, err)
	}
	return n, nil
}

// MostRecentOnline picks the online node with the freshest last-seen, or (nil, nil).
func (r *NodeSQLite) MostRecentOnline(ctx context.Context, venueID string) (*models.RelayNode, error) {
	n, err := scanNode(r.db.QueryRowContext(ctx, selectRecentOnlineSQL, venueID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select online node for venue %s: %w", venueID, err)
	}
	return n, nil
}

func (r *NodeSQLite) ListTokens(ctx context.Context) ([]models.NodeToken, error) {
	rows, err := r.db.QueryContext(ctx, selectNodeTokensSQL)
	if err != nil {
		return nil, fmt.Errorf("list node tokens: %w", err)
	}
	defer rows.Close()

	var out []models.NodeToken
	for rows.Next() {
		var t models.NodeToken
		if err := rows.Scan(&t.NodeID, &t.TokenHash); err != nil {
			return nil, fmt.Errorf("scan node token: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *NodeSQLite) SetStatus(ctx context.Context, nodeID, status string, seenAt time.Time) error {
	if _, err := r.db.ExecContext(ctx, updateNodeStatusSQL, status, ts(seenAt), nodeID); err != nil {
		return fmt.Errorf("set node %s %s: %w", nodeID, status, err)
	}
	return nil
}

// RecordHeartbeat marks the node online and stores the reported console state.
func (r *NodeSQLite) RecordHeartbeat(ctx context.Context, nodeID string, hb models.Heartbeat, seenAt time.Time) error {
	if _, err := r.db.ExecContext(ctx, updateHeartbeatSQL,
		hb.Version, hb.OS, hb.ConsoleReachable, hb.ConsoleIP, hb.OSCMode, ts(seenAt), nodeID,
	); err != nil {
		return fmt.Errorf("record heartbeat for node %s: %w", nodeID, err)
	}
	return nil
}

// ResetOnline marks every node offline. Run once at startup since no
// session survives a restart.
func (r *NodeSQLite) ResetOnline(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, resetOnlineSQL)
	if err != nil {
		return 0, fmt.Errorf("reset node status: %w", err)
	}
	return res.RowsAffected()
}

func scanNode(s rowScanner) (*models.RelayNode, error) {
	var (
		n        models.RelayNode
		lastSeen sql.NullTime
	)
	if err := s.Scan(&n.ID, &n.VenueID, &n.DisplayName, &n.OS, &n.Version, &n.Status,
		&n.ConsoleReachable, &n.ConsoleIP, &n.OSCMode, &lastSeen, &n.CreatedAt); err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		t := lastSeen.Time.UTC()
		n.LastSeenAt = &t
	}
	n.CreatedAt = n.CreatedAt.UTC()
	return &n, nil
}
