package models

import "time"

// Relay node lifecycle states.
const (
	NodeStatusOffline = "offline"
	NodeStatusOnline  = "online"
)

// RelayNode is an on-prem process bridging the cloud to a venue console.
type RelayNode struct {
	ID               string     `json:"id"`
	VenueID          string     `json:"venue_id"`
	DisplayName      string     `json:"display_name"`
	OS               string     `json:"os"`
	Version          string     `json:"version,omitempty"`
	Status           string     `json:"status"`
	ConsoleReachable bool       `json:"console_reachable"`
	ConsoleIP        string     `json:"console_ip,omitempty"`
	OSCMode          string     `json:"osc_mode,omitempty"`
	LastSeenAt       *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// NodeToken binds a node to the bcrypt hash of its bearer credential.
type NodeToken struct {
	NodeID    string
	TokenHash string `json:"-"`
}

// Heartbeat is the status a node reports periodically.
type Heartbeat struct {
	Version          string `json:"version,omitempty"`
	OS               string `json:"os,omitempty"`
	Status           string `json:"status,omitempty"`
	ConsoleReachable bool   `json:"consoleReachable"`
	ConsoleIP        string `json:"consoleIp,omitempty"`
	OSCMode          string `json:"oscMode,omitempty"`
	LastError        string `json:"lastError,omitempty"`
}

// PairingCode is a short-lived code used once to pair a node.
type PairingCode struct {
	Code        string     `json:"code"`
	Nonce       string     `json:"-"`
	VenueID     string     `json:"venue_id,omitempty"`
	NodeID      string     `json:"node_id,omitempty"`
	ClaimedBy   int        `json:"claimed_by,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
