package models

import "time"

// Audit event types written against a cue.
const (
	AuditSubmitted      = "SUBMITTED"
	AuditApproved       = "APPROVED"
	AuditRejected       = "REJECTED"
	AuditExecuteAttempt = "EXECUTE_ATTEMPT"
	AuditExecuted       = "EXECUTED"
	AuditExecutionError = "EXECUTION_ERROR"
	AuditFailed         = "FAILED"
	AuditNodeSend       = "NODE_SEND"
	AuditNodeResult     = "NODE_RESULT"

	// AuditCommandResult records a command.result frame. It never ends a
	// relay wait; only the HTTP result callback does.
	AuditCommandResult = "COMMAND_RESULT"
)

// AuditEntry is a single append-only audit log row.
type AuditEntry struct {
	ID        string    `json:"id"`
	CueID     string    `json:"cue_id"`
	VenueID   string    `json:"venue_id,omitempty"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Metadata  any       `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
