package models

import "time"

// CueStatus is the lifecycle state of a cue.
type CueStatus string

const (
	CueStatusPending  CueStatus = "PENDING"
	CueStatusApproved CueStatus = "APPROVED"
	CueStatusExecuted CueStatus = "EXECUTED"
	CueStatusRejected CueStatus = "REJECTED"
	CueStatusFailed   CueStatus = "FAILED"
)

// Terminal reports whether no further transition is possible.
func (s CueStatus) Terminal() bool {
	switch s {
	case CueStatusExecuted, CueStatusRejected, CueStatusFailed:
		return true
	}
	return false
}

// Cue is a numbered lighting state change to be recorded on the console.
type Cue struct {
	ID            string       `json:"id"`
	VenueID       string       `json:"venue_id"`
	CueNumber     int          `json:"cue_number"`
	CueList       int          `json:"cue_list"`
	FadeTime      float64      `json:"fade_time"` // seconds
	Notes         string       `json:"notes,omitempty"`
	ApprovalLabel string       `json:"approval_label,omitempty"`
	Status        CueStatus    `json:"status"`
	SubmittedBy   int          `json:"submitted_by,omitempty"`
	ApprovedBy    int          `json:"approved_by,omitempty"`
	Channels      []CueChannel `json:"channels,omitempty"`
	ExecutedAt    *time.Time   `json:"executed_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// CueChannel is one (channel, level) pair. Level is a percentage 0..100.
type CueChannel struct {
	Channel int `json:"channel"`
	Level   int `json:"level"`
}
