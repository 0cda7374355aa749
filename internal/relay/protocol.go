// Package relay carries cue payloads between the cloud and on-prem relay
// nodes over authenticated websocket sessions.
package relay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quickpayplatform/autocue/internal/models"
	"github.com/quickpayplatform/autocue/internal/osc"
)

// ProtocolVersion is stamped on every envelope.
const ProtocolVersion = 1

// Message types.
const (
	TypeCueExecute    = "cue.execute"
	TypeOSCSend       = "osc.send"
	TypeHeartbeat     = "node.heartbeat"
	TypeHello         = "node.hello"
	TypeCommandResult = "command.result"
)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	ProtocolVersion int             `json:"protocolVersion"`
	ID              string          `json:"id"`
	TS              time.Time       `json:"ts"`
	Type            string          `json:"type"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// CueExecute asks a node to replay a full batch and report the outcome over HTTP.
type CueExecute struct {
	CueID    string        `json:"cueId"`
	Commands []osc.Command `json:"commands"`
}

// Hello is sent by a node right after connecting.
type Hello struct {
	NodeID  string `json:"nodeId"`
	Version string `json:"version"`
}

// CommandResult answers an osc.send (correlated by ID) over the socket.
type CommandResult struct {
	ID    string `json:"id"`
	CueID string `json:"cueId,omitempty"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// CueResult is the body of the HTTP result callback for a cue.execute.
type CueResult struct {
	OK        bool   `json:"ok"`
	SentCount *int   `json:"sentCount,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Heartbeat is the payload of node.heartbeat.
type Heartbeat = models.Heartbeat

// NewEnvelope wraps payload with a fresh id and timestamp.
func NewEnvelope(typ string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return Envelope{
		ProtocolVersion: ProtocolVersion,
		ID:              uuid.NewString(),
		TS:              time.Now().UTC(),
		Type:            typ,
		Payload:         raw,
	}, nil
}

// Decode unmarshals the envelope payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
