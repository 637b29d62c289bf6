package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is one normalized inbound webhook occurrence. It is not modified after it is stored.
type Event struct {
	EventID    string    `json:"event_id"`
	Source     string    `json:"source"`
	Payload    any       `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
	SessionID  string    `json:"session_id,omitempty"`
}

// Inbound is the normalizer output before an id, timestamp and session are assigned.
type Inbound struct {
	EventID   string
	Source    string
	Payload   any
	SessionID string
}

// Summary is the reduced view of an event shown by the status endpoint.
type Summary struct {
	EventID    string    `json:"event_id"`
	Source     string    `json:"source"`
	ReceivedAt time.Time `json:"received_at"`
	Payload    any       `json:"payload"`
}

func (e Event) Summary() Summary {
	return Summary{EventID: e.EventID, Source: e.Source, ReceivedAt: e.ReceivedAt, Payload: e.Payload}
}

// NewID returns a fresh event identifier.
func NewID() string {
	return uuid.NewString()
}

// PayloadSize reports the number of top-level keys for objects, otherwise the JSON length.
func PayloadSize(payload any) int {
	if m, ok := payload.(map[string]any); ok {
		return len(m)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return 0
	}
	return len(b)
}
