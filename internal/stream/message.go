package stream

import (
	"encoding/json"
	"time"

	"github.com/secureflow/backend/internal/models"
)

// MessageType discriminates live messages.
type MessageType string

const (
	// MessageSnapshot is sent once, first, to every new subscriber.
	MessageSnapshot MessageType = "snapshot"
	// MessageRecord carries one successful store write.
	MessageRecord MessageType = "record"
	// MessagePulse is a liveness beat independent of writes.
	MessagePulse MessageType = "pulse"
)

// Message is what subscribers receive, in queue order.
type Message struct {
	Type MessageType `json:"type"`
	// Seq is the publish sequence. Snapshots carry the sequence they
	// reflect, so the first record after a snapshot has Seq+1.
	Seq     uint64             `json:"seq"`
	Records []models.LogRecord `json:"records,omitempty"`
	Record  *models.LogRecord  `json:"record,omitempty"`
	At      time.Time          `json:"at"`
}

// MarshalJSON always includes records on a snapshot, as [] when the
// cache is empty. Other message types omit it.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire Message
	if m.Type != MessageSnapshot {
		return json.Marshal(wire(m))
	}
	recs := m.Records
	if recs == nil {
		recs = []models.LogRecord{}
	}
	return json.Marshal(struct {
		wire
		Records []models.LogRecord `json:"records"`
	}{wire: wire(m), Records: recs})
}
