package publisher

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps every event leaving the process.
type Envelope struct {
	ID        uuid.UUID       `json:"id"`
	Topic     string          `json:"topic"`
	EventType string          `json:"event_type"`
	Version   string          `json:"version"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload and derives the event type from the topic
// ("evt.checks.snapshot.refreshed.v1" → "checks.snapshot.refreshed").
func NewEnvelope(topic, source string, payload any, at time.Time) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	eventType, version := splitTopic(topic)
	return Envelope{
		ID:        uuid.New(),
		Topic:     topic,
		EventType: eventType,
		Version:   version,
		Source:    source,
		Timestamp: at.UTC(),
		Payload:   data,
	}, nil
}

func splitTopic(topic string) (eventType, version string) {
	t := strings.TrimPrefix(topic, "evt.")
	if i := strings.LastIndex(t, ".v"); i > 0 {
		return t[:i], t[i+2:] + ".0.0"
	}
	return t, "1.0.0"
}
