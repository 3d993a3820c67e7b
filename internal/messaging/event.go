package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Topics published by the site itself.
const (
	TopicThemeUpdated     = "theme.updated"
	TopicPluginEnabled    = "plugin.enabled"
	TopicPluginDisabled   = "plugin.disabled"
	TopicPluginConfigured = "plugin.configured"
	TopicPluginMessage    = "plugin.message"
	TopicStepChanged      = "setup.step"
)

// SourceSystem marks events emitted by the site rather than a plugin.
const SourceSystem = "system"

type Event struct {
	ID        string          `json:"id"`
	Topic     string          `json:"topic"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent creates an Event with a generated UUID and the current time.
// payload is JSON-encoded; a nil payload is left empty.
func NewEvent(topic, source string, payload any) (Event, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("marshal payload: %w", err)
		}
		raw = data
	}
	return Event{
		ID:        uuid.New().String(),
		Topic:     topic,
		Source:    source,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.ID)
	}
	return json.Unmarshal(e.Payload, v)
}

// EventHandler is called for every event of a subscribed topic.
type EventHandler func(event Event)

// Emit builds an event and publishes it. A nil broker is a no-op.
func Emit(b Broker, topic, source string, payload any) error {
	if b == nil {
		return nil
	}
	ev, err := NewEvent(topic, source, payload)
	if err != nil {
		return err
	}
	return b.Publish(topic, ev)
}
