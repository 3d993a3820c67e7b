package plugin

import (
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/echoes-blog/echoes/internal/logging"
	"github.com/echoes-blog/echoes/internal/messaging"
)

// Message is the payload of a plugin.message event. An empty To reaches
// every listening plugin.
type Message struct {
	From string          `json:"from"`
	To   string          `json:"to,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Messenger lets plugins talk to each other over the event broker.
type Messenger struct {
	broker messaging.Broker
	log    logrus.FieldLogger
}

func NewMessenger(broker messaging.Broker, log logrus.FieldLogger) *Messenger {
	return &Messenger{broker: broker, log: logging.OrDefault(log)}
}

// Send publishes data from one plugin to another.
func (m *Messenger) Send(from, to string, data any) error {
	if m == nil || m.broker == nil {
		return fmt.Errorf("no message broker configured")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode message from %q: %w", from, err)
	}
	return messaging.Emit(m.broker, messaging.TopicPluginMessage, from, Message{From: from, To: to, Data: raw})
}

// Listen delivers messages addressed to name, or to everyone, excluding the
// plugin's own. The returned func stops delivery.
func (m *Messenger) Listen(name string, fn func(Message)) (func(), error) {
	if m == nil || m.broker == nil {
		return func() {}, nil
	}
	id, err := m.broker.Subscribe(messaging.TopicPluginMessage, func(ev messaging.Event) {
		var msg Message
		if err := ev.Decode(&msg); err != nil {
			m.log.WithError(err).WithField("event", ev.ID).Warn("dropping malformed plugin message")
			return
		}
		if msg.From == name || (msg.To != "" && msg.To != name) {
			return
		}
		fn(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe %q to plugin messages: %w", name, err)
	}
	return func() {
		if err := m.broker.Unsubscribe(id); err != nil {
			m.log.WithError(err).WithField("plugin", name).Warn("failed to unsubscribe plugin")
		}
	}, nil
}
