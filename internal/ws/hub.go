// Package ws pushes site events to browsers over WebSocket so open pages can
// reload after a theme or plugin change.
package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/echoes-blog/echoes/internal/logging"
	"github.com/echoes-blog/echoes/internal/messaging"
)

// LiveTopics are the broker topics forwarded to browsers by default.
var LiveTopics = []string{
	messaging.TopicThemeUpdated,
	messaging.TopicPluginEnabled,
	messaging.TopicPluginDisabled,
	messaging.TopicPluginConfigured,
	messaging.TopicStepChanged,
}

// Hub manages the lifecycle of WebSocket clients and broadcasts events to
// subscribers. It is safe for concurrent use.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg
	topics     map[string]bool
	done       chan struct{}
	mu         sync.RWMutex
	log        logrus.FieldLogger
}

type broadcastMsg struct {
	topic string
	data  []byte
}

// NewHub allocates a Hub that accepts subscriptions to topics. Call Run in a
// goroutine to start the event loop.
func NewHub(log logrus.FieldLogger, topics ...string) *Hub {
	if len(topics) == 0 {
		topics = LiveTopics
	}
	known := make(map[string]bool, len(topics))
	for _, t := range topics {
		known[t] = true
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan broadcastMsg, 256),
		topics:     known,
		done:       make(chan struct{}),
		log:        logging.OrDefault(log),
	}
}

// Run is the hub's event loop. It returns when ctx is done, after closing
// every client's send channel.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, client := range h.clients {
				client.closeSend()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.log.WithField("client", client.ID).Debug("ws: client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID]; ok {
				delete(h.clients, client.ID)
				client.closeSend()
			}
			h.mu.Unlock()
			h.log.WithField("client", client.ID).Debug("ws: client unregistered")

		case msg := <-h.broadcast:
			h.mu.RLock()
			for _, client := range h.clients {
				if client.IsSubscribed(msg.topic) {
					// Slow consumers drop the message.
					client.trySend(msg.data)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Accepts reports whether clients may subscribe to topic.
func (h *Hub) Accepts(topic string) bool {
	return h.topics[topic]
}

// Broadcast encodes event as JSON and enqueues it for every client
// subscribed to its topic.
func (h *Hub) Broadcast(event messaging.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).Warn("ws: failed to marshal event")
		return
	}
	select {
	case h.broadcast <- broadcastMsg{topic: event.Topic, data: data}:
	case <-h.done:
	}
}

// Forward subscribes the hub to every accepted topic on broker. The returned
// func removes those subscriptions.
func (h *Hub) Forward(broker messaging.Broker) (func(), error) {
	var ids []string
	stop := func() {
		for _, id := range ids {
			_ = broker.Unsubscribe(id)
		}
	}
	for topic := range h.topics {
		id, err := broker.Subscribe(topic, h.Broadcast)
		if err != nil {
			stop()
			return nil, err
		}
		ids = append(ids, id)
	}
	return stop, nil
}

// Register enqueues a new client for addition to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.closeSend()
	}
}

// Unregister enqueues a client for removal from the hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
