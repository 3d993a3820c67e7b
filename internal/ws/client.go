package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// writeWait is the maximum time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// pongWait is the maximum time to wait for a pong reply from the peer.
	pongWait = 60 * time.Second
	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize is the maximum inbound message size in bytes.
	maxMessageSize = 4096
)

// controlMessage is the JSON envelope a page sends to subscribe or
// unsubscribe from a topic.
type controlMessage struct {
	Action string `json:"action"` // "subscribe" | "unsubscribe"
	Topic  string `json:"topic"`
}

// ack answers every control message.
type ack struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

// Client represents a single WebSocket connection.
type Client struct {
	ID            string
	conn          *websocket.Conn
	subscriptions map[string]bool
	subMu         sync.RWMutex
	send          chan []byte
	sendMu        sync.Mutex
	closed        bool
	hub           *Hub
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:            uuid.New().String(),
		conn:          conn,
		subscriptions: make(map[string]bool),
		send:          make(chan []byte, 256),
		hub:           hub,
	}
}

// IsSubscribed reports whether this client is subscribed to topic.
func (c *Client) IsSubscribed(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subscriptions[topic]
}

// handleControl applies one control message and returns the reply.
func (c *Client) handleControl(msg []byte) ack {
	var cm controlMessage
	if err := json.Unmarshal(msg, &cm); err != nil {
		return ack{Error: "invalid control message"}
	}
	reply := ack{Action: cm.Action, Topic: cm.Topic}
	if !c.hub.Accepts(cm.Topic) {
		reply.Error = "unknown topic"
		return reply
	}

	switch cm.Action {
	case "subscribe":
		c.subMu.Lock()
		c.subscriptions[cm.Topic] = true
		c.subMu.Unlock()
	case "unsubscribe":
		c.subMu.Lock()
		delete(c.subscriptions, cm.Topic)
		c.subMu.Unlock()
	default:
		reply.Error = "unknown action"
		return reply
	}
	reply.OK = true
	return reply
}

func (c *Client) reply(a ack) {
	data, err := json.Marshal(a)
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend queues data without blocking. It reports false when the client is
// closed or its buffer is full.
func (c *Client) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ReadPump pumps control messages from the connection. It runs in its own
// goroutine per client.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).WithField("client", c.ID).Debug("ws: read error")
			}
			break
		}
		c.reply(c.handleControl(msg))
	}
}

// WritePump pumps messages from the send channel to the connection. It runs
// in its own goroutine per client.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
