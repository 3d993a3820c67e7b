package messaging

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/echoes-blog/echoes/internal/logging"
)

type subscription struct {
	id      string
	topic   string
	handler EventHandler
}

// InMemoryBroker is a single-process Broker backed by a channel and one
// dispatch goroutine. Events are delivered in publish order.
type InMemoryBroker struct {
	mu      sync.RWMutex
	subs    map[string][]subscription // topic -> subscriptions
	topics  map[string]string         // subscription id -> topic
	closed  bool
	eventCh chan topicEvent
	stop    chan struct{}
	done    chan struct{}
	log     logrus.FieldLogger
}

type topicEvent struct {
	topic string
	event Event
}

// NewInMemoryBroker creates and starts an InMemoryBroker; call Close to stop
// its dispatch goroutine.
func NewInMemoryBroker(log logrus.FieldLogger) *InMemoryBroker {
	return newInMemoryBroker(log, 1024)
}

func newInMemoryBroker(log logrus.FieldLogger, buffer int) *InMemoryBroker {
	b := &InMemoryBroker{
		subs:    make(map[string][]subscription),
		topics:  make(map[string]string),
		eventCh: make(chan topicEvent, buffer),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     logging.OrDefault(log),
	}
	go b.dispatch()
	return b
}

// Publish queues event for delivery. It blocks while the queue is full and
// never holds the subscription lock while doing so.
func (b *InMemoryBroker) Publish(topic string, event Event) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return fmt.Errorf("broker is closed")
	}

	select {
	case b.eventCh <- topicEvent{topic: topic, event: event}:
		return nil
	case <-b.stop:
		return fmt.Errorf("broker is closed")
	}
}

func (b *InMemoryBroker) Subscribe(topic string, handler EventHandler) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", fmt.Errorf("broker is closed")
	}

	id := uuid.New().String()
	b.subs[topic] = append(b.subs[topic], subscription{id: id, topic: topic, handler: handler})
	b.topics[id] = topic
	return id, nil
}

func (b *InMemoryBroker) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	topic, ok := b.topics[id]
	if !ok {
		return nil
	}
	delete(b.topics, id)

	subs := b.subs[topic]
	kept := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(b.subs, topic)
	} else {
		b.subs[topic] = kept
	}
	return nil
}

func (b *InMemoryBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.stop)
	b.mu.Unlock()

	<-b.done
	return nil
}

func (b *InMemoryBroker) dispatch() {
	defer close(b.done)

	for {
		select {
		case te := <-b.eventCh:
			b.fanOut(te)
		case <-b.stop:
			// Deliver what was queued before Close.
			for {
				select {
				case te := <-b.eventCh:
					b.fanOut(te)
				default:
					return
				}
			}
		}
	}
}

func (b *InMemoryBroker) fanOut(te topicEvent) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[te.topic]...)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, te.event)
	}
}

func (b *InMemoryBroker) deliver(s subscription, ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.log.WithFields(logrus.Fields{"topic": s.topic, "subscription": s.id, "panic": rec}).
				Error("messaging: subscriber panicked")
		}
	}()
	s.handler(ev)
}
