// Package messaging is the site's event bus. Plugins talk to each other
// through it and the live-reload hub listens to it.
package messaging

// Broker publishes events to topics and fans them out to subscribers.
// InMemoryBroker serves a single process; KafkaBroker lets several site
// processes share one bus.
type Broker interface {
	// Publish delivers event to every subscriber of topic, asynchronously.
	Publish(topic string, event Event) error

	// Subscribe registers handler for topic and returns the subscription ID.
	Subscribe(topic string, handler EventHandler) (string, error)

	// Unsubscribe stops delivery to a subscription. Unknown IDs are ignored.
	Unsubscribe(id string) error

	// Close releases the broker. Publish and Subscribe fail afterwards.
	Close() error
}
