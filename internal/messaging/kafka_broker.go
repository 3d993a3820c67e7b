package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/echoes-blog/echoes/internal/logging"
)

type KafkaConfig struct {
	Brokers       []string
	ConsumerGroup string
	Logger        logrus.FieldLogger
}

// KafkaBroker implements Broker on Apache Kafka via segmentio/kafka-go.
type KafkaBroker struct {
	config  KafkaConfig
	writer  *kafka.Writer
	mu      sync.Mutex
	readers map[string]*kafkaSubscription
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	log     logrus.FieldLogger
}

type kafkaSubscription struct {
	id      string
	reader  *kafka.Reader
	handler EventHandler
	cancel  context.CancelFunc
}

// NewKafkaBroker creates a broker with a shared producer. Each Subscribe
// starts its own consumer.
func NewKafkaBroker(config KafkaConfig) (*KafkaBroker, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "echoes-site"
	}

	ctx, cancel := context.WithCancel(context.Background())

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Balancer:               &kafka.LeastBytes{},
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}

	return &KafkaBroker{
		config:  config,
		writer:  writer,
		readers: make(map[string]*kafkaSubscription),
		ctx:     ctx,
		cancel:  cancel,
		log:     logging.OrDefault(config.Logger),
	}, nil
}

func (b *KafkaBroker) Publish(topic string, event Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("broker is closed")
	}
	b.mu.Unlock()

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(event.ID),
		Value: value,
	}

	if err := b.writer.WriteMessages(b.ctx, msg); err != nil {
		return fmt.Errorf("write to kafka: %w", err)
	}
	return nil
}

func (b *KafkaBroker) Subscribe(topic string, handler EventHandler) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", fmt.Errorf("broker is closed")
	}

	id := uuid.New().String()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.config.Brokers,
		Topic:    topic,
		GroupID:  b.config.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
		MaxWait:  500 * time.Millisecond,
	})

	subCtx, subCancel := context.WithCancel(b.ctx)
	sub := &kafkaSubscription{
		id:      id,
		reader:  reader,
		handler: handler,
		cancel:  subCancel,
	}
	b.readers[id] = sub

	go b.consumeLoop(subCtx, sub)

	return id, nil
}

func (b *KafkaBroker) Unsubscribe(id string) error {
	b.mu.Lock()
	sub, ok := b.readers[id]
	delete(b.readers, id)
	b.mu.Unlock()

	if !ok {
		return nil
	}
	sub.cancel()
	return sub.reader.Close()
}

func (b *KafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	b.closed = true
	b.cancel()

	var errs []error
	for _, sub := range b.readers {
		sub.cancel()
		if err := sub.reader.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (b *KafkaBroker) consumeLoop(ctx context.Context, sub *kafkaSubscription) {
	log := b.log.WithField("subscription", sub.id)
	for {
		msg, err := sub.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Warn("messaging: kafka read failed")
			continue
		}

		var event Event
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.WithError(err).Warn("messaging: dropping undecodable kafka message")
			continue
		}

		sub.handler(event)
	}
}
