package messaging

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/echoes-blog/echoes/internal/config"
	"github.com/echoes-blog/echoes/internal/logging"
)

// NewBroker returns a KafkaBroker when KAFKA_BROKERS is set and an
// InMemoryBroker otherwise.
func NewBroker(cfg *config.Config, log logrus.FieldLogger) (Broker, error) {
	log = logging.OrDefault(log)
	if cfg.KafkaBrokers != "" {
		var brokers []string
		for _, b := range strings.Split(cfg.KafkaBrokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
		log.WithFields(logrus.Fields{"brokers": brokers, "group": cfg.KafkaConsumerGroup}).
			Info("messaging: using KafkaBroker")
		return NewKafkaBroker(KafkaConfig{
			Brokers:       brokers,
			ConsumerGroup: cfg.KafkaConsumerGroup,
			Logger:        log,
		})
	}

	log.Info("messaging: using InMemoryBroker (KAFKA_BROKERS not set)")
	return NewInMemoryBroker(log), nil
}
