package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/messaging/kafka"
)

// eventPublishers — паблишеры outbox для основного topic и DLQ.
type eventPublishers struct {
	events *kafka.OutboxTopicPublisher
	dlq    *kafka.OutboxTopicPublisher
}

// initKafkaProducer создаёт producer, если заданы брокеры. Пустой список — nil, nil.
func initKafkaProducer(brokers []string, clientID string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, clientID)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, outbox stays pending")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

func newEventPublishers(producer *kafka.Producer, cfg Config) eventPublishers {
	if producer == nil {
		return eventPublishers{}
	}
	return eventPublishers{
		events: kafka.NewOutboxPublisher(producer, cfg.KafkaTopic),
		dlq:    kafka.NewOutboxPublisher(producer, cfg.KafkaDLQTopic),
	}
}

// closeKafka закрывает producer, если он был создан.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
