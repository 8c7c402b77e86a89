package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderpipe/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderpipe/internal/version"
)

// initKafkaProducer создаёт producer. Пустой список брокеров — Kafka выключена (nil, nil).
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, version.ClientID("producer"))
	if err != nil {
		return nil, err
	}
	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initPaymentConsumer подписывает конвейер на нормализованные платёжные события.
// Необработанные сообщения уходят в DLQ через dlq.
func initPaymentConsumer(cfg Config, apply kafka.PaymentApplyFunc, dlq *kafka.Producer, logger *log.Entry) (*kafka.Consumer, error) {
	brokers := cfg.KafkaBrokerList()
	if len(brokers) == 0 {
		return nil, nil
	}

	options := []kafka.ConsumerOption{kafka.WithMaxRetries(cfg.OutboxMaxAttempts)}
	if dlq != nil {
		options = append(options, kafka.WithDLQ(dlq, kafka.TopicDeadLetterQueue))
	}
	consumer, err := kafka.NewConsumer(brokers, cfg.KafkaGroupID, []string{kafka.TopicPaymentEvents}, kafka.NewPaymentEventHandler(apply), options...)
	if err != nil {
		return nil, fmt.Errorf("init payment consumer: %w", err)
	}
	logger.WithFields(log.Fields{
		"group": cfg.KafkaGroupID,
		"topic": kafka.TopicPaymentEvents,
	}).Info("payment event consumer initialized")
	return consumer, nil
}

// closeKafkaProducer закрывает producer, если он есть.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}
