package kafka

import (
	"context"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

// PaymentApplyFunc применяет нормализованное платёжное событие.
type PaymentApplyFunc func(ctx context.Context, event domain.NormalizedEvent) error

// NewPaymentEventHandler разбирает сообщения TopicPaymentEvents и передаёт их в apply.
// Повторяются только временные отказы (хранилище, конкурентная обработка, конфликт версий).
func NewPaymentEventHandler(apply PaymentApplyFunc) MessageHandler {
	logger := log.WithField("component", "kafka-payment-handler")

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		msg, err := ParsePaymentEvent(message.Value)
		if err != nil {
			return Permanent(err)
		}

		event := msg.Normalized()
		if err := apply(ctx, event); err != nil {
			reason := domain.ReasonCode(err)
			logger.WithError(err).WithFields(log.Fields{
				"provider":       event.Provider,
				"transaction_id": event.GatewayTransactionID,
				"reason":         reason,
			}).Warn("payment event not applied")

			switch reason {
			case domain.ReasonInternal, domain.ReasonInProgress, domain.ReasonVersionConflict:
				return err
			default:
				return Permanent(err)
			}
		}
		return nil
	}
}
