package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "orderpipe.order.events"
	TopicPaymentEvents   = "orderpipe.payment.events"
	TopicDeadLetterQueue = "orderpipe.dlq"
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OutboxEnvelope — формат сообщения, которое outbox публикует в TopicOrderEvents.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// PaymentEventMessage — уже нормализованное платёжное событие из TopicPaymentEvents.
// Такие события публикует доверенный шлюз, подпись не проверяется.
type PaymentEventMessage struct {
	Provider       string `json:"provider"`
	TransactionID  string `json:"transaction_id"`
	OrderID        string `json:"order_id"`
	AmountMinor    int64  `json:"amount_minor"`
	FeeMinor       int64  `json:"fee_minor"`
	Status         string `json:"status"`
	FailureMessage string `json:"failure_message,omitempty"`
}

// Normalized переводит сообщение в доменное событие.
func (m PaymentEventMessage) Normalized() domain.NormalizedEvent {
	return domain.NormalizedEvent{
		Provider:             strings.ToLower(strings.TrimSpace(m.Provider)),
		GatewayTransactionID: strings.TrimSpace(m.TransactionID),
		OrderID:              strings.TrimSpace(m.OrderID),
		AmountMinor:          m.AmountMinor,
		FeeMinor:             m.FeeMinor,
		Status:               m.Status,
		FailureMessage:       m.FailureMessage,
	}
}

// ParsePaymentEvent разбирает тело сообщения платёжного топика.
func ParsePaymentEvent(value []byte) (PaymentEventMessage, error) {
	var msg PaymentEventMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return PaymentEventMessage{}, fmt.Errorf("%w: %w", domain.ErrMalformedEvent, err)
	}
	return msg, nil
}

// ConsumerDLQMessage — сообщение, которое consumer отправляет в DLQ.
type ConsumerDLQMessage struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	Reason            string `json:"reason"`
	FailedAt          string `json:"failed_at"`
	Attempts          int    `json:"attempts"`
}
