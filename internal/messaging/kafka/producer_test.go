package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)

	mockProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if msg.Topic != TopicPaymentEvents || string(key) != "order-123" {
			return errors.New("unexpected topic or key")
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != HeaderEventType {
			return errors.New("expected event type header")
		}
		return nil
	})

	event := PaymentEventMessage{Provider: "generic", TransactionID: "tx-1", OrderID: "order-123", Status: "paid"}
	err := producer.PublishEvent(context.Background(), TopicPaymentEvents, "order-123", event,
		sarama.RecordHeader{Key: []byte(HeaderEventType), Value: []byte("payment")})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)

	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := producer.PublishEvent(context.Background(), TopicOrderEvents, "order-123", map[string]string{"a": "b"})
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected broker error, got %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEventCancelledContext(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := producer.PublishEvent(ctx, TopicOrderEvents, "k", struct{}{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestProducer_PublishEventMarshalError(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	producer := NewProducerFromSync(mockProducer)

	if err := producer.PublishEvent(context.Background(), TopicOrderEvents, "k", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestParsePaymentEvent(t *testing.T) {
	msg, err := ParsePaymentEvent([]byte(`{"provider":" Acme ","transaction_id":" tx-1 ","order_id":"o-1","amount_minor":100,"status":"paid"}`))
	if err != nil {
		t.Fatalf("ParsePaymentEvent failed: %v", err)
	}
	event := msg.Normalized()
	if event.Provider != "acme" || event.GatewayTransactionID != "tx-1" || event.AmountMinor != 100 {
		t.Fatalf("unexpected normalized event: %+v", event)
	}

	if _, err := ParsePaymentEvent([]byte("{")); err == nil {
		t.Fatal("expected ParsePaymentEvent error")
	}
}
