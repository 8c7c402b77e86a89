package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orderpipe/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/orderpipe/internal/service/outbox"
)

type fakeOffsets struct {
	partitions []int32
	oldest     map[int32]int64
	newest     map[int32]int64
	err        error
}

func (f fakeOffsets) Partitions(string) ([]int32, error) { return f.partitions, f.err }

func (f fakeOffsets) GetOffset(_ string, partition int32, at int64) (int64, error) {
	if at == sarama.OffsetOldest {
		return f.oldest[partition], nil
	}
	return f.newest[partition], nil
}

// fakePartitionConsumer переопределяет только то, что использует replayer.
type fakePartitionConsumer struct {
	sarama.PartitionConsumer
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (f *fakePartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return f.messages }
func (f *fakePartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return f.errors }
func (f *fakePartitionConsumer) Close() error                             { return nil }

type fakeSource map[int32][]*sarama.ConsumerMessage

func (f fakeSource) ConsumePartition(_ string, partition int32, _ int64) (sarama.PartitionConsumer, error) {
	pc := &fakePartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage, len(f[partition])),
		errors:   make(chan *sarama.ConsumerError),
	}
	for _, msg := range f[partition] {
		pc.messages <- msg
	}
	close(pc.messages)
	return pc, nil
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func consumerDeadLetter(t *testing.T, offset int64) *sarama.ConsumerMessage {
	t.Helper()
	return &sarama.ConsumerMessage{Offset: offset, Value: mustJSON(t, kafka.ConsumerDLQMessage{
		OriginalTopic: kafka.TopicPaymentEvents,
		OriginalKey:   "order-1",
		OriginalValue: `{"provider":"acme","transaction_id":"tx-1","order_id":"order-1","status":"paid"}`,
		Attempts:      3,
	})}
}

func outboxDeadLetter(t *testing.T, offset int64) *sarama.ConsumerMessage {
	t.Helper()
	dead := outbox.DeadLetter{
		OutboxID:      "outbox-1",
		AggregateType: "order",
		AggregateID:   "order-1",
		EventType:     "order.created",
		Payload:       json.RawMessage(`{"order_id":"order-1"}`),
		PublishError:  "timeout",
	}
	return &sarama.ConsumerMessage{Offset: offset, Value: mustJSON(t, kafka.OutboxEnvelope{
		ID:          "outbox-1",
		AggregateID: "order-1",
		EventType:   "order.created",
		Payload:     mustJSON(t, dead),
	})}
}

func TestReadConfig(t *testing.T) {
	env := func(key string) string {
		if key == envKafkaBrokers {
			return " k1:9092, ,k2:9092 "
		}
		return ""
	}

	cfg, err := readConfig([]string{"-limit=5", "-execute"}, env)
	require.NoError(t, err)
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.brokers)
	require.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
	require.Equal(t, kafka.TopicOrderEvents, cfg.targetTopic)
	require.Equal(t, 5, cfg.limit)
	require.True(t, cfg.execute)

	noEnv := func(string) string { return "" }
	_, err = readConfig(nil, noEnv)
	require.ErrorContains(t, err, "kafka brokers are required")
	_, err = readConfig([]string{"-brokers=k1", "-limit=0"}, noEnv)
	require.ErrorContains(t, err, "limit must be > 0")
	_, err = readConfig([]string{"-brokers=k1", "-idle-timeout=0s"}, noEnv)
	require.ErrorContains(t, err, "idle-timeout must be > 0")
}

func TestExtractReplayMessage_ConsumerDeadLetter(t *testing.T) {
	got, ok, err := extractReplayMessage(consumerDeadLetter(t, 0), kafka.TopicOrderEvents)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, kafka.TopicPaymentEvents, got.topic)
	require.Equal(t, "order-1", got.key)
	require.Equal(t, 3, got.attempts)
	require.JSONEq(t, `{"provider":"acme","transaction_id":"tx-1","order_id":"order-1","status":"paid"}`, string(got.value))
}

func TestExtractReplayMessage_OutboxDeadLetter(t *testing.T) {
	got, ok, err := extractReplayMessage(outboxDeadLetter(t, 0), "orders-replay")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "orders-replay", got.topic)
	require.Equal(t, "order-1", got.key)

	var envelope kafka.OutboxEnvelope
	require.NoError(t, json.Unmarshal(got.value, &envelope))
	require.Equal(t, "outbox-1", envelope.ID)
	require.Equal(t, "order", envelope.AggregateType)
	require.Equal(t, "order.created", envelope.EventType)
	require.JSONEq(t, `{"order_id":"order-1"}`, string(envelope.Payload))
}

func TestExtractReplayMessage_Unsupported(t *testing.T) {
	_, ok, err := extractReplayMessage(&sarama.ConsumerMessage{Value: []byte("not-json")}, kafka.TopicOrderEvents)
	require.NoError(t, err)
	require.False(t, ok)

	broken := mustJSON(t, kafka.ConsumerDLQMessage{OriginalValue: `{"a":1}`})
	_, _, err = extractReplayMessage(&sarama.ConsumerMessage{Value: broken}, kafka.TopicOrderEvents)
	require.ErrorContains(t, err, "no original topic")

	empty := mustJSON(t, kafka.OutboxEnvelope{ID: "x", Payload: json.RawMessage(`{"outbox_id":"x"}`)})
	_, _, err = extractReplayMessage(&sarama.ConsumerMessage{Value: empty}, kafka.TopicOrderEvents)
	require.ErrorContains(t, err, "no original payload")
}

func newTestReplayer(t *testing.T, cfg config, producer publisher) *replayer {
	t.Helper()
	return &replayer{
		cfg: cfg,
		offsets: fakeOffsets{
			partitions: []int32{1, 0},
			oldest:     map[int32]int64{0: 0, 1: 0},
			newest:     map[int32]int64{0: 2, 1: 1},
		},
		source: fakeSource{
			0: {consumerDeadLetter(t, 0), {Offset: 1, Value: []byte("garbage")}},
			1: {outboxDeadLetter(t, 0)},
		},
		producer: producer,
		logger:   log.WithField("component", "dlq-reprocess-test"),
	}
}

func TestReplayer_DryRun(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderEvents, limit: 10, idleTimeout: time.Second}

	stats, err := newTestReplayer(t, cfg, nil).run(context.Background())
	require.NoError(t, err)
	require.Equal(t, replayStats{processed: 3, replayed: 2, skipped: 1}, stats)
}

func TestReplayer_ExecutePublishesToOriginalTopics(t *testing.T) {
	syncProducer := mocks.NewSyncProducer(t, nil)
	var topics []string
	checker := func(msg *sarama.ProducerMessage) error {
		topics = append(topics, msg.Topic)
		if msg.Topic == kafka.TopicPaymentEvents {
			require.Len(t, msg.Headers, 1)
			require.Equal(t, kafka.HeaderRetryCount, string(msg.Headers[0].Key))
			require.Equal(t, "3", string(msg.Headers[0].Value))
		}
		return nil
	}
	syncProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(checker)
	syncProducer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(checker)

	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderEvents, limit: 10, idleTimeout: time.Second, execute: true}
	producer := kafka.NewProducerFromSync(syncProducer)
	defer func() { _ = producer.Close() }()

	stats, err := newTestReplayer(t, cfg, producer).run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stats.replayed)
	require.Equal(t, []string{kafka.TopicPaymentEvents, kafka.TopicOrderEvents}, topics)
}

func TestReplayer_RespectsLimit(t *testing.T) {
	cfg := config{sourceTopic: kafka.TopicDeadLetterQueue, targetTopic: kafka.TopicOrderEvents, limit: 1, idleTimeout: time.Second}

	stats, err := newTestReplayer(t, cfg, nil).run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.processed)
}

func TestReplayer_ExecuteRequiresProducer(t *testing.T) {
	cfg := config{limit: 1, idleTimeout: time.Second, execute: true}
	_, err := newTestReplayer(t, cfg, nil).run(context.Background())
	require.Error(t, err)
}

func TestReplayer_PartitionsError(t *testing.T) {
	r := newTestReplayer(t, config{limit: 1, idleTimeout: time.Second}, nil)
	r.offsets = fakeOffsets{err: errors.New("broker down")}
	_, err := r.run(context.Background())
	require.ErrorContains(t, err, "broker down")
}
