package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/AnuragParashar2000/ShoeKart/internal/orders/repository"
	"github.com/AnuragParashar2000/ShoeKart/pkg/logger"
	"github.com/google/uuid"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
)

type MockWriter struct {
	mu       sync.Mutex
	Messages []kafkaGo.Message
	FailOn   int // 1-based index of the message to fail, 0 never
	calls    int
}

func (m *MockWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.FailOn == m.calls {
		return errors.New("broker unavailable")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

type countingRecorder struct {
	ok, failed int
}

func (c *countingRecorder) ObservePublish(_ string, ok bool) {
	if ok {
		c.ok++
	} else {
		c.failed++
	}
}

func seedOrder(t *testing.T, repo *repository.MemoryRepository) *domain.Order {
	t.Helper()
	o := &domain.Order{
		ID:             uuid.New(),
		UserID:         "u1",
		CheckoutKey:    uuid.NewString(),
		PaymentMethod:  domain.MethodCOD,
		Products:       []domain.OrderLine{{ProductID: "A", Quantity: 1, Size: 9, UnitPrice: decimal.NewFromInt(2000)}},
		Subtotal:       decimal.NewFromInt(2000),
		Total:          decimal.NewFromInt(2000),
		Currency:       "inr",
		DeliveryStatus: domain.DeliveryPending,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	ev, err := repository.NewOrderCreatedEvent(o)
	require.NoError(t, err)
	require.NoError(t, repo.CreateOrder(context.Background(), o, ev))
	return o
}

func unprocessed(t *testing.T, repo repository.OrderRepository) int {
	t.Helper()
	events, err := repo.GetUnprocessedEvents(context.Background(), 100)
	require.NoError(t, err)
	return len(events)
}

func TestOutboxPoller_PublishesAndMarks(t *testing.T) {
	repo := repository.NewMemoryRepository()
	o := seedOrder(t, repo)
	seedOrder(t, repo)

	writer := &MockWriter{}
	rec := &countingRecorder{}
	poller := NewOutboxPoller(repo, writer, time.Second, logger.Discard()).WithRecorder(rec)

	poller.processUnpublishedEvents(context.Background())

	require.Len(t, writer.Messages, 2)
	msg := writer.Messages[0]
	assert.Equal(t, "orders.created", msg.Topic)
	assert.Equal(t, o.ID.String(), string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)

	var envelope repository.EventEnvelope
	require.NoError(t, json.Unmarshal(msg.Value, &envelope))
	assert.Equal(t, repository.EventOrderCreated, envelope.Type)
	assert.Equal(t, "u1", envelope.UserID)

	assert.Equal(t, 0, unprocessed(t, repo))
	assert.Equal(t, 2, rec.ok)
}

func TestOutboxPoller_StopsAtFirstFailure(t *testing.T) {
	repo := repository.NewMemoryRepository()
	seedOrder(t, repo)
	seedOrder(t, repo)
	seedOrder(t, repo)

	writer := &MockWriter{FailOn: 2}
	rec := &countingRecorder{}
	poller := NewOutboxPoller(repo, writer, time.Second, logger.Discard()).WithRecorder(rec)

	poller.processUnpublishedEvents(context.Background())
	assert.Len(t, writer.Messages, 1)
	assert.Equal(t, 2, unprocessed(t, repo))
	assert.Equal(t, 1, rec.failed)

	// the next tick picks up where the last one stopped
	poller.processUnpublishedEvents(context.Background())
	assert.Len(t, writer.Messages, 3)
	assert.Equal(t, 0, unprocessed(t, repo))
}

func TestOutboxPoller_RunStopsOnCancel(t *testing.T) {
	repo := repository.NewMemoryRepository()
	seedOrder(t, repo)
	writer := &MockWriter{}
	poller := NewOutboxPoller(repo, writer, 10*time.Millisecond, logger.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- poller.Run(ctx) }()

	require.Eventually(t, func() bool { return unprocessed(t, repo) == 0 }, time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func setupKafka(t *testing.T) (string, func()) {
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}
	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestOutboxPoller_PublishesEventsToKafka(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping kafka integration test in short mode")
	}
	brokerAddr, cleanup := setupKafka(t)
	defer cleanup()

	createTopic(t, brokerAddr, repository.EventOrderCreated)
	time.Sleep(5 * time.Second)

	repo := repository.NewMemoryRepository()
	o := seedOrder(t, repo)

	writer := NewKafkaWriter(brokerAddr)
	defer writer.Close()
	poller := NewOutboxPoller(repo, writer, time.Second, logger.Discard())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	go func() { _ = poller.Run(ctx) }()

	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:  []string{brokerAddr},
		Topic:    repository.EventOrderCreated,
		GroupID:  "test-consumer",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, o.ID.String(), string(msg.Key))

	require.Eventually(t, func() bool { return unprocessed(t, repo) == 0 }, 5*time.Second, 100*time.Millisecond)
}
