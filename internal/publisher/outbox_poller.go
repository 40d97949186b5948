// Package publisher relays outbox events to Kafka.
package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/orders/repository"
	"github.com/segmentio/kafka-go"
)

const batchSize = 100

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Recorder counts publish outcomes per event type.
type Recorder interface {
	ObservePublish(eventType string, ok bool)
}

type nopRecorder struct{}

func (nopRecorder) ObservePublish(string, bool) {}

// OutboxPoller publishes unprocessed outbox rows in id order. Each event goes
// to the topic named after its type, keyed by order id.
type OutboxPoller struct {
	tick     time.Duration
	timeout  time.Duration
	repo     repository.OrderRepository
	writer   MessageWriter
	recorder Recorder
	log      *slog.Logger
}

// NewKafkaWriter builds a writer without a fixed topic; the poller sets the
// topic per message.
func NewKafkaWriter(brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func NewOutboxPoller(repo repository.OrderRepository, writer MessageWriter, tick time.Duration, log *slog.Logger) *OutboxPoller {
	if tick <= 0 {
		tick = time.Second
	}
	return &OutboxPoller{
		tick:     tick,
		timeout:  5 * time.Second,
		repo:     repo,
		writer:   writer,
		recorder: nopRecorder{},
		log:      log,
	}
}

func (p *OutboxPoller) WithRecorder(r Recorder) *OutboxPoller {
	p.recorder = r
	return p
}

func (p *OutboxPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to fetch outbox events", slog.Any("error", err))
		return
	}

	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.recorder.ObservePublish(event.EventType, false)
			p.log.WarnContext(ctx, "failed to publish outbox event",
				slog.Int64("event_id", event.ID),
				slog.String("event_type", event.EventType),
				slog.Any("error", err))
			// keep ordering per aggregate: stop at the first failure and retry next tick
			return
		}
		p.recorder.ObservePublish(event.EventType, true)

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.log.WarnContext(ctx, "failed to mark outbox event processed",
				slog.Int64("event_id", event.ID), slog.Any("error", err))
			return
		}
	}
}

func (p *OutboxPoller) publish(ctx context.Context, event *repository.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: event.EventType,
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
		Time: event.CreatedAt,
	})
}
