// Package consumer applies delivery status updates from the fulfillment topic.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/AnuragParashar2000/ShoeKart/internal/orders"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	Topic   = "fulfillment-updates"
	GroupID = "shoekart-orders"
)

// FulfillmentUpdate is the message shape published by the warehouse.
type FulfillmentUpdate struct {
	OrderID        string `json:"order_id"`
	DeliveryStatus string `json:"delivery_status"`
	Reason         string `json:"reason,omitempty"`
}

// MessageReader is satisfied by *kafka.Reader. Offsets are committed
// explicitly once a message is settled.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Orders interface {
	Advance(ctx context.Context, id uuid.UUID, to domain.DeliveryStatus) (*domain.Order, error)
	Cancel(ctx context.Context, req orders.CancelRequest) (*domain.Order, error)
}

type Consumer struct {
	orders  Orders
	reader  MessageReader
	log     *slog.Logger
	backOff func() backoff.BackOff
}

func NewKafkaReader(brokers ...string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    Topic,
		GroupID:  GroupID,
		MaxBytes: 10e6, // 10MB
	})
}

func NewConsumer(orders Orders, reader MessageReader, log *slog.Logger) *Consumer {
	return &Consumer{orders: orders, reader: reader, log: log, backOff: defaultBackOff}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0
	return b
}

func (c *Consumer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		c.processMessage(ctx)
	}
}

func (c *Consumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.log.Error("error closing kafka reader", slog.Any("error", err))
	}
}

func (c *Consumer) processMessage(ctx context.Context) {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			return
		}
		c.log.ErrorContext(ctx, "error reading message", slog.Any("error", err))
		return
	}

	settled := false
	err = backoff.RetryNotify(func() error {
		err := c.apply(ctx, m.Value)
		if err == nil || permanent(err) {
			settled = true
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(c.backOff(), ctx), func(err error, wait time.Duration) {
		c.log.WarnContext(ctx, "fulfillment update failed, retrying",
			slog.Int64("offset", m.Offset), slog.Duration("wait", wait), slog.Any("error", err))
	})
	if !settled {
		// uncommitted; the group hands it out again after a restart
		return
	}
	if err != nil {
		c.log.WarnContext(ctx, "fulfillment update dropped",
			slog.Int64("offset", m.Offset), slog.Any("error", err))
	}
	if err := c.reader.CommitMessages(context.WithoutCancel(ctx), m); err != nil {
		c.log.ErrorContext(ctx, "error committing offset",
			slog.Int64("offset", m.Offset), slog.Any("error", err))
	}
}

// permanent reports whether redelivering the update could never succeed.
func permanent(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrStateConflict) ||
		errors.Is(err, domain.ErrNotFound)
}

// apply parses one update and hands it to the order service. Illegal
// transitions are reported but never retried.
func (c *Consumer) apply(ctx context.Context, value []byte) error {
	var update FulfillmentUpdate
	if err := json.Unmarshal(value, &update); err != nil {
		return &domain.Error{Kind: domain.ErrValidation, Message: "Malformed fulfillment update", Err: err}
	}
	id, err := uuid.Parse(update.OrderID)
	if err != nil {
		return domain.Validation("Invalid order id")
	}
	status := domain.DeliveryStatus(update.DeliveryStatus)
	if !status.Valid() {
		return domain.Validation("Unknown delivery status")
	}

	if status == domain.DeliveryCancelled {
		_, err = c.orders.Cancel(ctx, orders.CancelRequest{OrderID: id, Reason: update.Reason, Actor: domain.ActorSystem})
	} else {
		_, err = c.orders.Advance(ctx, id, status)
	}
	if err != nil {
		return err
	}
	c.log.InfoContext(ctx, "fulfillment update applied",
		slog.String("order_id", id.String()), slog.String("delivery_status", status.String()))
	return nil
}
