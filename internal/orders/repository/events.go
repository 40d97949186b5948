package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
)

// EventEnvelope is the JSON body stored in outbox_events.payload and
// published as the Kafka message value.
type EventEnvelope struct {
	Type      string          `json:"type"`
	OrderID   string          `json:"order_id"`
	UserID    string          `json:"user_id"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	PaymentMethod domain.Method        `json:"payment_method"`
	PaymentStatus domain.PaymentStatus `json:"payment_status"`
	Subtotal      string               `json:"subtotal"`
	Total         string               `json:"total"`
	Currency      string               `json:"currency"`
	Items         []domain.StockLine   `json:"items"`
}

type OrderCancelledPayload struct {
	CancelledBy domain.Actor       `json:"cancelled_by"`
	Reason      string             `json:"reason"`
	Restocked   bool               `json:"restocked"`
	Items       []domain.StockLine `json:"items"`
}

type InventoryShortfallPayload struct {
	Adjustments []domain.LineAdjustment `json:"adjustments"`
}

func NewOrderCreatedEvent(o *domain.Order) (OutboxEvent, error) {
	return newEvent(EventOrderCreated, o, OrderCreatedPayload{
		PaymentMethod: o.PaymentMethod,
		PaymentStatus: o.PaymentStatus,
		Subtotal:      o.Subtotal.StringFixed(2),
		Total:         o.Total.StringFixed(2),
		Currency:      o.Currency,
		Items:         o.StockLines(),
	})
}

func NewOrderCancelledEvent(o *domain.Order, restocked bool) (OutboxEvent, error) {
	return newEvent(EventOrderCancelled, o, OrderCancelledPayload{
		CancelledBy: o.Cancellation.CancelledBy,
		Reason:      o.Cancellation.Reason,
		Restocked:   restocked,
		Items:       o.StockLines(),
	})
}

func NewInventoryShortfallEvent(o *domain.Order, adjustments []domain.LineAdjustment) (OutboxEvent, error) {
	return newEvent(EventInventoryShortfall, o, InventoryShortfallPayload{Adjustments: adjustments})
}

func newEvent(eventType string, o *domain.Order, payload any) (OutboxEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	now := time.Now().UTC()
	envelope, err := json.Marshal(EventEnvelope{
		Type:      eventType,
		OrderID:   o.ID.String(),
		UserID:    o.UserID,
		CreatedAt: now,
		Payload:   body,
	})
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}
	return OutboxEvent{
		AggregateID: o.ID.String(),
		EventType:   eventType,
		Payload:     envelope,
		CreatedAt:   now,
	}, nil
}
