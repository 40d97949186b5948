// Package repository persists orders and their outbox events in SQL.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrDuplicateCheckout = errors.New("order for this checkout already exists")
	ErrVersionConflict   = errors.New("order was modified concurrently")
	// ErrReleaseNotClaimed means another releaser holds the order, or it has
	// nothing left to release.
	ErrReleaseNotClaimed = errors.New("order release is not claimed")
)

const (
	EventOrderCreated       = "orders.created"
	EventOrderCancelled     = "orders.cancelled"
	EventInventoryShortfall = "inventory.shortfall"
)

type Credentials struct {
	Driver            string // postgres or sqlite
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	SQLitePath        string
	MigrationsDirPath string // empty selects the embedded migrations
}

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
}

type OrderRepository interface {
	// CreateOrder inserts the order and its events in one transaction.
	CreateOrder(ctx context.Context, order *domain.Order, events ...OutboxEvent) error
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByCheckoutKey(ctx context.Context, key string) (*domain.Order, error)
	GetOrderByProviderEvent(ctx context.Context, eventID string) (*domain.Order, error)
	ListOrdersByUserID(ctx context.Context, userID string) ([]*domain.Order, error)

	// UpdateOrder writes the order's status fields if its version is still
	// the stored one, then bumps the version.
	UpdateOrder(ctx context.Context, order *domain.Order, events ...OutboxEvent) error
	MarkCartCleared(ctx context.Context, id uuid.UUID) error

	// ClaimRelease moves a release_pending order, or a releasing one whose
	// claim went stale before staleBefore, to releasing and returns it.
	ClaimRelease(ctx context.Context, id uuid.UUID, staleBefore time.Time) (*domain.Order, error)
	// RecordRestock stores per-line restock markers of a claimed order and
	// renews the claim.
	RecordRestock(ctx context.Context, id uuid.UUID, lines []domain.OrderLine) error
	// FinishRelease hands a claimed order over to the given state.
	FinishRelease(ctx context.Context, id uuid.UUID, state domain.InventoryState) error

	ListUnclearedCarts(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error)
	// ListPendingReleases includes releasing orders whose claim is older than
	// before.
	ListPendingReleases(ctx context.Context, before time.Time, limit int) ([]*domain.Order, error)

	GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error

	Close() error
}
