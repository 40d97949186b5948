package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/google/uuid"
)

// MemoryRepository mirrors the SQL repository's constraints: unique checkout
// keys, unique provider event ids and versioned updates.
type MemoryRepository struct {
	mu        sync.RWMutex
	orders    map[uuid.UUID]*domain.Order
	events    []*OutboxEvent
	processed map[int64]bool
	nextEvent int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:    make(map[uuid.UUID]*domain.Order),
		processed: make(map[int64]bool),
	}
}

func (m *MemoryRepository) CreateOrder(_ context.Context, order *domain.Order, events ...OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range m.orders {
		if o.ID == order.ID || o.CheckoutKey == order.CheckoutKey ||
			(order.ProviderEventID != "" && o.ProviderEventID == order.ProviderEventID) {
			return ErrDuplicateCheckout
		}
	}
	m.orders[order.ID] = cloneOrder(order)
	m.appendEvents(events)
	return nil
}

func (m *MemoryRepository) UpdateOrder(_ context.Context, order *domain.Order, events ...OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.orders[order.ID]
	if !ok || stored.UserID != order.UserID || stored.Version != order.Version {
		return ErrVersionConflict
	}
	now := time.Now()
	stored.DeliveryStatus = order.DeliveryStatus
	stored.PaymentStatus = order.PaymentStatus
	stored.Cancellation = order.Cancellation
	stored.InventoryState = order.InventoryState
	stored.Version++
	stored.UpdatedAt = now

	order.Version = stored.Version
	order.UpdatedAt = now
	m.appendEvents(events)
	return nil
}

func (m *MemoryRepository) MarkCartCleared(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	o.CartCleared = true
	o.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) ClaimRelease(_ context.Context, id uuid.UUID, staleBefore time.Time) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ErrReleaseNotClaimed
	}
	stale := o.InventoryState == domain.InventoryReleasing && o.UpdatedAt.Before(staleBefore)
	if o.InventoryState != domain.InventoryReleasePending && !stale {
		return nil, ErrReleaseNotClaimed
	}
	o.InventoryState = domain.InventoryReleasing
	o.Version++
	o.UpdatedAt = time.Now()
	return cloneOrder(o), nil
}

func (m *MemoryRepository) RecordRestock(_ context.Context, id uuid.UUID, lines []domain.OrderLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok || o.InventoryState != domain.InventoryReleasing {
		return ErrReleaseNotClaimed
	}
	o.Products = append([]domain.OrderLine(nil), lines...)
	o.Version++
	o.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) FinishRelease(_ context.Context, id uuid.UUID, state domain.InventoryState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[id]
	if !ok || o.InventoryState != domain.InventoryReleasing {
		return ErrReleaseNotClaimed
	}
	o.InventoryState = state
	o.Version++
	o.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryRepository) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	return m.find(func(o *domain.Order) bool { return o.ID == id })
}

func (m *MemoryRepository) GetOrderByCheckoutKey(_ context.Context, key string) (*domain.Order, error) {
	return m.find(func(o *domain.Order) bool { return o.CheckoutKey == key })
}

func (m *MemoryRepository) GetOrderByProviderEvent(_ context.Context, eventID string) (*domain.Order, error) {
	return m.find(func(o *domain.Order) bool { return eventID != "" && o.ProviderEventID == eventID })
}

func (m *MemoryRepository) ListOrdersByUserID(_ context.Context, userID string) ([]*domain.Order, error) {
	orders := m.filter(func(o *domain.Order) bool { return o.UserID == userID })
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

func (m *MemoryRepository) ListUnclearedCarts(_ context.Context, before time.Time, limit int) ([]*domain.Order, error) {
	orders := m.filter(func(o *domain.Order) bool { return !o.CartCleared && o.CreatedAt.Before(before) })
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.Before(orders[j].CreatedAt) })
	return truncate(orders, limit), nil
}

func (m *MemoryRepository) ListPendingReleases(_ context.Context, before time.Time, limit int) ([]*domain.Order, error) {
	orders := m.filter(func(o *domain.Order) bool {
		pending := o.InventoryState == domain.InventoryReleasePending || o.InventoryState == domain.InventoryReleasing
		return pending && o.UpdatedAt.Before(before)
	})
	sort.Slice(orders, func(i, j int) bool { return orders[i].UpdatedAt.Before(orders[j].UpdatedAt) })
	return truncate(orders, limit), nil
}

func (m *MemoryRepository) GetUnprocessedEvents(_ context.Context, limit int) ([]*OutboxEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*OutboxEvent
	for _, e := range m.events {
		if m.processed[e.ID] {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryRepository) MarkEventAsProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[id] = true
	return nil
}

// Events returns every event written so far, processed or not.
func (m *MemoryRepository) Events() []OutboxEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]OutboxEvent, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, *e)
	}
	return out
}

func (m *MemoryRepository) Close() error { return nil }

func (m *MemoryRepository) appendEvents(events []OutboxEvent) {
	for _, e := range events {
		m.nextEvent++
		e.ID = m.nextEvent
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now()
		}
		m.events = append(m.events, &e)
	}
}

func (m *MemoryRepository) find(match func(*domain.Order) bool) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, o := range m.orders {
		if match(o) {
			return cloneOrder(o), nil
		}
	}
	return nil, ErrOrderNotFound
}

func (m *MemoryRepository) filter(match func(*domain.Order) bool) []*domain.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Order
	for _, o := range m.orders {
		if match(o) {
			out = append(out, cloneOrder(o))
		}
	}
	return out
}

func truncate(orders []*domain.Order, limit int) []*domain.Order {
	if limit > 0 && len(orders) > limit {
		return orders[:limit]
	}
	return orders
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Products = append([]domain.OrderLine(nil), o.Products...)
	if o.CardDetails != nil {
		card := *o.CardDetails
		c.CardDetails = &card
	}
	return &c
}
