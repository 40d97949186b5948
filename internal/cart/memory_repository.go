package cart

import (
	"context"
	"sync"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/shopspring/decimal"
)

type MemoryRepository struct {
	mu    sync.RWMutex
	carts map[string]*domain.Cart
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{carts: make(map[string]*domain.Cart)}
}

func (m *MemoryRepository) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.carts[userID]
	if !ok {
		return nil, ErrCartNotFound
	}
	cp := *c
	cp.Items = append([]domain.CartItem{}, c.Items...)
	return &cp, nil
}

func (m *MemoryRepository) AddItem(_ context.Context, userID string, item domain.CartItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	item.AddedAt = now
	c, ok := m.carts[userID]
	if !ok {
		m.carts[userID] = &domain.Cart{UserID: userID, Items: []domain.CartItem{item}, CreatedAt: now, UpdatedAt: now}
		return nil
	}

	c.UpdatedAt = now
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID && c.Items[i].Size == item.Size {
			c.Items[i] = item
			return nil
		}
	}
	c.Items = append(c.Items, item)
	return nil
}

func (m *MemoryRepository) RemoveItem(_ context.Context, userID, productID string, size int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[userID]
	if !ok {
		return ErrItemNotFound
	}
	for i, it := range c.Items {
		if it.ProductID == productID && it.Size == size {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			c.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrItemNotFound
}

func (m *MemoryRepository) RemoveLines(_ context.Context, userID string, lines []domain.StockLine, addedBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[userID]
	if !ok {
		return nil
	}
	kept := c.Items[:0]
	for _, it := range c.Items {
		if it.AddedAt.After(addedBefore) || !ordered(lines, it) {
			kept = append(kept, it)
		}
	}
	if len(kept) != len(c.Items) {
		c.UpdatedAt = time.Now()
	}
	c.Items = kept
	return nil
}

func ordered(lines []domain.StockLine, it domain.CartItem) bool {
	for _, l := range lines {
		if l.ProductID == it.ProductID && l.Size == it.Size {
			return true
		}
	}
	return false
}

func (m *MemoryRepository) SetTotal(_ context.Context, userID string, total decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.carts[userID]
	if !ok {
		return ErrCartNotFound
	}
	c.TotalPrice = total
	return nil
}

func (m *MemoryRepository) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.carts[userID]; ok {
		c.Items = []domain.CartItem{}
		c.TotalPrice = decimal.Zero
		c.UpdatedAt = time.Now()
	}
	return nil
}
