package inventory

import (
	"context"
	"sort"
	"sync"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
)

// MemoryStore implements Store in process. One mutex serializes all writes so
// Commit is a single check-and-decrement.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*domain.Product
}

func NewMemoryStore(products ...*domain.Product) *MemoryStore {
	s := &MemoryStore{products: make(map[string]*domain.Product)}
	for _, p := range products {
		s.products[p.ID] = cloneProduct(p)
	}
	return s
}

func (s *MemoryStore) UpsertProduct(_ context.Context, p *domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = cloneProduct(p)
	return nil
}

func (s *MemoryStore) GetProducts(_ context.Context, ids []string) (map[string]*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = cloneProduct(p)
		}
	}
	return result, nil
}

func (s *MemoryStore) Reserve(_ context.Context, productID string, size, qty int) (int, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productID]
	if !ok {
		return 0, ErrProductNotFound
	}
	return min(qty, p.Available(size)), nil
}

func (s *MemoryStore) Commit(_ context.Context, line domain.StockLine) error {
	if line.Qty <= 0 {
		return ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[line.ProductID]
	if !ok {
		return ErrProductNotFound
	}

	for i := range p.SizeQuantity {
		if p.SizeQuantity[i].Size != line.Size {
			continue
		}
		if p.SizeQuantity[i].Quantity < line.Qty {
			return ErrInsufficientStock
		}
		p.SizeQuantity[i].Quantity -= line.Qty
		if p.SizeQuantity[i].Quantity == 0 {
			p.SizeQuantity = append(p.SizeQuantity[:i], p.SizeQuantity[i+1:]...)
		}
		return nil
	}
	return ErrInsufficientStock
}

func (s *MemoryStore) Release(_ context.Context, line domain.StockLine) error {
	if line.Qty <= 0 {
		return ErrInvalidQuantity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[line.ProductID]
	if !ok {
		return ErrProductNotFound
	}

	for i := range p.SizeQuantity {
		if p.SizeQuantity[i].Size == line.Size {
			p.SizeQuantity[i].Quantity += line.Qty
			return nil
		}
	}

	p.SizeQuantity = append(p.SizeQuantity, domain.SizeQuantity{Size: line.Size, Quantity: line.Qty})
	sort.Slice(p.SizeQuantity, func(i, j int) bool {
		return p.SizeQuantity[i].Size < p.SizeQuantity[j].Size
	})
	return nil
}

func cloneProduct(p *domain.Product) *domain.Product {
	c := *p
	c.SizeQuantity = append([]domain.SizeQuantity(nil), p.SizeQuantity...)
	return &c
}
