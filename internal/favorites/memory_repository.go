package favorites

import (
	"context"
	"sync"
	"time"
)

type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string][]Favorite
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string][]Favorite)}
}

func (m *MemoryRepository) List(_ context.Context, userID string) ([]Favorite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Favorite{}, m.users[userID]...), nil
}

func (m *MemoryRepository) Add(_ context.Context, userID, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range m.users[userID] {
		if f.ProductID == productID {
			return ErrAlreadyFavorite
		}
	}
	m.users[userID] = append(m.users[userID], Favorite{ProductID: productID, AddedAt: time.Now()})
	return nil
}

func (m *MemoryRepository) Remove(_ context.Context, userID, productID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	favs := m.users[userID]
	for i, f := range favs {
		if f.ProductID == productID {
			m.users[userID] = append(favs[:i], favs[i+1:]...)
			return nil
		}
	}
	return ErrNotFavorite
}
