package favorites

import (
	"context"
	"errors"
	"time"
)

var (
	ErrAlreadyFavorite = errors.New("product already in favorites")
	ErrNotFavorite     = errors.New("product not in favorites")
)

type Favorite struct {
	ProductID string
	AddedAt   time.Time
}

type Repository interface {
	// List returns the user's favorites in the order they were added.
	List(ctx context.Context, userID string) ([]Favorite, error)
	Add(ctx context.Context, userID, productID string) error
	Remove(ctx context.Context, userID, productID string) error
}
