// Package inventory holds the per-size stock ledger of every product.
package inventory

import (
	"context"
	"errors"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// Store is the authoritative stock source.
type Store interface {
	// GetProducts returns the products that exist among ids, keyed by id.
	GetProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error)

	// Reserve reports how much of qty could be taken right now. It does not
	// write anything.
	Reserve(ctx context.Context, productID string, size, qty int) (int, error)

	// Commit atomically takes qty from the bucket, or fails with
	// ErrInsufficientStock and leaves it untouched. A bucket that reaches
	// zero is removed.
	Commit(ctx context.Context, line domain.StockLine) error

	// Release puts qty back, recreating the bucket in size order if it was
	// removed.
	Release(ctx context.Context, line domain.StockLine) error

	// UpsertProduct creates or replaces a catalog entry.
	UpsertProduct(ctx context.Context, p *domain.Product) error
}
