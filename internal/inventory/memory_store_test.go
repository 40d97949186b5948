package inventory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/AnuragParashar2000/ShoeKart/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newShoe(id string, sizes ...domain.SizeQuantity) *domain.Product {
	return &domain.Product{
		ID:           id,
		Name:         "Runner",
		Brand:        "Brand",
		Price:        decimal.NewFromInt(2000),
		SizeQuantity: sizes,
	}
}

func setupStore(t *testing.T) *MemoryStore {
	t.Helper()
	return NewMemoryStore(newShoe("A", domain.SizeQuantity{Size: 8, Quantity: 5}, domain.SizeQuantity{Size: 9, Quantity: 3}))
}

func stockOf(t *testing.T, s Store, id string, size int) int {
	t.Helper()
	products, err := s.GetProducts(context.Background(), []string{id})
	require.NoError(t, err)
	p, ok := products[id]
	require.True(t, ok)
	return p.Available(size)
}

func TestMemoryStore_GetProducts(t *testing.T) {
	store := setupStore(t)

	products, err := store.GetProducts(context.Background(), []string{"A", "missing"})
	require.NoError(t, err)
	assert.Len(t, products, 1)

	// returned values are copies
	products["A"].SizeQuantity[0].Quantity = 100
	assert.Equal(t, 5, stockOf(t, store, "A", 8))
}

func TestMemoryStore_Reserve_Clamps(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	got, err := store.Reserve(ctx, "A", 9, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, got)

	got, err = store.Reserve(ctx, "A", 11, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, got)

	_, err = store.Reserve(ctx, "missing", 9, 1)
	assert.ErrorIs(t, err, ErrProductNotFound)

	// reserve never writes
	assert.Equal(t, 3, stockOf(t, store, "A", 9))
}

func TestMemoryStore_Commit_RemovesEmptyBucket(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	require.NoError(t, store.Commit(ctx, domain.StockLine{ProductID: "A", Size: 9, Qty: 3}))

	products, err := store.GetProducts(ctx, []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, []domain.SizeQuantity{{Size: 8, Quantity: 5}}, products["A"].SizeQuantity)
}

func TestMemoryStore_Commit_Insufficient(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := store.Commit(ctx, domain.StockLine{ProductID: "A", Size: 9, Qty: 4})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 3, stockOf(t, store, "A", 9))

	err = store.Commit(ctx, domain.StockLine{ProductID: "A", Size: 12, Qty: 1})
	assert.ErrorIs(t, err, ErrInsufficientStock)

	err = store.Commit(ctx, domain.StockLine{ProductID: "missing", Size: 9, Qty: 1})
	assert.ErrorIs(t, err, ErrProductNotFound)

	err = store.Commit(ctx, domain.StockLine{ProductID: "A", Size: 9, Qty: 0})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestMemoryStore_Release_RecreatesBucketInOrder(t *testing.T) {
	store := NewMemoryStore(newShoe("A", domain.SizeQuantity{Size: 7, Quantity: 1}, domain.SizeQuantity{Size: 10, Quantity: 1}))
	ctx := context.Background()

	require.NoError(t, store.Release(ctx, domain.StockLine{ProductID: "A", Size: 9, Qty: 2}))
	require.NoError(t, store.Release(ctx, domain.StockLine{ProductID: "A", Size: 7, Qty: 1}))

	products, err := store.GetProducts(ctx, []string{"A"})
	require.NoError(t, err)
	assert.Equal(t, []domain.SizeQuantity{{Size: 7, Quantity: 2}, {Size: 9, Quantity: 2}, {Size: 10, Quantity: 1}}, products["A"].SizeQuantity)

	assert.ErrorIs(t, store.Release(ctx, domain.StockLine{ProductID: "missing", Size: 9, Qty: 1}), ErrProductNotFound)
}

func TestMemoryStore_ConcurrentCommits(t *testing.T) {
	store := NewMemoryStore(newShoe("A", domain.SizeQuantity{Size: 9, Quantity: 10}))
	ctx := context.Background()

	var wg sync.WaitGroup
	var committed atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Commit(ctx, domain.StockLine{ProductID: "A", Size: 9, Qty: 1}); err == nil {
				committed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(10), committed.Load())
	assert.Equal(t, 0, stockOf(t, store, "A", 9))
}

func TestCommitAll_RollsBackOnFailure(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := CommitAll(ctx, store, []domain.StockLine{
		{ProductID: "A", Size: 8, Qty: 2},
		{ProductID: "A", Size: 9, Qty: 5},
	})
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 5, stockOf(t, store, "A", 8))
	assert.Equal(t, 3, stockOf(t, store, "A", 9))
}

func TestCommitClamped_ReportsShortfall(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	committed, shortfalls, err := CommitClamped(ctx, store, logger.Discard(), []domain.StockLine{
		{ProductID: "A", Size: 9, Qty: 5},
		{ProductID: "A", Size: 8, Qty: 1},
		{ProductID: "gone", Size: 8, Qty: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.StockLine{{ProductID: "A", Size: 9, Qty: 3}, {ProductID: "A", Size: 8, Qty: 1}}, committed)
	require.Len(t, shortfalls, 2)
	assert.Equal(t, 3, shortfalls[0].Granted)
	assert.Equal(t, 0, shortfalls[1].Granted)
	assert.Equal(t, 0, stockOf(t, store, "A", 9))
}
