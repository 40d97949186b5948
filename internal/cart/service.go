// Package cart owns the per-user cart snapshot that checkout reads and clears.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const maxLineQty = 99

// ProductReader is the part of the inventory store the cart needs.
type ProductReader interface {
	GetProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error)
}

type Service struct {
	repo     Repository
	cache    Cache
	products ProductReader
	log      *slog.Logger
	sfg      singleflight.Group // Prevents cache stampede
}

func NewService(repo Repository, cache Cache, products ProductReader, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		cache:    cache,
		products: products,
		log:      log,
	}
}

func (s *Service) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		c, err := s.cache.Get(ctx, userID)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.log.WarnContext(ctx, "cache get error", slog.Any("error", err))
		}

		c, err = s.repo.GetCart(ctx, userID)
		if errors.Is(err, ErrCartNotFound) {
			now := time.Now()
			return &domain.Cart{UserID: userID, Items: []domain.CartItem{}, TotalPrice: decimal.Zero, CreatedAt: now, UpdatedAt: now}, nil
		}
		if err != nil {
			return nil, err
		}

		go func() {
			if errSet := s.cache.Set(context.Background(), userID, c); errSet != nil {
				s.log.Warn("cache set error", slog.Any("error", errSet))
			}
		}()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

// AddItem sets the quantity for a product size in the cart.
func (s *Service) AddItem(ctx context.Context, userID, productID string, size, qty int) (*domain.Cart, error) {
	if productID == "" {
		return nil, domain.Validation("Invalid Product id")
	}
	if qty <= 0 || qty > maxLineQty {
		return nil, domain.Validation(fmt.Sprintf("Quantity must be between 1 and %d", maxLineQty))
	}

	products, err := s.products.GetProducts(ctx, []string{productID})
	if err != nil {
		return nil, err
	}
	p, ok := products[productID]
	if !ok {
		return nil, domain.NotFound("Invalid Product id")
	}
	if p.Available(size) == 0 {
		return nil, domain.Validation("Selected size is out of stock")
	}

	if err := s.repo.AddItem(ctx, userID, domain.CartItem{ProductID: productID, Size: size, Qty: qty}); err != nil {
		s.log.ErrorContext(ctx, "repo add item error", slog.Any("error", err))
		return nil, err
	}
	return s.refreshTotal(ctx, userID)
}

func (s *Service) RemoveItem(ctx context.Context, userID, productID string, size int) (*domain.Cart, error) {
	err := s.repo.RemoveItem(ctx, userID, productID, size)
	if errors.Is(err, ErrItemNotFound) {
		return nil, domain.NotFound("Item not found in cart")
	}
	if err != nil {
		s.log.ErrorContext(ctx, "repo remove item error", slog.Any("error", err))
		return nil, err
	}
	return s.refreshTotal(ctx, userID)
}

// Clear empties the cart after a successful checkout.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if err := s.repo.Clear(ctx, userID); err != nil {
		s.log.ErrorContext(ctx, "repo clear cart error", slog.Any("error", err))
		return err
	}
	s.invalidateCache(userID)
	return nil
}

// RemoveOrdered takes an order's lines out of the cart, keeping anything the
// user added after the order was placed.
func (s *Service) RemoveOrdered(ctx context.Context, userID string, lines []domain.StockLine, placedAt time.Time) error {
	if err := s.repo.RemoveLines(ctx, userID, lines, placedAt); err != nil {
		s.log.ErrorContext(ctx, "repo remove ordered lines error", slog.Any("error", err))
		return err
	}
	if _, err := s.refreshTotal(ctx, userID); err != nil && !errors.Is(err, ErrCartNotFound) {
		return err
	}
	return nil
}

// Priced reads the stored cart, bypassing the cache, and joins every line
// with the product's current price and stock for that size. Lines whose
// product no longer exists come back with zero availability.
func (s *Service) Priced(ctx context.Context, userID string) ([]domain.PricedLine, error) {
	c, err := s.repo.GetCart(ctx, userID)
	if errors.Is(err, ErrCartNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.IsEmpty() {
		return nil, nil
	}

	products, err := s.products.GetProducts(ctx, productIDs(c.Items))
	if err != nil {
		return nil, err
	}

	lines := make([]domain.PricedLine, 0, len(c.Items))
	for _, it := range c.Items {
		line := domain.PricedLine{ProductID: it.ProductID, Size: it.Size, Requested: it.Qty, Qty: it.Qty}
		if p, ok := products[it.ProductID]; ok {
			line.Name = p.DisplayName()
			line.Brand = p.Brand
			line.Image = p.Image
			line.UnitPrice = p.Price
			line.Available = p.Available(it.Size)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (s *Service) refreshTotal(ctx context.Context, userID string) (*domain.Cart, error) {
	defer s.invalidateCache(userID)

	c, err := s.repo.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	products, err := s.products.GetProducts(ctx, productIDs(c.Items))
	if err != nil {
		return nil, err
	}

	total := decimal.Zero
	for _, it := range c.Items {
		if p, ok := products[it.ProductID]; ok {
			total = total.Add(p.Price.Mul(decimal.NewFromInt(int64(it.Qty))))
		}
	}
	if err := s.repo.SetTotal(ctx, userID, total); err != nil {
		return nil, err
	}
	c.TotalPrice = total
	return c, nil
}

func (s *Service) invalidateCache(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn("cache invalidate error", slog.String("user_id", userID), slog.Any("error", err))
	}
}

func productIDs(items []domain.CartItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	return ids
}
