// Package favorites keeps the per-user list of saved products.
package favorites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	errDuplicate  = domain.Validation("Product is already in your favorites")
	errMissing    = domain.NotFound("Product not found in favorites")
	errBadProduct = domain.NotFound("Invalid Product id")
	errNotInCart  = domain.NotFound("Cart item not found")
)

type ProductReader interface {
	GetProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error)
}

type CartReader interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
}

// Item is a favorite joined with its product.
type Item struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Brand     string          `json:"brand"`
	Image     string          `json:"image"`
	Price     decimal.Decimal `json:"price"`
	Slug      string          `json:"slug"`
	AddedAt   time.Time       `json:"addedAt"`
}

type Service struct {
	repo     Repository
	products ProductReader
	carts    CartReader
	log      *slog.Logger
}

func NewService(repo Repository, products ProductReader, carts CartReader, log *slog.Logger) *Service {
	return &Service{repo: repo, products: products, carts: carts, log: log}
}

// List returns the user's favorites. Products that no longer exist are skipped.
func (s *Service) List(ctx context.Context, userID string) ([]Item, error) {
	favs, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(favs) == 0 {
		return []Item{}, nil
	}

	ids := make([]string, 0, len(favs))
	for _, f := range favs {
		ids = append(ids, f.ProductID)
	}
	products, err := s.products.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load favorite products: %w", err)
	}

	items := make([]Item, 0, len(favs))
	for _, f := range favs {
		p, ok := products[f.ProductID]
		if !ok {
			continue
		}
		items = append(items, Item{
			ProductID: p.ID,
			Name:      p.Name,
			Brand:     p.Brand,
			Image:     p.Image,
			Price:     p.Price,
			Slug:      p.Slug(),
			AddedAt:   f.AddedAt,
		})
	}
	return items, nil
}

func (s *Service) Add(ctx context.Context, userID, productID string) error {
	if productID == "" {
		return errBadProduct
	}
	products, err := s.products.GetProducts(ctx, []string{productID})
	if err != nil {
		return err
	}
	if _, ok := products[productID]; !ok {
		return errBadProduct
	}
	return s.add(ctx, userID, productID)
}

func (s *Service) Remove(ctx context.Context, userID, productID string) error {
	err := s.repo.Remove(ctx, userID, productID)
	if errors.Is(err, ErrNotFavorite) {
		return errMissing
	}
	return err
}

// AddFromCart saves a product that is in the user's cart. The cart is left
// unchanged.
func (s *Service) AddFromCart(ctx context.Context, userID, productID string) (*domain.Cart, error) {
	c, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	found := false
	for _, it := range c.Items {
		if it.ProductID == productID {
			found = true
			break
		}
	}
	if !found {
		return nil, errNotInCart
	}
	if err := s.add(ctx, userID, productID); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) add(ctx context.Context, userID, productID string) error {
	err := s.repo.Add(ctx, userID, productID)
	if errors.Is(err, ErrAlreadyFavorite) {
		return errDuplicate
	}
	if err != nil {
		return err
	}
	s.log.InfoContext(ctx, "favorite added", slog.String("user_id", userID), slog.String("product_id", productID))
	return nil
}
