package cart

import (
	"context"
	"errors"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrItemNotFound = errors.New("item not found in cart")
)

type Repository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	// AddItem sets the quantity of the (product, size) line, creating the
	// cart or the line when missing.
	AddItem(ctx context.Context, userID string, item domain.CartItem) error
	RemoveItem(ctx context.Context, userID, productID string, size int) error
	SetTotal(ctx context.Context, userID string, total decimal.Decimal) error
	// RemoveLines drops the (product, size) lines of lines that were added no
	// later than addedBefore. Missing carts and lines are skipped.
	RemoveLines(ctx context.Context, userID string, lines []domain.StockLine, addedBefore time.Time) error
	// Clear empties the cart and zeroes its total. Clearing a missing cart
	// is not an error.
	Clear(ctx context.Context, userID string) error
}
