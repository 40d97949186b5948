package domain

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClampPolicy decides what checkout does when a cart line asks for more than
// the size has in stock.
type ClampPolicy string

const (
	// ClampToStock lowers the line to what is available and reports it.
	ClampToStock ClampPolicy = "clamp"
	// RejectShortfall fails the checkout instead.
	RejectShortfall ClampPolicy = "reject"
)

func ParseClampPolicy(s string) (ClampPolicy, error) {
	switch ClampPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", ClampToStock:
		return ClampToStock, nil
	case RejectShortfall:
		return RejectShortfall, nil
	default:
		return "", Validation("unknown clamp policy " + s)
	}
}

type CheckoutRequest struct {
	UserID         string
	Email          string
	Name           string
	Method         Method
	Card           *CardData
	BillingAddress Address
	Coupon         string
	IdempotencyKey string
}

// PricedLine is a cart line joined with the product's current price and stock.
type PricedLine struct {
	ProductID string
	Name      string
	Image     string
	Brand     string
	Size      int
	Requested int
	Available int
	Qty       int
	UnitPrice decimal.Decimal
}

func (l PricedLine) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Qty)))
}

func Subtotal(lines []PricedLine) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Amount())
	}
	return sum
}

func StockLinesOf(lines []PricedLine) []StockLine {
	out := make([]StockLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, StockLine{ProductID: l.ProductID, Size: l.Size, Qty: l.Qty})
	}
	return out
}

// LineAdjustment reports a line that checkout reduced to the available stock.
type LineAdjustment struct {
	ProductID string `json:"productId"`
	Size      int    `json:"size"`
	Requested int    `json:"requested"`
	Granted   int    `json:"granted"`
}

type CheckoutResult struct {
	Method      Method
	OrderID     uuid.UUID
	SessionID   string
	SessionURL  string
	Message     string
	Adjustments []LineAdjustment
	// Replayed is set when an idempotency key matched an earlier checkout.
	Replayed bool
}
