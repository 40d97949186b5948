package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/AnuragParashar2000/ShoeKart/internal/payment/hosted"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Provider is the hosted-checkout API surface checkout needs.
type Provider interface {
	FindOrCreateCustomer(ctx context.Context, email, name, userID string) (string, error)
	CreateSession(ctx context.Context, p hosted.SessionParams) (*hosted.Session, error)
	GetCustomer(ctx context.Context, id string) (*hosted.Customer, error)
}

type HostedConfig struct {
	ClientURL string
	Currency  string
}

type HostedStrategy struct {
	provider Provider
	cfg      HostedConfig
}

func NewHostedStrategy(p Provider, cfg HostedConfig) *HostedStrategy {
	if cfg.Currency == "" {
		cfg.Currency = "inr"
	}
	cfg.ClientURL = strings.TrimRight(cfg.ClientURL, "/")
	return &HostedStrategy{provider: p, cfg: cfg}
}

func (*HostedStrategy) Method() domain.Method { return domain.MethodHosted }

func (*HostedStrategy) deferred() {}

func (*HostedStrategy) Validate(req *domain.CheckoutRequest) error {
	if strings.TrimSpace(req.Email) == "" {
		return domain.Validation("Email is required for hosted checkout")
	}
	return nil
}

// Authorize opens a hosted session for the lines. No order exists until the
// provider confirms the payment.
func (s *HostedStrategy) Authorize(ctx context.Context, a Attempt) (Receipt, error) {
	req := a.Request
	customerID, err := s.provider.FindOrCreateCustomer(ctx, req.Email, req.Name, req.UserID)
	if err != nil {
		return Receipt{}, providerError(err)
	}

	cart := make([]hosted.CartEntry, 0, len(a.Lines))
	items := make([]hosted.LineItem, 0, len(a.Lines))
	for _, l := range a.Lines {
		cart = append(cart, hosted.CartEntry{ProductID: l.ProductID, Qty: l.Qty, Size: l.Size})
		items = append(items, hosted.LineItem{
			Name:        l.Name,
			Image:       l.Image,
			Description: "size: " + strconv.Itoa(l.Size),
			UnitAmount:  MinorUnits(l.UnitPrice),
			Quantity:    l.Qty,
			Metadata:    map[string]string{"productId": l.ProductID, "size": strconv.Itoa(l.Size)},
		})
	}
	cartJSON, err := json.Marshal(cart)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal cart metadata: %w", err)
	}

	session, err := s.provider.CreateSession(ctx, hosted.SessionParams{
		CustomerID: customerID,
		Currency:   s.cfg.Currency,
		LineItems:  items,
		ShippingOptions: []hosted.ShippingOption{
			{DisplayName: "Free shipping", Amount: 0, MinDays: 5, MaxDays: 7},
			{DisplayName: "Next day air", Amount: 30000, MinDays: 1, MaxDays: 1},
		},
		Coupon:     strings.TrimSpace(req.Coupon),
		Metadata:   map[string]string{"user_id": req.UserID, "cart": string(cartJSON)},
		SuccessURL: s.cfg.ClientURL + "/checkout-success",
		CancelURL:  s.cfg.ClientURL + "/cart",
	})
	if err != nil {
		return Receipt{}, providerError(err)
	}

	return Receipt{
		PaymentStatus: domain.PaymentPending,
		SessionID:     session.ID,
		SessionURL:    session.URL,
	}, nil
}

// MinorUnits converts a price to the provider's integer minor units.
func MinorUnits(price decimal.Decimal) int64 {
	return price.Mul(hundred).Round(0).IntPart()
}

// FromMinorUnits is the inverse of MinorUnits.
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

func providerError(err error) error {
	var apiErr *hosted.APIError
	if errors.As(err, &apiErr) {
		return domain.Provider("Payment provider rejected the request", err)
	}
	return domain.Provider("Payment provider is unavailable", err)
}
