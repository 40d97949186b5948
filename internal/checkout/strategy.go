package checkout

import (
	"context"
	"strings"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/AnuragParashar2000/ShoeKart/internal/payment"
	"github.com/shopspring/decimal"
)

// Attempt is what a strategy authorizes: the request and the lines checkout
// is about to sell.
type Attempt struct {
	Request  *domain.CheckoutRequest
	Lines    []domain.PricedLine
	Subtotal decimal.Decimal
}

// Receipt is a strategy's successful outcome.
type Receipt struct {
	PaymentStatus domain.PaymentStatus
	TransactionID string
	Card          *domain.CardDescriptor
	Message       string

	// Hosted sessions only: the redirect the client follows.
	SessionID  string
	SessionURL string
}

// Strategy handles one payment method.
type Strategy interface {
	Method() domain.Method
	// Validate rejects a malformed request before any stock is touched.
	Validate(req *domain.CheckoutRequest) error
	Authorize(ctx context.Context, a Attempt) (Receipt, error)
}

// deferredStrategy marks a strategy whose order is created later by the
// provider's confirmation rather than by the dispatcher.
type deferredStrategy interface {
	Strategy
	deferred()
}

type CODStrategy struct{}

func (CODStrategy) Method() domain.Method { return domain.MethodCOD }

func (CODStrategy) Validate(*domain.CheckoutRequest) error { return nil }

func (CODStrategy) Authorize(context.Context, Attempt) (Receipt, error) {
	return Receipt{
		PaymentStatus: domain.PaymentPending,
		Message:       "Order placed successfully! Payment will be collected on delivery.",
	}, nil
}

// Charger authorizes simulated card and UPI payments.
type Charger interface {
	Charge(method domain.Method, amount decimal.Decimal) (payment.Charge, error)
}

type CardStrategy struct {
	charger Charger
}

func NewCardStrategy(c Charger) *CardStrategy {
	return &CardStrategy{charger: c}
}

func (*CardStrategy) Method() domain.Method { return domain.MethodCard }

func (*CardStrategy) Validate(req *domain.CheckoutRequest) error {
	if req.Card == nil || strings.TrimSpace(req.Card.CardNumber) == "" || strings.TrimSpace(req.Card.CVV) == "" {
		return domain.Validation("Invalid card details")
	}
	return nil
}

func (s *CardStrategy) Authorize(_ context.Context, a Attempt) (Receipt, error) {
	charge, err := s.charger.Charge(domain.MethodCard, a.Subtotal)
	if err != nil {
		return Receipt{}, err
	}
	if !charge.Approved {
		return Receipt{}, domain.Declined("Payment failed. Please try again or use a different card.")
	}
	return Receipt{
		PaymentStatus: domain.PaymentPaid,
		TransactionID: charge.TransactionID,
		Card:          a.Request.Card.Describe(),
		Message:       "Payment successful! Order placed successfully.",
	}, nil
}

type UPIStrategy struct {
	charger Charger
}

func NewUPIStrategy(c Charger) *UPIStrategy {
	return &UPIStrategy{charger: c}
}

func (*UPIStrategy) Method() domain.Method { return domain.MethodUPI }

func (*UPIStrategy) Validate(*domain.CheckoutRequest) error { return nil }

func (s *UPIStrategy) Authorize(_ context.Context, a Attempt) (Receipt, error) {
	charge, err := s.charger.Charge(domain.MethodUPI, a.Subtotal)
	if err != nil {
		return Receipt{}, err
	}
	if !charge.Approved {
		return Receipt{}, domain.Declined("UPI payment failed. Please try again.")
	}
	return Receipt{
		PaymentStatus: domain.PaymentPaid,
		TransactionID: charge.TransactionID,
		Message:       "UPI payment successful! Order placed successfully.",
	}, nil
}
