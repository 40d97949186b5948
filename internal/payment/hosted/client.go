// Package hosted talks to the hosted-checkout payment provider: customers,
// checkout sessions and signed webhooks.
package hosted

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/pkg/circuitbreaker"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// ErrProviderUnavailable covers transport failures, 5xx answers and an open
// breaker.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// APIError is a 4xx answer from the provider.
type APIError struct {
	Status  int
	Type    string
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider error %d %s: %s", e.Status, e.Code, e.Message)
}

type Config struct {
	// BaseURL overrides the provider endpoint; empty means the live API.
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
}

type Client struct {
	api     *client.API
	breaker *circuitbreaker.Breaker[any]
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	backend := &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: timeout},
		// no SDK-level retries; every attempt goes through the breaker
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     leveledLogger{log: log},
	}
	if cfg.BaseURL != "" {
		backend.URL = stripe.String(cfg.BaseURL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backend),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backend),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backend),
	}
	return &Client{
		api: client.New(cfg.SecretKey, backends),
		breaker: circuitbreaker.New[any](circuitbreaker.DefaultConfig("hosted-provider"), log, func(err error) bool {
			var apiErr *APIError
			return err == nil || errors.As(err, &apiErr)
		}),
	}
}

type Customer struct {
	ID       string
	Email    string
	Name     string
	Metadata map[string]string
}

// FindOrCreateCustomer reuses the first customer registered with email.
func (c *Client) FindOrCreateCustomer(ctx context.Context, email, name, userID string) (string, error) {
	found, err := execute(c, func() (string, error) {
		params := &stripe.CustomerListParams{
			ListParams: stripe.ListParams{Context: ctx, Limit: stripe.Int64(1), Single: true},
			Email:      stripe.String(email),
		}
		iter := c.api.Customers.List(params)
		if iter.Next() {
			return iter.Customer().ID, nil
		}
		return "", iter.Err()
	})
	if err != nil || found != "" {
		return found, err
	}

	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(email),
	}
	if name != "" {
		params.Name = stripe.String(name)
	}
	params.AddMetadata("userId", userID)
	created, err := execute(c, func() (*stripe.Customer, error) {
		return c.api.Customers.New(params)
	})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

func (c *Client) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	cust, err := execute(c, func() (*stripe.Customer, error) {
		return c.api.Customers.Get(id, &stripe.CustomerParams{Params: stripe.Params{Context: ctx}})
	})
	if err != nil {
		return nil, err
	}
	return &Customer{ID: cust.ID, Email: cust.Email, Name: cust.Name, Metadata: cust.Metadata}, nil
}

type LineItem struct {
	Name        string
	Image       string
	Description string
	UnitAmount  int64 // minor units
	Quantity    int
	Metadata    map[string]string
}

type ShippingOption struct {
	DisplayName string
	Amount      int64
	MinDays     int
	MaxDays     int
}

type SessionParams struct {
	CustomerID      string
	Currency        string
	LineItems       []LineItem
	ShippingOptions []ShippingOption
	Coupon          string
	Metadata        map[string]string
	SuccessURL      string
	CancelURL       string
}

type Session struct {
	ID  string
	URL string
}

func (c *Client) CreateSession(ctx context.Context, p SessionParams) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Params:                   stripe.Params{Context: ctx},
		Mode:                     stripe.String(string(stripe.CheckoutSessionModePayment)),
		Customer:                 stripe.String(p.CustomerID),
		SuccessURL:               stripe.String(p.SuccessURL),
		CancelURL:                stripe.String(p.CancelURL),
		PhoneNumberCollection:    &stripe.CheckoutSessionPhoneNumberCollectionParams{Enabled: stripe.Bool(true)},
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
	}

	for _, li := range p.LineItems {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name:     stripe.String(li.Name),
			Metadata: li.Metadata,
		}
		if li.Image != "" {
			product.Images = stripe.StringSlice([]string{li.Image})
		}
		if li.Description != "" {
			product.Description = stripe.String(li.Description)
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(li.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(p.Currency),
				UnitAmount:  stripe.Int64(li.UnitAmount),
				ProductData: product,
			},
		})
	}

	for _, so := range p.ShippingOptions {
		params.ShippingOptions = append(params.ShippingOptions, &stripe.CheckoutSessionShippingOptionParams{
			ShippingRateData: &stripe.CheckoutSessionShippingOptionShippingRateDataParams{
				Type:        stripe.String("fixed_amount"),
				DisplayName: stripe.String(so.DisplayName),
				FixedAmount: &stripe.CheckoutSessionShippingOptionShippingRateDataFixedAmountParams{
					Amount:   stripe.Int64(so.Amount),
					Currency: stripe.String(p.Currency),
				},
				DeliveryEstimate: &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateParams{
					Minimum: &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateMinimumParams{
						Unit:  stripe.String("business_day"),
						Value: stripe.Int64(int64(so.MinDays)),
					},
					Maximum: &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateMaximumParams{
						Unit:  stripe.String("business_day"),
						Value: stripe.Int64(int64(so.MaxDays)),
					},
				},
			},
		})
	}

	if p.Coupon != "" {
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{{Coupon: stripe.String(p.Coupon)}}
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	out, err := execute(c, func() (*stripe.CheckoutSession, error) {
		return c.api.CheckoutSessions.New(params)
	})
	if err != nil {
		return nil, err
	}
	if out.URL == "" {
		return nil, fmt.Errorf("%w: session %q has no url", ErrProviderUnavailable, out.ID)
	}
	return &Session{ID: out.ID, URL: out.URL}, nil
}

// execute runs one SDK call through the breaker. 4xx answers come back as
// *APIError and leave the breaker alone; everything else is unavailability.
func execute[T any](c *Client, fn func() (T, error)) (T, error) {
	var zero T
	v, err := c.breaker.Execute(func() (any, error) {
		v, err := fn()
		if err != nil {
			return nil, classify(err)
		}
		return v, nil
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return zero, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if err != nil {
		return zero, err
	}
	out, _ := v.(T)
	return out, nil
}

func classify(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode >= 400 && se.HTTPStatusCode < 500 {
		return &APIError{
			Status:  se.HTTPStatusCode,
			Type:    string(se.Type),
			Code:    string(se.Code),
			Message: se.Msg,
		}
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}

// leveledLogger routes SDK logs into slog. Everything below a warning is
// dropped to debug.
type leveledLogger struct {
	log *slog.Logger
}

func (l leveledLogger) Debugf(format string, v ...interface{}) {
	l.emit(slog.LevelDebug, format, v)
}

func (l leveledLogger) Infof(format string, v ...interface{}) {
	l.emit(slog.LevelDebug, format, v)
}

func (l leveledLogger) Warnf(format string, v ...interface{}) {
	l.emit(slog.LevelWarn, format, v)
}

func (l leveledLogger) Errorf(format string, v ...interface{}) {
	l.emit(slog.LevelError, format, v)
}

func (l leveledLogger) emit(level slog.Level, format string, v []interface{}) {
	if l.log == nil {
		return
	}
	l.log.Log(context.Background(), level, fmt.Sprintf(format, v...), slog.String("component", "stripe"))
}
