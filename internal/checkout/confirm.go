package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/AnuragParashar2000/ShoeKart/internal/inventory"
	"github.com/AnuragParashar2000/ShoeKart/internal/orders/repository"
	"github.com/AnuragParashar2000/ShoeKart/internal/payment/hosted"
	"github.com/google/uuid"
)

// ErrBadSignature wraps webhook payloads that fail verification.
var ErrBadSignature = domain.Validation("Webhook signature verification failed")

const unfulfilledReason = "All items were out of stock"

type ConfirmerConfig struct {
	WebhookSecret string
	Tolerance     time.Duration
}

// Confirmer creates the order for a completed hosted session. Replayed
// events return the order created the first time.
type Confirmer struct {
	cfg      ConfirmerConfig
	provider Provider
	stock    inventory.Store
	orders   repository.OrderRepository
	carts    Carts
	observer Observer
	log      *slog.Logger
	now      func() time.Time
}

func NewConfirmer(cfg ConfirmerConfig, provider Provider, stock inventory.Store, orders repository.OrderRepository, carts Carts, log *slog.Logger) *Confirmer {
	if cfg.Tolerance == 0 {
		cfg.Tolerance = hosted.DefaultTolerance
	}
	return &Confirmer{
		cfg:      cfg,
		provider: provider,
		stock:    stock,
		orders:   orders,
		carts:    carts,
		observer: nopObserver{},
		log:      log,
		now:      time.Now,
	}
}

func (c *Confirmer) WithObserver(o Observer) *Confirmer {
	c.observer = o
	return c
}

// HandleWebhook verifies and applies one provider event. Events other than a
// completed checkout are acknowledged and ignored, returning a nil order.
func (c *Confirmer) HandleWebhook(ctx context.Context, payload []byte, signature string) (*domain.Order, error) {
	ev, err := hosted.ConstructEvent(payload, signature, c.cfg.WebhookSecret, c.cfg.Tolerance)
	if errors.Is(err, hosted.ErrInvalidSignature) {
		return nil, &domain.Error{Kind: domain.ErrValidation, Message: ErrBadSignature.Message, Err: err}
	}
	if err != nil {
		return nil, &domain.Error{Kind: domain.ErrValidation, Message: "Malformed webhook event", Err: err}
	}
	if ev.Type != hosted.EventCheckoutCompleted {
		c.log.DebugContext(ctx, "ignoring webhook event", slog.String("event_id", ev.ID), slog.String("type", ev.Type))
		return nil, nil
	}
	return c.Confirm(ctx, ev)
}

func (c *Confirmer) Confirm(ctx context.Context, ev *hosted.Event) (*domain.Order, error) {
	order, replayed, err := c.confirm(ctx, ev)
	outcome := OutcomeOrdered
	switch {
	case err != nil:
		outcome = OutcomeFailed
	case replayed:
		outcome = OutcomeReplayed
	}
	c.observer.ObserveCheckout(domain.MethodHosted, outcome)
	return order, err
}

func (c *Confirmer) confirm(ctx context.Context, ev *hosted.Event) (*domain.Order, bool, error) {
	session, err := ev.CompletedSession()
	if err != nil {
		return nil, false, &domain.Error{Kind: domain.ErrValidation, Message: "Malformed webhook event", Err: err}
	}

	if existing, err := c.existing(ctx, ev.ID, session.ID); existing != nil || err != nil {
		return existing, existing != nil, err
	}

	entries, err := session.Cart()
	if err != nil {
		return nil, false, &domain.Error{Kind: domain.ErrValidation, Message: "Malformed webhook event", Err: err}
	}
	userID, err := c.userID(ctx, session)
	if err != nil {
		return nil, false, err
	}

	requested := make([]domain.StockLine, 0, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Qty <= 0 {
			continue
		}
		requested = append(requested, domain.StockLine{ProductID: e.ProductID, Size: e.Size, Qty: e.Qty})
		ids = append(ids, e.ProductID)
	}
	products, err := c.stock.GetProducts(ctx, ids)
	if err != nil {
		return nil, false, fmt.Errorf("load products: %w", err)
	}

	// The payment already happened, so a shortfall is recorded rather than
	// refused.
	committed, shortfalls, err := inventory.CommitClamped(ctx, c.stock, c.log, requested)
	if err != nil {
		return nil, false, fmt.Errorf("commit inventory: %w", err)
	}

	order := c.newOrder(ev, session, userID, committed, products)
	unfulfilled := len(committed) == 0
	if unfulfilled {
		c.markUnfulfilled(order)
	}
	events, err := orderEvents(order, shortfalls)
	if err != nil {
		releaseStock(ctx, c.stock, c.log, committed, "event encoding failed")
		return nil, false, err
	}
	if unfulfilled {
		cancelled, err := repository.NewOrderCancelledEvent(order, false)
		if err != nil {
			return nil, false, err
		}
		events = append(events, cancelled)
	}

	if err := c.orders.CreateOrder(ctx, order, events...); err != nil {
		releaseStock(ctx, c.stock, c.log, committed, "order insert failed")
		if errors.Is(err, repository.ErrDuplicateCheckout) {
			// A concurrent delivery of the same event won.
			if existing, errFind := c.existing(ctx, ev.ID, session.ID); existing != nil || errFind != nil {
				return existing, existing != nil, errFind
			}
		}
		return nil, false, fmt.Errorf("create order: %w", err)
	}

	c.log.InfoContext(ctx, "hosted order confirmed",
		slog.String("order_id", order.ID.String()),
		slog.String("user_id", userID),
		slog.String("event_id", ev.ID),
		slog.String("session_id", session.ID),
		slog.Int("shortfalls", len(shortfalls)))

	if unfulfilled {
		c.log.WarnContext(ctx, "hosted order has nothing to fulfil",
			slog.String("order_id", order.ID.String()),
			slog.String("payment_status", string(order.PaymentStatus)),
			slog.String("total", order.Total.String()))
		return order, false, nil
	}
	clearCart(ctx, c.carts, c.orders, c.log, order)
	return order, false, nil
}

// markUnfulfilled closes an order whose every line fell short. A paid order
// is left owing a refund; the cart is kept so the user can shop again.
func (c *Confirmer) markUnfulfilled(o *domain.Order) {
	_ = o.Cancel(domain.ActorSystem, unfulfilledReason, o.CreatedAt)
	if o.PaymentStatus == domain.PaymentPaid {
		o.PaymentStatus = domain.PaymentRefundDue
	}
	o.InventoryState = domain.InventoryReleased
	o.CartCleared = true
}

func (c *Confirmer) existing(ctx context.Context, eventID, sessionID string) (*domain.Order, error) {
	o, err := c.orders.GetOrderByProviderEvent(ctx, eventID)
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, repository.ErrOrderNotFound) {
		return nil, fmt.Errorf("lookup provider event: %w", err)
	}

	o, err = c.orders.GetOrderByCheckoutKey(ctx, sessionKey(sessionID))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, repository.ErrOrderNotFound) {
		return nil, fmt.Errorf("lookup session: %w", err)
	}
	return nil, nil
}

// userID prefers the session metadata and falls back to the customer record.
func (c *Confirmer) userID(ctx context.Context, s *hosted.CompletedSession) (string, error) {
	if id := s.Metadata["user_id"]; id != "" {
		return id, nil
	}
	if s.Customer == "" {
		return "", domain.Validation("Webhook session has no user")
	}
	cust, err := c.provider.GetCustomer(ctx, s.Customer)
	if err != nil {
		return "", providerError(err)
	}
	if id := cust.Metadata["userId"]; id != "" {
		return id, nil
	}
	return "", domain.Validation("Webhook session has no user")
}

func (c *Confirmer) newOrder(ev *hosted.Event, s *hosted.CompletedSession, userID string, committed []domain.StockLine, products map[string]*domain.Product) *domain.Order {
	now := c.now().UTC()
	lines := make([]domain.OrderLine, 0, len(committed))
	for _, l := range committed {
		line := domain.OrderLine{ProductID: l.ProductID, Quantity: l.Qty, Size: l.Size}
		if p, ok := products[l.ProductID]; ok {
			line.Name = p.DisplayName()
			line.UnitPrice = p.Price
		}
		lines = append(lines, line)
	}

	cd := s.CustomerDetails
	shipping := domain.Address{
		Name:       cd.Name,
		Email:      cd.Email,
		Phone:      cd.Phone,
		Line1:      cd.Address.Line1,
		Line2:      cd.Address.Line2,
		City:       cd.Address.City,
		State:      cd.Address.State,
		PostalCode: cd.Address.PostalCode,
		Country:    cd.Address.Country,
	}
	currency := s.Currency
	if currency == "" {
		currency = "inr"
	}

	return &domain.Order{
		ID:              uuid.New(),
		UserID:          userID,
		CheckoutKey:     sessionKey(s.ID),
		PaymentMethod:   domain.MethodHosted,
		PaymentIntentID: s.PaymentIntent,
		ProviderEventID: ev.ID,
		Products:        lines,
		Subtotal:        FromMinorUnits(s.AmountSubtotal),
		Total:           FromMinorUnits(s.AmountTotal),
		Currency:        currency,
		Shipping:        shipping,
		BillingAddress:  shipping,
		DeliveryStatus:  domain.DeliveryPending,
		PaymentStatus:   domain.ParsePaymentStatus(s.PaymentStatus),
		InventoryState:  domain.InventoryCommitted,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}
