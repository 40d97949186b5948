// Package checkout turns a user's cart into exactly one order: it picks the
// payment strategy, commits inventory, persists the order with its outbox
// events and clears the cart, compensating when a later step fails.
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
	"github.com/google/uuid"
)

// Carts is the part of the cart service checkout reads and clears.
type Carts interface {
	Priced(ctx context.Context, userID string) ([]domain.PricedLine, error)
	Clear(ctx context.Context, userID string) error
}

// Observer receives one call per finished checkout attempt.
type Observer interface {
	ObserveCheckout(method domain.Method, outcome string)
}

type nopObserver struct{}

func (nopObserver) ObserveCheckout(domain.Method, string) {}

const (
	OutcomeOrdered  = "ordered"
	OutcomeSession  = "session"
	OutcomeReplayed = "replayed"
	OutcomeDeclined = "declined"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

type Config struct {
	ClampPolicy domain.ClampPolicy
	Currency    string
	LockTTL     time.Duration
}

type Dispatcher struct {
	cfg        Config
	carts      Carts
	stock      inventory.Store
	orders     repository.OrderRepository
	locker     Locker
	strategies map[domain.Method]Strategy
	observer   Observer
	log        *slog.Logger
	now        func() time.Time
}

func NewDispatcher(
	cfg Config,
	carts Carts,
	stock inventory.Store,
	orders repository.OrderRepository,
	locker Locker,
	log *slog.Logger,
	strategies ...Strategy,
) *Dispatcher {
	if cfg.ClampPolicy == "" {
		cfg.ClampPolicy = domain.ClampToStock
	}
	if cfg.Currency == "" {
		cfg.Currency = "inr"
	}
	if cfg.LockTTL == 0 {
		cfg.LockTTL = defaultLockTTL
	}
	byMethod := make(map[domain.Method]Strategy, len(strategies))
	for _, s := range strategies {
		byMethod[s.Method()] = s
	}
	return &Dispatcher{
		cfg:        cfg,
		carts:      carts,
		stock:      stock,
		orders:     orders,
		locker:     locker,
		strategies: byMethod,
		observer:   nopObserver{},
		log:        log,
		now:        time.Now,
	}
}

func (d *Dispatcher) WithObserver(o Observer) *Dispatcher {
	d.observer = o
	return d
}

// Checkout runs one checkout attempt for req.UserID. Only one attempt per
// user runs at a time; a repeated idempotency key returns the first order.
func (d *Dispatcher) Checkout(ctx context.Context, req *domain.CheckoutRequest) (*domain.CheckoutResult, error) {
	strategy, ok := d.strategies[req.Method]
	if !ok {
		return nil, domain.Validation("Unsupported payment method")
	}

	res, err := d.checkout(ctx, strategy, req)
	d.observer.ObserveCheckout(req.Method, outcomeOf(res, err))
	return res, err
}

func (d *Dispatcher) checkout(ctx context.Context, strategy Strategy, req *domain.CheckoutRequest) (*domain.CheckoutResult, error) {
	if err := strategy.Validate(req); err != nil {
		return nil, err
	}

	unlock, err := d.locker.Acquire(ctx, "checkout:"+req.UserID, d.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			d.log.WarnContext(ctx, "failed to release checkout lock",
				slog.String("user_id", req.UserID), slog.Any("error", err))
		}
	}()

	if req.IdempotencyKey != "" {
		if res, err := d.replay(ctx, req); res != nil || err != nil {
			return res, err
		}
	}

	lines, err := d.carts.Priced(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, domain.ErrEmptyCart
	}
	if d.cfg.ClampPolicy == domain.RejectShortfall {
		if _, adj := clampLines(lines); len(adj) > 0 {
			return nil, domain.ErrOutOfStock
		}
	}

	if _, ok := strategy.(deferredStrategy); ok {
		return d.openSession(ctx, strategy, req, lines)
	}
	return d.placeOrder(ctx, strategy, req, lines)
}

// openSession prices the session from the stock visible now. Stock is
// committed when the provider confirms the payment.
func (d *Dispatcher) openSession(ctx context.Context, strategy Strategy, req *domain.CheckoutRequest, lines []domain.PricedLine) (*domain.CheckoutResult, error) {
	kept, adjustments := clampLines(lines)
	if len(kept) == 0 {
		return nil, domain.ErrOutOfStock
	}

	receipt, err := strategy.Authorize(ctx, Attempt{Request: req, Lines: kept, Subtotal: domain.Subtotal(kept)})
	if err != nil {
		return nil, err
	}
	d.log.InfoContext(ctx, "hosted session created",
		slog.String("user_id", req.UserID), slog.String("session_id", receipt.SessionID))

	return &domain.CheckoutResult{
		Method:      req.Method,
		SessionID:   receipt.SessionID,
		SessionURL:  receipt.SessionURL,
		Adjustments: adjustments,
	}, nil
}

func (d *Dispatcher) placeOrder(ctx context.Context, strategy Strategy, req *domain.CheckoutRequest, lines []domain.PricedLine) (*domain.CheckoutResult, error) {
	granted, committed, adjustments, err := d.commitStock(ctx, lines)
	if err != nil {
		return nil, err
	}

	receipt, err := strategy.Authorize(ctx, Attempt{Request: req, Lines: granted, Subtotal: domain.Subtotal(granted)})
	if err != nil {
		d.releaseStock(ctx, committed, "authorization failed")
		return nil, err
	}

	order := d.newOrder(req, granted, receipt)
	events, err := orderEvents(order, adjustments)
	if err != nil {
		d.releaseStock(ctx, committed, "event encoding failed")
		return nil, err
	}

	if err := d.orders.CreateOrder(ctx, order, events...); err != nil {
		d.releaseStock(ctx, committed, "order insert failed")
		if errors.Is(err, repository.ErrDuplicateCheckout) && req.IdempotencyKey != "" {
			if res, errReplay := d.replay(ctx, req); res != nil || errReplay != nil {
				return res, errReplay
			}
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	d.log.InfoContext(ctx, "order placed",
		slog.String("order_id", order.ID.String()),
		slog.String("user_id", order.UserID),
		slog.String("payment_method", order.PaymentMethod.String()),
		slog.String("total", order.Total.StringFixed(2)))

	d.clearCart(ctx, order)

	return &domain.CheckoutResult{
		Method:      req.Method,
		OrderID:     order.ID,
		Message:     receipt.Message,
		Adjustments: adjustments,
	}, nil
}

// commitStock takes the cart's stock out of the ledger under the clamp
// policy. granted holds the priced lines reduced to what was committed.
func (d *Dispatcher) commitStock(ctx context.Context, lines []domain.PricedLine) (granted []domain.PricedLine, committed []domain.StockLine, adjustments []domain.LineAdjustment, err error) {
	requested := make([]domain.StockLine, 0, len(lines))
	for _, l := range lines {
		requested = append(requested, domain.StockLine{ProductID: l.ProductID, Size: l.Size, Qty: l.Requested})
	}

	if d.cfg.ClampPolicy == domain.RejectShortfall {
		if err := inventory.CommitAll(ctx, d.stock, requested); err != nil {
			if errors.Is(err, inventory.ErrInsufficientStock) || errors.Is(err, inventory.ErrProductNotFound) {
				return nil, nil, nil, domain.ErrOutOfStock
			}
			return nil, nil, nil, fmt.Errorf("commit inventory: %w", err)
		}
		committed = requested
	} else {
		committed, adjustments, err = inventory.CommitClamped(ctx, d.stock, d.log, requested)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("commit inventory: %w", err)
		}
	}

	qty := make(map[stockKey]int, len(committed))
	for _, c := range committed {
		qty[stockKey{c.ProductID, c.Size}] += c.Qty
	}
	for _, l := range lines {
		k := stockKey{l.ProductID, l.Size}
		n := min(qty[k], l.Requested)
		if n == 0 {
			continue
		}
		qty[k] -= n
		l.Qty = n
		granted = append(granted, l)
	}
	if len(granted) == 0 {
		return nil, nil, nil, domain.ErrOutOfStock
	}
	return granted, committed, adjustments, nil
}

type stockKey struct {
	productID string
	size      int
}

func (d *Dispatcher) newOrder(req *domain.CheckoutRequest, lines []domain.PricedLine, receipt Receipt) *domain.Order {
	now := d.now().UTC()
	products := make([]domain.OrderLine, 0, len(lines))
	for _, l := range lines {
		products = append(products, domain.OrderLine{
			ProductID: l.ProductID,
			Name:      l.Name,
			Quantity:  l.Qty,
			Size:      l.Size,
			UnitPrice: l.UnitPrice,
		})
	}
	subtotal := domain.Subtotal(lines)
	id := uuid.New()

	return &domain.Order{
		ID:              id,
		UserID:          req.UserID,
		CheckoutKey:     checkoutKey(req, id),
		PaymentMethod:   req.Method,
		PaymentIntentID: receipt.TransactionID,
		Products:        products,
		Subtotal:        subtotal,
		Total:           subtotal,
		Currency:        d.cfg.Currency,
		Shipping:        req.BillingAddress,
		BillingAddress:  req.BillingAddress,
		CardDetails:     receipt.Card,
		DeliveryStatus:  domain.DeliveryPending,
		PaymentStatus:   receipt.PaymentStatus,
		InventoryState:  domain.InventoryCommitted,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// checkoutKey scopes client idempotency keys to the user. Without a client
// key every attempt is unique.
func checkoutKey(req *domain.CheckoutRequest, id uuid.UUID) string {
	if req.IdempotencyKey != "" {
		return "idem:" + req.UserID + ":" + req.IdempotencyKey
	}
	return "order:" + id.String()
}

func (d *Dispatcher) replay(ctx context.Context, req *domain.CheckoutRequest) (*domain.CheckoutResult, error) {
	existing, err := d.orders.GetOrderByCheckoutKey(ctx, checkoutKey(req, uuid.Nil))
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check idempotency: %w", err)
	}
	d.log.InfoContext(ctx, "duplicate checkout request",
		slog.String("user_id", req.UserID),
		slog.String("idempotency_key", req.IdempotencyKey),
		slog.String("order_id", existing.ID.String()))
	return &domain.CheckoutResult{
		Method:   existing.PaymentMethod,
		OrderID:  existing.ID,
		Message:  "Order already placed",
		Replayed: true,
	}, nil
}

// clearCart is the last saga step. A failure leaves cart_cleared false for
// the reconciler.
func (d *Dispatcher) clearCart(ctx context.Context, order *domain.Order) {
	clearCart(ctx, d.carts, d.orders, d.log, order)
}

func clearCart(ctx context.Context, carts Carts, orders repository.OrderRepository, log *slog.Logger, order *domain.Order) {
	ctx = context.WithoutCancel(ctx)
	if err := carts.Clear(ctx, order.UserID); err != nil {
		log.WarnContext(ctx, "cart clear failed, left for reconciler",
			slog.String("order_id", order.ID.String()), slog.Any("error", err))
		return
	}
	if err := orders.MarkCartCleared(ctx, order.ID); err != nil {
		log.WarnContext(ctx, "failed to mark cart cleared",
			slog.String("order_id", order.ID.String()), slog.Any("error", err))
		return
	}
	order.CartCleared = true
}

func (d *Dispatcher) releaseStock(ctx context.Context, lines []domain.StockLine, reason string) {
	releaseStock(ctx, d.stock, d.log, lines, reason)
}

func releaseStock(ctx context.Context, stock inventory.Store, log *slog.Logger, lines []domain.StockLine, reason string) {
	if len(lines) == 0 {
		return
	}
	if err := inventory.ReleaseAll(context.WithoutCancel(ctx), stock, lines); err != nil {
		log.ErrorContext(ctx, "failed to release committed stock",
			slog.String("reason", reason), slog.Any("lines", lines), slog.Any("error", err))
		return
	}
	log.InfoContext(ctx, "released committed stock", slog.String("reason", reason), slog.Int("lines", len(lines)))
}

func orderEvents(order *domain.Order, adjustments []domain.LineAdjustment) ([]repository.OutboxEvent, error) {
	created, err := repository.NewOrderCreatedEvent(order)
	if err != nil {
		return nil, err
	}
	events := []repository.OutboxEvent{created}
	if len(adjustments) > 0 {
		shortfall, err := repository.NewInventoryShortfallEvent(order, adjustments)
		if err != nil {
			return nil, err
		}
		events = append(events, shortfall)
	}
	return events, nil
}

// clampLines lowers every line to the stock visible in the snapshot and
// drops lines with nothing left.
func clampLines(lines []domain.PricedLine) ([]domain.PricedLine, []domain.LineAdjustment) {
	var kept []domain.PricedLine
	var adjustments []domain.LineAdjustment
	for _, l := range lines {
		n := min(l.Requested, l.Available)
		if n < l.Requested {
			adjustments = append(adjustments, domain.LineAdjustment{
				ProductID: l.ProductID,
				Size:      l.Size,
				Requested: l.Requested,
				Granted:   n,
			})
		}
		if n > 0 {
			l.Qty = n
			kept = append(kept, l)
		}
	}
	return kept, adjustments
}

func outcomeOf(res *domain.CheckoutResult, err error) string {
	switch {
	case err == nil && res.Replayed:
		return OutcomeReplayed
	case err == nil && res.SessionURL != "":
		return OutcomeSession
	case err == nil:
		return OutcomeOrdered
	case errors.Is(err, domain.ErrPaymentDeclined):
		return OutcomeDeclined
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrStateConflict):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
