// Package recovery finishes checkout and cancellation side effects that
// failed after the order row was written.
package recovery

import (
	"context"
	"log/slog"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/AnuragParashar2000/ShoeKart/internal/orders/repository"
)

const batchSize = 50

// CartCleaner takes an order's lines out of the user's cart. Lines added
// after placedAt stay.
type CartCleaner interface {
	RemoveOrdered(ctx context.Context, userID string, lines []domain.StockLine, placedAt time.Time) error
}

type InventoryReleaser interface {
	ReleaseInventory(ctx context.Context, o *domain.Order) error
}

// Recorder counts reconciler actions by kind ("cart_cleared",
// "inventory_released") and result.
type Recorder interface {
	ObserveReconcile(action string, ok bool)
}

type nopRecorder struct{}

func (nopRecorder) ObserveReconcile(string, bool) {}

type Reconciler struct {
	interval time.Duration
	// grace keeps the reconciler away from orders whose saga may still be running.
	grace    time.Duration
	repo     repository.OrderRepository
	carts    CartCleaner
	releaser InventoryReleaser
	recorder Recorder
	log      *slog.Logger
	now      func() time.Time
}

func NewReconciler(repo repository.OrderRepository, carts CartCleaner, releaser InventoryReleaser, interval time.Duration, log *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reconciler{
		interval: interval,
		grace:    interval,
		repo:     repo,
		carts:    carts,
		releaser: releaser,
		recorder: nopRecorder{},
		log:      log,
		now:      time.Now,
	}
}

func (r *Reconciler) WithRecorder(rec Recorder) *Reconciler {
	r.recorder = rec
	return r
}

func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.Reconcile(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Reconcile runs one pass over both backlogs.
func (r *Reconciler) Reconcile(ctx context.Context) {
	before := r.now().Add(-r.grace)
	r.clearCarts(ctx, before)
	r.releaseInventory(ctx, before)
}

func (r *Reconciler) clearCarts(ctx context.Context, before time.Time) {
	orders, err := r.repo.ListUnclearedCarts(ctx, before, batchSize)
	if err != nil {
		r.log.ErrorContext(ctx, "failed to list uncleared carts", slog.Any("error", err))
		return
	}
	for _, o := range orders {
		if err := r.carts.RemoveOrdered(ctx, o.UserID, o.StockLines(), o.CreatedAt); err != nil {
			r.recorder.ObserveReconcile("cart_cleared", false)
			r.log.WarnContext(ctx, "reconcile cart clear failed",
				slog.String("order_id", o.ID.String()), slog.Any("error", err))
			continue
		}
		if err := r.repo.MarkCartCleared(ctx, o.ID); err != nil {
			r.recorder.ObserveReconcile("cart_cleared", false)
			r.log.WarnContext(ctx, "reconcile mark cart cleared failed",
				slog.String("order_id", o.ID.String()), slog.Any("error", err))
			continue
		}
		r.recorder.ObserveReconcile("cart_cleared", true)
		r.log.InfoContext(ctx, "cart cleared by reconciler",
			slog.String("order_id", o.ID.String()), slog.String("user_id", o.UserID))
	}
}

func (r *Reconciler) releaseInventory(ctx context.Context, before time.Time) {
	orders, err := r.repo.ListPendingReleases(ctx, before, batchSize)
	if err != nil {
		r.log.ErrorContext(ctx, "failed to list pending releases", slog.Any("error", err))
		return
	}
	for _, o := range orders {
		if err := r.releaser.ReleaseInventory(ctx, o); err != nil {
			r.recorder.ObserveReconcile("inventory_released", false)
			r.log.WarnContext(ctx, "reconcile release failed",
				slog.String("order_id", o.ID.String()), slog.Any("error", err))
			continue
		}
		r.recorder.ObserveReconcile("inventory_released", true)
		r.log.InfoContext(ctx, "inventory released by reconciler", slog.String("order_id", o.ID.String()))
	}
}
