// Package orders serves order history, the cancellation gate and delivery
// status updates on top of the order repository.
package orders

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

const (
	updateAttempts = 3
	// defaultReleaseLease bounds how long a crashed releaser keeps its claim.
	defaultReleaseLease = 2 * time.Minute
)

// ProductReader resolves product details for order history.
type ProductReader interface {
	GetProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error)
}

type Options struct {
	RestockOnCancel bool
	ReleaseLease    time.Duration
}

type Service struct {
	repo     repository.OrderRepository
	stock    inventory.Store
	products ProductReader
	opts     Options
	log      *slog.Logger
	now      func() time.Time
}

func NewService(repo repository.OrderRepository, stock inventory.Store, products ProductReader, opts Options, log *slog.Logger) *Service {
	if opts.ReleaseLease <= 0 {
		opts.ReleaseLease = defaultReleaseLease
	}
	return &Service{
		repo:     repo,
		stock:    stock,
		products: products,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// List returns the user's orders, newest first, with product details joined in.
func (s *Service) List(ctx context.Context, userID string) ([]OrderView, error) {
	orders, err := s.repo.ListOrdersByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, o := range orders {
		for _, l := range o.Products {
			if _, ok := seen[l.ProductID]; !ok {
				seen[l.ProductID] = struct{}{}
				ids = append(ids, l.ProductID)
			}
		}
	}
	products := map[string]*domain.Product{}
	if len(ids) > 0 {
		if products, err = s.products.GetProducts(ctx, ids); err != nil {
			return nil, fmt.Errorf("load order products: %w", err)
		}
	}

	views := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, newOrderView(o, products))
	}
	return views, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID, userID string) (*domain.Order, error) {
	o, err := s.repo.GetOrder(ctx, id)
	if errors.Is(err, repository.ErrOrderNotFound) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

type CancelRequest struct {
	OrderID uuid.UUID
	UserID  string
	Reason  string
	Actor   domain.Actor
}

// Cancel runs the cancellation gate. Users may only cancel their own orders;
// admin and system actors may cancel any order.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (*domain.Order, error) {
	if req.Actor == "" {
		req.Actor = domain.ActorUser
	}

	var order *domain.Order
	var restock bool
	err := s.update(ctx, req.OrderID, func(o *domain.Order) ([]repository.OutboxEvent, error) {
		if req.Actor == domain.ActorUser && o.UserID != req.UserID {
			return nil, domain.ErrOrderNotFound
		}
		if err := o.Cancel(req.Actor, req.Reason, s.now().UTC()); err != nil {
			return nil, err
		}
		restock = s.opts.RestockOnCancel && o.InventoryState == domain.InventoryCommitted
		if restock {
			o.InventoryState = domain.InventoryReleasePending
		}
		ev, err := repository.NewOrderCancelledEvent(o, restock)
		if err != nil {
			return nil, err
		}
		order = o
		return []repository.OutboxEvent{ev}, nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "order cancelled",
		slog.String("order_id", order.ID.String()),
		slog.String("user_id", order.UserID),
		slog.String("cancelled_by", string(req.Actor)),
		slog.Bool("restock", restock))

	if restock {
		if err := s.ReleaseInventory(ctx, order); err != nil {
			s.log.WarnContext(ctx, "restock failed, left for reconciler",
				slog.String("order_id", order.ID.String()), slog.Any("error", err))
		}
	}
	return order, nil
}

// ReleaseInventory returns a cancelled order's stock to the ledger. The order
// is claimed first, so concurrent releasers never both restock it, and every
// returned line is recorded before the next one goes back. Lines whose
// product is gone are skipped for good. Lines that failed for another reason
// leave the order release_pending for the reconciler.
func (s *Service) ReleaseInventory(ctx context.Context, o *domain.Order) error {
	ctx = context.WithoutCancel(ctx)
	claimed, err := s.repo.ClaimRelease(ctx, o.ID, s.now().Add(-s.opts.ReleaseLease))
	if errors.Is(err, repository.ErrReleaseNotClaimed) {
		s.log.DebugContext(ctx, "release claimed elsewhere", slog.String("order_id", o.ID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim release: %w", err)
	}

	var failed error
	for i := range claimed.Products {
		line := &claimed.Products[i]
		if line.Restock != "" {
			continue
		}
		err := s.stock.Release(ctx, domain.StockLine{ProductID: line.ProductID, Size: line.Size, Qty: line.Quantity})
		switch {
		case err == nil:
			line.Restock = domain.RestockReturned
		case errors.Is(err, inventory.ErrProductNotFound), errors.Is(err, inventory.ErrInvalidQuantity):
			line.Restock = domain.RestockSkipped
			s.log.WarnContext(ctx, "order line cannot be restocked",
				slog.String("order_id", claimed.ID.String()),
				slog.String("product_id", line.ProductID),
				slog.Int("size", line.Size),
				slog.Any("error", err))
		default:
			failed = errors.Join(failed, fmt.Errorf("release %s size %d: %w", line.ProductID, line.Size, err))
			continue
		}
		if err := s.repo.RecordRestock(ctx, claimed.ID, claimed.Products); err != nil {
			// The stale claim is picked up again later; at most this line repeats.
			return fmt.Errorf("record restock: %w", err)
		}
	}

	next := domain.InventoryReleased
	if failed != nil {
		next = domain.InventoryReleasePending
	}
	if err := s.repo.FinishRelease(ctx, claimed.ID, next); err != nil {
		return errors.Join(failed, fmt.Errorf("finish release: %w", err))
	}
	o.Products = claimed.Products
	o.InventoryState = next
	return failed
}

// Advance applies a fulfillment update. Backward moves and updates to
// cancelled orders return ErrIllegalTransition.
func (s *Service) Advance(ctx context.Context, id uuid.UUID, to domain.DeliveryStatus) (*domain.Order, error) {
	var order *domain.Order
	err := s.update(ctx, id, func(o *domain.Order) ([]repository.OutboxEvent, error) {
		if err := o.Advance(to, s.now().UTC()); err != nil {
			return nil, err
		}
		order = o
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "delivery status advanced",
		slog.String("order_id", id.String()), slog.String("delivery_status", to.String()))
	return order, nil
}

// update re-reads the order and reapplies mutate when a concurrent writer
// bumped the version first.
func (s *Service) update(ctx context.Context, id uuid.UUID, mutate func(*domain.Order) ([]repository.OutboxEvent, error)) error {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		o, err := s.repo.GetOrder(ctx, id)
		if errors.Is(err, repository.ErrOrderNotFound) {
			return domain.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("get order: %w", err)
		}

		events, err := mutate(o)
		if err != nil {
			return err
		}

		err = s.repo.UpdateOrder(ctx, o, events...)
		if errors.Is(err, repository.ErrVersionConflict) {
			s.log.DebugContext(ctx, "order version conflict, retrying", slog.String("order_id", id.String()))
			continue
		}
		if err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		return nil
	}
	return domain.Conflict("Order was modified concurrently, please retry")
}
