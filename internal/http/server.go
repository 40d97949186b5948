// Package http exposes the storefront API over chi.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/AnuragParashar2000/ShoeKart/internal/favorites"
	"github.com/AnuragParashar2000/ShoeKart/internal/metrics"
	"github.com/AnuragParashar2000/ShoeKart/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Checkouts interface {
	Checkout(ctx context.Context, req *domain.CheckoutRequest) (*domain.CheckoutResult, error)
}

type Webhooks interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*domain.Order, error)
}

type Orders interface {
	List(ctx context.Context, userID string) ([]orders.OrderView, error)
	Cancel(ctx context.Context, req orders.CancelRequest) (*domain.Order, error)
}

type Carts interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	AddItem(ctx context.Context, userID, productID string, size, qty int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, userID, productID string, size int) (*domain.Cart, error)
}

type Favorites interface {
	List(ctx context.Context, userID string) ([]favorites.Item, error)
	Add(ctx context.Context, userID, productID string) error
	Remove(ctx context.Context, userID, productID string) error
	AddFromCart(ctx context.Context, userID, productID string) (*domain.Cart, error)
}

type Config struct {
	JWTSecret          string
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
}

type Server struct {
	cfg       Config
	checkouts Checkouts
	webhooks  Webhooks
	orders    Orders
	carts     Carts
	favorites Favorites
	metrics   *metrics.Metrics
	log       *slog.Logger
}

func NewServer(cfg Config, checkouts Checkouts, webhooks Webhooks, orders Orders, carts Carts, favorites Favorites, m *metrics.Metrics, log *slog.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = 1 << 20 // 1MB
	}
	return &Server{
		cfg:       cfg,
		checkouts: checkouts,
		webhooks:  webhooks,
		orders:    orders,
		carts:     carts,
		favorites: favorites,
		metrics:   m,
		log:       log,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequestSize(s.cfg.MaxRequestBodySize))

		// signed by the provider, not by our users
		r.Post("/webhook", s.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware([]byte(s.cfg.JWTSecret)))

			r.Post("/payment/create-checkout-session", s.CreateCheckoutSession)

			r.Get("/orders", s.ListOrders)
			r.Put("/orders/{id}/cancel", s.CancelOrder)

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", s.GetCart)
				r.Post("/items", s.AddCartItem)
				r.Delete("/items/{productId}/{size}", s.RemoveCartItem)
			})

			r.Route("/favorites", func(r chi.Router) {
				r.Get("/", s.ListFavorites)
				r.Post("/", s.AddFavorite)
				r.Delete("/{productId}", s.RemoveFavorite)
				r.Post("/from-cart/{productId}", s.AddFavoriteFromCart)
			})
		})
	})
	return r
}
