package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/AnuragParashar2000/ShoeKart/internal/cart"
	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/AnuragParashar2000/ShoeKart/internal/inventory"
	"github.com/AnuragParashar2000/ShoeKart/internal/orders/repository"
	"github.com/AnuragParashar2000/ShoeKart/internal/payment"
	"github.com/AnuragParashar2000/ShoeKart/internal/payment/hosted"
	"github.com/AnuragParashar2000/ShoeKart/pkg/logger"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// MockProvider implements Provider for testing
type MockProvider struct {
	mu          sync.Mutex
	Sessions    []hosted.SessionParams
	SessionErr  error
	CustomerErr error
	Customers   map[string]*hosted.Customer
}

func (m *MockProvider) FindOrCreateCustomer(_ context.Context, email, _, _ string) (string, error) {
	if m.CustomerErr != nil {
		return "", m.CustomerErr
	}
	return "cus_" + email, nil
}

func (m *MockProvider) CreateSession(_ context.Context, p hosted.SessionParams) (*hosted.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SessionErr != nil {
		return nil, m.SessionErr
	}
	m.Sessions = append(m.Sessions, p)
	return &hosted.Session{ID: "cs_test", URL: "https://pay.example/cs_test"}, nil
}

func (m *MockProvider) GetCustomer(_ context.Context, id string) (*hosted.Customer, error) {
	if c, ok := m.Customers[id]; ok {
		return c, nil
	}
	return nil, &hosted.APIError{Status: 404, Code: "resource_missing"}
}

// failingOrders wraps a repository and fails the chosen operations.
type failingOrders struct {
	repository.OrderRepository
	createErr      error
	markClearedErr error
}

func (f *failingOrders) CreateOrder(ctx context.Context, o *domain.Order, events ...repository.OutboxEvent) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.OrderRepository.CreateOrder(ctx, o, events...)
}

func (f *failingOrders) MarkCartCleared(ctx context.Context, id uuid.UUID) error {
	if f.markClearedErr != nil {
		return f.markClearedErr
	}
	return f.OrderRepository.MarkCartCleared(ctx, id)
}

// failingCarts fails Clear while delegating reads.
type failingCarts struct {
	Carts
}

func (failingCarts) Clear(context.Context, string) error {
	return errors.New("mongo down")
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingObserver) ObserveCheckout(_ domain.Method, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

type testEnv struct {
	dispatcher *Dispatcher
	confirmer  *Confirmer
	carts      *cart.Service
	stock      *inventory.MemoryStore
	orders     *repository.MemoryRepository
	provider   *MockProvider
}

func shoe(id string, price int64, sizes ...domain.SizeQuantity) *domain.Product {
	return &domain.Product{
		ID:           id,
		Name:         "Runner " + id,
		Brand:        "Nike",
		Price:        decimal.NewFromInt(price),
		SizeQuantity: sizes,
	}
}

// setupEnv wires a dispatcher over memory stores. roll pins the simulated
// card/UPI outcome: rolls below 0.90 approve both.
func setupEnv(t *testing.T, policy domain.ClampPolicy, roll float64, products ...*domain.Product) *testEnv {
	t.Helper()
	log := logger.Discard()
	stock := inventory.NewMemoryStore(products...)
	carts := cart.NewService(cart.NewMemoryRepository(), cart.NopCache{}, stock, log)
	orders := repository.NewMemoryRepository()
	provider := &MockProvider{Customers: map[string]*hosted.Customer{}}
	sim := payment.NewSimulator(payment.FixedChance(roll), payment.DefaultCardSuccessRate, payment.DefaultUPISuccessRate)

	d := NewDispatcher(Config{ClampPolicy: policy}, carts, stock, orders, NewMemoryLocker(), log,
		CODStrategy{},
		NewCardStrategy(sim),
		NewUPIStrategy(sim),
		NewHostedStrategy(provider, HostedConfig{ClientURL: "http://client"}),
	)
	c := NewConfirmer(ConfirmerConfig{WebhookSecret: "whsec_test"}, provider, stock, orders, carts, log)

	return &testEnv{dispatcher: d, confirmer: c, carts: carts, stock: stock, orders: orders, provider: provider}
}

func (e *testEnv) addToCart(t *testing.T, userID, productID string, size, qty int) {
	t.Helper()
	_, err := e.carts.AddItem(context.Background(), userID, productID, size, qty)
	require.NoError(t, err)
}

func (e *testEnv) stockOf(t *testing.T, productID string, size int) int {
	t.Helper()
	products, err := e.stock.GetProducts(context.Background(), []string{productID})
	require.NoError(t, err)
	p, ok := products[productID]
	require.True(t, ok)
	return p.Available(size)
}

func (e *testEnv) ordersOf(t *testing.T, userID string) []*domain.Order {
	t.Helper()
	orders, err := e.orders.ListOrdersByUserID(context.Background(), userID)
	require.NoError(t, err)
	return orders
}
