package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/AnuragParashar2000/ShoeKart/internal/orders/repository"
	"github.com/AnuragParashar2000/ShoeKart/internal/payment/hosted"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const approveAll = 0.5

func codRequest(userID string) *domain.CheckoutRequest {
	return &domain.CheckoutRequest{UserID: userID, Email: userID + "@example.com", Method: domain.MethodCOD}
}

func TestCheckout_COD_PlacesOrder(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 5}))
	env.addToCart(t, "u1", "A", 9, 2)

	res, err := env.dispatcher.Checkout(context.Background(), codRequest("u1"))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, res.OrderID)
	assert.Equal(t, "Order placed successfully! Payment will be collected on delivery.", res.Message)
	assert.Empty(t, res.Adjustments)

	orders := env.ordersOf(t, "u1")
	require.Len(t, orders, 1)
	o := orders[0]
	assert.True(t, decimal.NewFromInt(4000).Equal(o.Subtotal))
	assert.True(t, decimal.NewFromInt(4000).Equal(o.Total))
	assert.Equal(t, domain.PaymentPending, o.PaymentStatus)
	assert.Equal(t, domain.DeliveryPending, o.DeliveryStatus)
	assert.Equal(t, domain.InventoryCommitted, o.InventoryState)
	assert.True(t, o.CartCleared)
	require.Len(t, o.Products, 1)
	assert.Equal(t, 2, o.Products[0].Quantity)

	assert.Equal(t, 3, env.stockOf(t, "A", 9))

	c, err := env.carts.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.True(t, c.TotalPrice.IsZero())

	events := env.orders.Events()
	require.Len(t, events, 1)
	assert.Equal(t, repository.EventOrderCreated, events[0].EventType)
	assert.Equal(t, o.ID.String(), events[0].AggregateID)
}

func TestCheckout_SecondCallOnEmptyCartIsRejected(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 5}))
	env.addToCart(t, "u1", "A", 9, 1)

	_, err := env.dispatcher.Checkout(context.Background(), codRequest("u1"))
	require.NoError(t, err)

	_, err = env.dispatcher.Checkout(context.Background(), codRequest("u1"))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, domain.ErrEmptyCart)
	assert.Len(t, env.ordersOf(t, "u1"), 1)
}

func TestCheckout_CardDeclined_LeavesNothingBehind(t *testing.T) {
	// 0.95 fails the 90% card rate
	env := setupEnv(t, domain.ClampToStock, 0.95, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 2}))
	env.addToCart(t, "u1", "A", 9, 2)

	req := codRequest("u1")
	req.Method = domain.MethodCard
	req.Card = &domain.CardData{CardNumber: "4242 4242 4242 4242", CVV: "123"}

	_, err := env.dispatcher.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrPaymentDeclined)
	msg, ok := domain.PublicMessage(err)
	require.True(t, ok)
	assert.Equal(t, "Payment failed. Please try again or use a different card.", msg)

	assert.Empty(t, env.ordersOf(t, "u1"))
	assert.Equal(t, 2, env.stockOf(t, "A", 9), "declined payment releases the committed stock")

	c, err := env.carts.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)
}

func TestCheckout_CardApproved_StoresRedactedCard(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 1500, domain.SizeQuantity{Size: 8, Quantity: 1}))
	env.addToCart(t, "u1", "A", 8, 1)

	req := codRequest("u1")
	req.Method = domain.MethodCard
	req.Card = &domain.CardData{CardNumber: "4242424242421234", CVV: "999", CardType: "visa", CardholderName: "Ann"}

	res, err := env.dispatcher.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Payment successful! Order placed successfully.", res.Message)

	o, err := env.orders.GetOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPaid, o.PaymentStatus)
	require.NotNil(t, o.CardDetails)
	assert.Equal(t, "1234", o.CardDetails.LastFour)
	assert.Equal(t, "visa", o.CardDetails.CardType)
	assert.NotEmpty(t, o.PaymentIntentID)
}

func TestCheckout_CardRequiresDetails(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 1500, domain.SizeQuantity{Size: 8, Quantity: 1}))
	env.addToCart(t, "u1", "A", 8, 1)

	req := codRequest("u1")
	req.Method = domain.MethodCard
	req.Card = &domain.CardData{CardNumber: "4242424242424242"}

	_, err := env.dispatcher.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrValidation)
	msg, _ := domain.PublicMessage(err)
	assert.Equal(t, "Invalid card details", msg)
	assert.Equal(t, 1, env.stockOf(t, "A", 8))
}

func TestCheckout_UPIDeclined(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, 0.97, shoe("A", 1500, domain.SizeQuantity{Size: 8, Quantity: 1}))
	env.addToCart(t, "u1", "A", 8, 1)

	req := codRequest("u1")
	req.Method = domain.MethodUPI

	_, err := env.dispatcher.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrPaymentDeclined)
	assert.Equal(t, 1, env.stockOf(t, "A", 8))
}

func TestCheckout_UnsupportedMethod(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll)
	req := codRequest("u1")
	req.Method = domain.Method("paypal")

	_, err := env.dispatcher.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestCheckout_ClampReportsAdjustment(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll,
		shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 5}),
		shoe("B", 1000, domain.SizeQuantity{Size: 7, Quantity: 2}),
	)
	env.addToCart(t, "u1", "A", 9, 1)
	env.addToCart(t, "u1", "B", 7, 2)

	// someone else buys one B/7 after u1 filled the cart
	env.addToCart(t, "u2", "B", 7, 1)
	_, err := env.dispatcher.Checkout(context.Background(), codRequest("u2"))
	require.NoError(t, err)

	res, err := env.dispatcher.Checkout(context.Background(), codRequest("u1"))
	require.NoError(t, err)
	assert.Equal(t, []domain.LineAdjustment{{ProductID: "B", Size: 7, Requested: 2, Granted: 1}}, res.Adjustments)

	o, err := env.orders.GetOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(3000).Equal(o.Total))
	assert.Equal(t, 0, env.stockOf(t, "B", 7))

	var types []string
	for _, e := range env.orders.Events() {
		if e.AggregateID == o.ID.String() {
			types = append(types, e.EventType)
		}
	}
	assert.Equal(t, []string{repository.EventOrderCreated, repository.EventInventoryShortfall}, types)
}

func TestCheckout_AllLinesClampedToZero(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 1}))
	env.addToCart(t, "u1", "A", 9, 1)
	env.addToCart(t, "u2", "A", 9, 1)

	_, err := env.dispatcher.Checkout(context.Background(), codRequest("u1"))
	require.NoError(t, err)

	_, err = env.dispatcher.Checkout(context.Background(), codRequest("u2"))
	assert.ErrorIs(t, err, domain.ErrOutOfStock)
	assert.ErrorIs(t, err, domain.ErrStateConflict)
	assert.Empty(t, env.ordersOf(t, "u2"))
}

func TestCheckout_RejectPolicy(t *testing.T) {
	env := setupEnv(t, domain.RejectShortfall, approveAll,
		shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 5}),
		shoe("B", 1000, domain.SizeQuantity{Size: 7, Quantity: 1}),
	)
	env.addToCart(t, "u1", "A", 9, 2)
	env.addToCart(t, "u1", "B", 7, 1)
	env.addToCart(t, "u2", "B", 7, 1)

	_, err := env.dispatcher.Checkout(context.Background(), codRequest("u2"))
	require.NoError(t, err)

	_, err = env.dispatcher.Checkout(context.Background(), codRequest("u1"))
	assert.ErrorIs(t, err, domain.ErrOutOfStock)
	assert.Equal(t, 5, env.stockOf(t, "A", 9), "no partial commit under reject")
	assert.Empty(t, env.ordersOf(t, "u1"))
}

func TestCheckout_ConcurrentBuyersOfLastPair(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 1}))
	env.addToCart(t, "u1", "A", 9, 1)
	env.addToCart(t, "u2", "A", 9, 1)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.dispatcher.Checkout(context.Background(), codRequest(user))
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, domain.ErrOutOfStock)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 0, env.stockOf(t, "A", 9))
	assert.Len(t, append(env.ordersOf(t, "u1"), env.ordersOf(t, "u2")...), 1)
}

func TestCheckout_ManyConcurrentBuyersNeverOversell(t *testing.T) {
	const buyers, stock = 20, 7
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 100, domain.SizeQuantity{Size: 9, Quantity: stock}))

	users := make([]string, buyers)
	for i := range users {
		users[i] = uuid.NewString()
		env.addToCart(t, users[i], "A", 9, 2)
	}

	var wg sync.WaitGroup
	for _, user := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.dispatcher.Checkout(context.Background(), codRequest(user))
		}()
	}
	wg.Wait()

	sold := 0
	for _, user := range users {
		for _, o := range env.ordersOf(t, user) {
			for _, l := range o.Products {
				sold += l.Quantity
			}
		}
	}
	assert.Equal(t, stock, sold)
	assert.Equal(t, 0, env.stockOf(t, "A", 9))
}

func TestCheckout_SameUserConcurrentAttempts(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 10}))
	env.addToCart(t, "u1", "A", 9, 1)

	unlock, err := env.dispatcher.locker.Acquire(context.Background(), "checkout:u1", time.Minute)
	require.NoError(t, err)

	_, err = env.dispatcher.Checkout(context.Background(), codRequest("u1"))
	assert.ErrorIs(t, err, ErrCheckoutInProgress)

	require.NoError(t, unlock(context.Background()))
	_, err = env.dispatcher.Checkout(context.Background(), codRequest("u1"))
	assert.NoError(t, err)
}

func TestCheckout_IdempotencyKeyReplay(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 10}))
	env.addToCart(t, "u1", "A", 9, 1)

	req := codRequest("u1")
	req.IdempotencyKey = "key-1"

	first, err := env.dispatcher.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := env.dispatcher.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, 9, env.stockOf(t, "A", 9))

	// the key is scoped to the user
	env.addToCart(t, "u2", "A", 9, 1)
	other := codRequest("u2")
	other.IdempotencyKey = "key-1"
	res, err := env.dispatcher.Checkout(context.Background(), other)
	require.NoError(t, err)
	assert.NotEqual(t, first.OrderID, res.OrderID)
}

func TestCheckout_OrderInsertFailureReleasesStock(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 3}))
	env.addToCart(t, "u1", "A", 9, 2)
	env.dispatcher.orders = &failingOrders{OrderRepository: env.orders, createErr: errors.New("db down")}

	_, err := env.dispatcher.Checkout(context.Background(), codRequest("u1"))
	require.Error(t, err)
	assert.Equal(t, 3, env.stockOf(t, "A", 9))

	c, err := env.carts.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, c.Items, 1)
}

func TestCheckout_CartClearFailureLeftForReconciler(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 3}))
	env.addToCart(t, "u1", "A", 9, 1)
	env.dispatcher.carts = failingCarts{Carts: env.carts}

	res, err := env.dispatcher.Checkout(context.Background(), codRequest("u1"))
	require.NoError(t, err)

	o, err := env.orders.GetOrder(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.False(t, o.CartCleared)

	pending, err := env.orders.ListUnclearedCarts(context.Background(), time.Now().Add(time.Second), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, o.ID, pending[0].ID)
}

func TestCheckout_ObserverOutcomes(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 3}))
	obs := &recordingObserver{}
	env.dispatcher.WithObserver(obs)

	env.addToCart(t, "u1", "A", 9, 1)
	_, _ = env.dispatcher.Checkout(context.Background(), codRequest("u1"))
	_, _ = env.dispatcher.Checkout(context.Background(), codRequest("u1"))

	assert.Equal(t, []string{OutcomeOrdered, OutcomeRejected}, obs.outcomes)
}

func TestCheckout_Hosted_OpensSessionWithoutOrder(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 5}))
	env.addToCart(t, "u1", "A", 9, 2)

	req := codRequest("u1")
	req.Method = domain.MethodHosted
	req.Coupon = "SAVE10"

	res, err := env.dispatcher.Checkout(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/cs_test", res.SessionURL)
	assert.Equal(t, uuid.Nil, res.OrderID)

	assert.Empty(t, env.ordersOf(t, "u1"))
	assert.Equal(t, 5, env.stockOf(t, "A", 9), "stock is committed on confirmation")

	require.Len(t, env.provider.Sessions, 1)
	p := env.provider.Sessions[0]
	assert.Equal(t, "cus_u1@example.com", p.CustomerID)
	assert.Equal(t, "SAVE10", p.Coupon)
	assert.Equal(t, "inr", p.Currency)
	assert.Equal(t, "http://client/checkout-success", p.SuccessURL)
	assert.Equal(t, "http://client/cart", p.CancelURL)
	assert.Equal(t, "u1", p.Metadata["user_id"])
	assert.JSONEq(t, `[{"productId":"A","qty":2,"size":9}]`, p.Metadata["cart"])
	require.Len(t, p.LineItems, 1)
	assert.Equal(t, int64(200000), p.LineItems[0].UnitAmount)
	assert.Equal(t, "size: 9", p.LineItems[0].Description)
	require.Len(t, p.ShippingOptions, 2)
	assert.Equal(t, int64(30000), p.ShippingOptions[1].Amount)
}

func TestCheckout_Hosted_ProviderFailure(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 5}))
	env.addToCart(t, "u1", "A", 9, 1)
	env.provider.SessionErr = hosted.ErrProviderUnavailable

	req := codRequest("u1")
	req.Method = domain.MethodHosted

	_, err := env.dispatcher.Checkout(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrProvider)
	assert.ErrorIs(t, err, hosted.ErrProviderUnavailable)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(199999), MinorUnits(decimal.RequireFromString("1999.99")))
	assert.Equal(t, int64(200000), MinorUnits(decimal.NewFromInt(2000)))
	assert.True(t, decimal.RequireFromString("4300.50").Equal(FromMinorUnits(430050)))
}
