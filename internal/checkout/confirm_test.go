package checkout

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/AnuragParashar2000/ShoeKart/internal/orders/repository"
	"github.com/AnuragParashar2000/ShoeKart/internal/payment/hosted"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completedEvent(t *testing.T, eventID, sessionID string, metadata map[string]string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":   eventID,
		"type": hosted.EventCheckoutCompleted,
		"data": map[string]any{"object": map[string]any{
			"id":              sessionID,
			"customer":        "cus_1",
			"payment_intent":  "pi_1",
			"payment_status":  "paid",
			"amount_subtotal": 400000,
			"amount_total":    430000,
			"currency":        "inr",
			"customer_details": map[string]any{
				"name":    "Ann",
				"email":   "ann@example.com",
				"address": map[string]string{"line1": "1 Main St", "city": "Pune", "country": "IN"},
			},
			"metadata": metadata,
		}},
	})
	require.NoError(t, err)
	return body
}

func signed(payload []byte) string {
	return hosted.SignatureHeaderValue(payload, "whsec_test", time.Now().Unix())
}

func TestConfirm_CreatesOrderFromCompletedSession(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 5}))
	env.addToCart(t, "u1", "A", 9, 2)

	payload := completedEvent(t, "evt_1", "cs_1", map[string]string{
		"user_id": "u1",
		"cart":    `[{"productId":"A","qty":2,"size":9}]`,
	})

	o, err := env.confirmer.HandleWebhook(context.Background(), payload, signed(payload))
	require.NoError(t, err)
	require.NotNil(t, o)

	assert.Equal(t, "u1", o.UserID)
	assert.Equal(t, domain.MethodHosted, o.PaymentMethod)
	assert.Equal(t, domain.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, "evt_1", o.ProviderEventID)
	assert.Equal(t, "pi_1", o.PaymentIntentID)
	assert.True(t, decimal.NewFromInt(4000).Equal(o.Subtotal))
	assert.True(t, decimal.NewFromInt(4300).Equal(o.Total))
	assert.Equal(t, "Pune", o.Shipping.City)
	require.Len(t, o.Products, 1)
	assert.Equal(t, 2, o.Products[0].Quantity, "stock is taken by the cart qty")
	assert.True(t, o.CartCleared)

	assert.Equal(t, 3, env.stockOf(t, "A", 9))
	c, err := env.carts.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestConfirm_ReplayIsIdempotent(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 5}))
	meta := map[string]string{"user_id": "u1", "cart": `[{"productId":"A","qty":1,"size":9}]`}

	payload := completedEvent(t, "evt_1", "cs_1", meta)
	first, err := env.confirmer.HandleWebhook(context.Background(), payload, signed(payload))
	require.NoError(t, err)

	again, err := env.confirmer.HandleWebhook(context.Background(), payload, signed(payload))
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	// a different event for the same session is also a replay
	other := completedEvent(t, "evt_2", "cs_1", meta)
	third, err := env.confirmer.HandleWebhook(context.Background(), other, signed(other))
	require.NoError(t, err)
	assert.Equal(t, first.ID, third.ID)

	assert.Len(t, env.ordersOf(t, "u1"), 1)
	assert.Equal(t, 4, env.stockOf(t, "A", 9))
}

func TestConfirm_ConcurrentDeliveries(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 5}))
	payload := completedEvent(t, "evt_1", "cs_1", map[string]string{
		"user_id": "u1", "cart": `[{"productId":"A","qty":1,"size":9}]`,
	})

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.confirmer.HandleWebhook(context.Background(), payload, signed(payload))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, env.ordersOf(t, "u1"), 1)
	assert.Equal(t, 4, env.stockOf(t, "A", 9), "losing deliveries release what they took")
}

func TestConfirm_ShortfallIsRecorded(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 1}))
	payload := completedEvent(t, "evt_1", "cs_1", map[string]string{
		"user_id": "u1", "cart": `[{"productId":"A","qty":3,"size":9}]`,
	})

	o, err := env.confirmer.HandleWebhook(context.Background(), payload, signed(payload))
	require.NoError(t, err)
	require.Len(t, o.Products, 1)
	assert.Equal(t, 1, o.Products[0].Quantity)
	assert.Equal(t, 0, env.stockOf(t, "A", 9))

	var shortfall *repository.OutboxEvent
	for _, e := range env.orders.Events() {
		if e.EventType == repository.EventInventoryShortfall {
			shortfall = &e
		}
	}
	require.NotNil(t, shortfall)

	var envelope repository.EventEnvelope
	require.NoError(t, json.Unmarshal(shortfall.Payload, &envelope))
	var body repository.InventoryShortfallPayload
	require.NoError(t, json.Unmarshal(envelope.Payload, &body))
	assert.Equal(t, []domain.LineAdjustment{{ProductID: "A", Size: 9, Requested: 3, Granted: 1}}, body.Adjustments)
}

func TestConfirm_NothingInStockOwesRefund(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 2}))
	ctx := context.Background()
	env.addToCart(t, "u1", "A", 9, 2)
	// someone else buys the pair while the customer is on the payment page
	require.NoError(t, env.stock.Commit(ctx, domain.StockLine{ProductID: "A", Size: 9, Qty: 2}))

	payload := completedEvent(t, "evt_1", "cs_1", map[string]string{
		"user_id": "u1", "cart": `[{"productId":"A","qty":2,"size":9},{"productId":"gone","qty":1,"size":8}]`,
	})
	o, err := env.confirmer.HandleWebhook(ctx, payload, signed(payload))
	require.NoError(t, err)

	assert.Empty(t, o.Products)
	assert.Equal(t, domain.PaymentRefundDue, o.PaymentStatus)
	assert.Equal(t, domain.DeliveryCancelled, o.DeliveryStatus)
	assert.True(t, o.Cancellation.IsCancelled)
	assert.Equal(t, domain.ActorSystem, o.Cancellation.CancelledBy)
	assert.Equal(t, domain.InventoryReleased, o.InventoryState)
	assert.True(t, decimal.NewFromInt(4300).Equal(o.Total), "the amount charged stays on record")

	stored, err := env.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentRefundDue, stored.PaymentStatus)
	assert.True(t, stored.CartCleared, "nothing for the reconciler to do")

	var types []string
	for _, e := range env.orders.Events() {
		types = append(types, e.EventType)
	}
	assert.ElementsMatch(t, []string{repository.EventOrderCreated, repository.EventInventoryShortfall, repository.EventOrderCancelled}, types)

	c, err := env.carts.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, c.IsEmpty(), "the cart is kept")

	// a replay returns the same flagged order
	again, err := env.confirmer.HandleWebhook(ctx, payload, signed(payload))
	require.NoError(t, err)
	assert.Equal(t, o.ID, again.ID)
	assert.Len(t, env.ordersOf(t, "u1"), 1)
}

func TestConfirm_UserFromCustomerMetadata(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 5}))
	env.provider.Customers["cus_1"] = &hosted.Customer{ID: "cus_1", Metadata: map[string]string{"userId": "u7"}}

	payload := completedEvent(t, "evt_1", "cs_1", map[string]string{"cart": `[{"productId":"A","qty":1,"size":9}]`})
	o, err := env.confirmer.HandleWebhook(context.Background(), payload, signed(payload))
	require.NoError(t, err)
	assert.Equal(t, "u7", o.UserID)
}

func TestHandleWebhook_RejectsBadSignature(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll, shoe("A", 2000, domain.SizeQuantity{Size: 9, Quantity: 5}))
	payload := completedEvent(t, "evt_1", "cs_1", map[string]string{
		"user_id": "u1", "cart": `[{"productId":"A","qty":1,"size":9}]`,
	})

	_, err := env.confirmer.HandleWebhook(context.Background(), payload, hosted.SignatureHeaderValue(payload, "wrong", time.Now().Unix()))
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, hosted.ErrInvalidSignature)
	assert.Empty(t, env.ordersOf(t, "u1"))
	assert.Equal(t, 5, env.stockOf(t, "A", 9))
}

func TestHandleWebhook_IgnoresOtherEvents(t *testing.T) {
	env := setupEnv(t, domain.ClampToStock, approveAll)
	payload := []byte(`{"id":"evt_9","type":"payment_intent.created","data":{"object":{}}}`)

	o, err := env.confirmer.HandleWebhook(context.Background(), payload, signed(payload))
	assert.NoError(t, err)
	assert.Nil(t, o)
}
