package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/AnuragParashar2000/ShoeKart/internal/payment/hosted"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type CheckoutRequestDTO struct {
	PaymentMethod  string           `json:"paymentMethod"`
	CardData       *domain.CardData `json:"cardData,omitempty"`
	BillingAddress domain.Address   `json:"billingAddress"`
	Coupon         string           `json:"coupon,omitempty"`

	// CartItems is accepted for older clients; the stored cart is what gets checked out.
	CartItems      json.RawMessage `json:"cartItems,omitempty"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
}

type CheckoutResponseDTO struct {
	Success     bool                    `json:"success"`
	Message     string                  `json:"message,omitempty"`
	URL         string                  `json:"url,omitempty"`
	SessionID   string                  `json:"sessionId,omitempty"`
	OrderID     string                  `json:"orderId,omitempty"`
	Adjustments []domain.LineAdjustment `json:"adjustments,omitempty"`
}

// POST /api/v1/payment/create-checkout-session
func (s *Server) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req CheckoutRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}
	method, err := domain.ParseMethod(req.PaymentMethod)
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" {
		key = req.IdempotencyKey
	}

	res, err := s.checkouts.Checkout(r.Context(), &domain.CheckoutRequest{
		UserID:         claims.UserID,
		Email:          claims.Email,
		Name:           claims.Name,
		Method:         method,
		Card:           req.CardData,
		BillingAddress: req.BillingAddress,
		Coupon:         req.Coupon,
		IdempotencyKey: key,
	})
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	resp := CheckoutResponseDTO{
		Success:     true,
		Message:     res.Message,
		URL:         res.SessionURL,
		SessionID:   res.SessionID,
		Adjustments: res.Adjustments,
	}
	if res.SessionURL == "" {
		resp.OrderID = res.OrderID.String()
	}
	respondJSON(w, http.StatusOK, resp)
}

// POST /api/v1/webhook
func (s *Server) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Unable to read request body")
		return
	}

	order, err := s.webhooks.HandleWebhook(r.Context(), payload, r.Header.Get(hosted.SignatureHeader))
	if err != nil {
		s.log.WarnContext(r.Context(), "webhook rejected", slog.Any("error", err))
		s.handleError(w, r, err)
		return
	}

	resp := map[string]any{"success": true, "received": true}
	if order != nil {
		resp["orderId"] = order.ID.String()
	}
	respondJSON(w, http.StatusOK, resp)
}
