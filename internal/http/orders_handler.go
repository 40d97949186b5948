package http

import (
	"net/http"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/AnuragParashar2000/ShoeKart/internal/orders"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type CancelRequestDTO struct {
	Reason string `json:"reason"`
}

// GET /api/v1/orders
func (s *Server) ListOrders(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	views, err := s.orders.List(r.Context(), claims.UserID)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "orders": views})
}

// PUT /api/v1/orders/{id}/cancel
func (s *Server) CancelOrder(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.handleError(w, r, domain.ErrOrderNotFound)
		return
	}

	var req CancelRequestDTO
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}

	actor := domain.ActorUser
	if claims.IsAdmin() {
		actor = domain.ActorAdmin
	}
	order, err := s.orders.Cancel(r.Context(), orders.CancelRequest{
		OrderID: id,
		UserID:  claims.UserID,
		Reason:  req.Reason,
		Actor:   actor,
	})
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Order cancelled successfully",
		"order":   orders.ViewOf(order),
	})
}
