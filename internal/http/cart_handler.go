package http

import (
	"net/http"
	"strconv"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
	"github.com/go-chi/chi/v5"
)

type AddItemRequestDTO struct {
	ProductID string `json:"productId"`
	Size      int    `json:"size"`
	Qty       int    `json:"qty"`
}

func (s *Server) GetCart(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	c, err := s.carts.GetCart(r.Context(), claims.UserID)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "cart": c})
}

func (s *Server) AddCartItem(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req AddItemRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}
	c, err := s.carts.AddItem(r.Context(), claims.UserID, req.ProductID, req.Size, req.Qty)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"success": true, "cart": c})
}

func (s *Server) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	size, err := strconv.Atoi(chi.URLParam(r, "size"))
	if err != nil {
		s.handleError(w, r, domain.Validation("Size must be a number"))
		return
	}
	c, err := s.carts.RemoveItem(r.Context(), claims.UserID, chi.URLParam(r, "productId"), size)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "cart": c})
}
