package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type AddFavoriteRequestDTO struct {
	ProductID string `json:"productId"`
}

func (s *Server) ListFavorites(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	items, err := s.favorites.List(r.Context(), claims.UserID)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "favorites": items})
}

func (s *Server) AddFavorite(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	var req AddFavoriteRequestDTO
	if err := decodeJSON(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}
	if err := s.favorites.Add(r.Context(), claims.UserID, req.ProductID); err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Product added to favorites successfully"})
}

func (s *Server) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	if err := s.favorites.Remove(r.Context(), claims.UserID, chi.URLParam(r, "productId")); err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Product removed from favorites successfully"})
}

func (s *Server) AddFavoriteFromCart(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())

	c, err := s.favorites.AddFromCart(r.Context(), claims.UserID, chi.URLParam(r, "productId"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Product added to favorites successfully",
		"cart":    c,
	})
}
