package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/AnuragParashar2000/ShoeKart/internal/domain"
)

type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", slog.Any("error", err))
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{Success: false, Message: message})
}

// statusOf maps a domain error kind onto an HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStateConflict):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPaymentDeclined):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes err to the client. Only domain errors expose their
// message; everything else is logged and answered with a generic 500.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg, ok := domain.PublicMessage(err)
	if !ok || status == http.StatusInternalServerError {
		s.log.ErrorContext(r.Context(), "request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if status >= http.StatusInternalServerError {
		s.log.WarnContext(r.Context(), "upstream failure", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	respondError(w, status, msg)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.Validation("Invalid JSON body")
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return domain.Validation("Invalid JSON body")
}
