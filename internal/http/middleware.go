package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/AnuragParashar2000/ShoeKart/pkg/logger"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const userKey ctxKey = iota

// Claims is what the login service puts in the bearer token.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) IsAdmin() bool {
	return c.Role == "admin"
}

// AuthMiddleware validates the HS256 bearer token and stores its claims on
// the request context.
func AuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				respondError(w, http.StatusUnauthorized, "Please login to access this resource")
				return
			}

			claims := &Claims{}
			_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
				return secret, nil
			})
			if err != nil || claims.UserID == "" {
				respondError(w, http.StatusUnauthorized, "Invalid Token")
				return
			}

			ctx := context.WithValue(r.Context(), userKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func claimsFromContext(ctx context.Context) *Claims {
	if c, ok := ctx.Value(userKey).(*Claims); ok {
		return c
	}
	return nil
}

// RequestIDMiddleware copies chi's request id into the logger context and
// echoes it back to the client. It must run after middleware.RequestID.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		if requestID != "" {
			w.Header().Set(middleware.RequestIDHeader, requestID)
		}
		ctx := logger.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
