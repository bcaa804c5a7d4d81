package http

import (
	"context"
	"net/http"
	"strings"

	"wesync/internal/entity"
	"wesync/internal/usecase"
)

type contextKey string

const UserContextKey contextKey = "user"

type AuthMiddleware struct {
	authUc usecase.AuthUsecase
}

func NewAuthMiddleware(authUc usecase.AuthUsecase) *AuthMiddleware {
	return &AuthMiddleware{
		authUc: authUc,
	}
}

// Authenticate requires a valid "Bearer <token>" header and stores the claims
// in the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			fail(w, http.StatusUnauthorized, "authorization header required")
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			fail(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}

		claims, err := m.authUc.ValidateAccessToken(parts[1])
		if err != nil {
			fail(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		// Add user claims to context
		ctx := context.WithValue(r.Context(), UserContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClaimsFromContext returns the claims Authenticate stored.
func ClaimsFromContext(ctx context.Context) (*entity.TokenClaims, bool) {
	claims, ok := ctx.Value(UserContextKey).(*entity.TokenClaims)
	return claims, ok && claims != nil
}

// CORS allows the configured browser origin.
func CORS(allowedOrigin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Credentials", "true")

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
