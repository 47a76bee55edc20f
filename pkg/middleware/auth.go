// Package middleware provides the HTTP middleware chain: authentication,
// role gating and request IDs.
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/auth"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/httputil"
)

type contextKey string

const authKey contextKey = "auth"

// AuthMiddleware resolves Bearer tokens into an auth.Token in the request
// context. A configured bootstrap admin token lets the first real admin
// token be issued on a fresh install.
type AuthMiddleware struct {
	store          *auth.Store
	bootstrapAdmin string
}

// NewAuthMiddleware creates the authentication middleware.
func NewAuthMiddleware(store *auth.Store, bootstrapAdmin string) *AuthMiddleware {
	return &AuthMiddleware{store: store, bootstrapAdmin: bootstrapAdmin}
}

// Handler wraps next with Bearer token authentication.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			unauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			unauthorized(w, "invalid authorization header format")
			return
		}
		raw := parts[1]

		if m.bootstrapAdmin != "" &&
			subtle.ConstantTimeCompare([]byte(raw), []byte(m.bootstrapAdmin)) == 1 {
			token := &auth.Token{Name: "bootstrap", Role: auth.RoleAdmin, CreatedAt: time.Now()}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), token)))
			return
		}

		token, err := m.store.ValidateToken(r.Context(), raw)
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), token)))
	})
}

// WithAuth stores the resolved token in the context.
func WithAuth(ctx context.Context, token *auth.Token) context.Context {
	return context.WithValue(ctx, authKey, token)
}

// GetAuth extracts the resolved token from the request, nil if absent.
func GetAuth(r *http.Request) *auth.Token {
	token, _ := r.Context().Value(authKey).(*auth.Token)
	return token
}

// RequireRole gates a handler to the given roles.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := GetAuth(r)
			if token == nil {
				unauthorized(w, "authentication required")
				return
			}
			for _, role := range roles {
				if token.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			forbidden(w, "insufficient role permissions")
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	httputil.WriteErrorMessage(w, http.StatusUnauthorized, message)
}

func forbidden(w http.ResponseWriter, message string) {
	httputil.WriteForbidden(w, message)
}
