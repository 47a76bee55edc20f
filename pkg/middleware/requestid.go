package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/observability"
)

// RequestID attaches a request ID to the context and response. An incoming
// X-Request-ID is honored so callers can correlate across services.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := observability.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
