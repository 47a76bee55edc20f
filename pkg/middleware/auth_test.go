package middleware

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/auth"
)

func newTestAuth(t *testing.T, bootstrap string) (*AuthMiddleware, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewAuthMiddleware(auth.NewStore(db), bootstrap), mock
}

func captureToken(captured **auth.Token) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = GetAuth(r)
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthMiddleware(t *testing.T) {
	t.Run("missing header is unauthorized", func(t *testing.T) {
		mw, _ := newTestAuth(t, "")

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		mw.Handler(captureToken(new(*auth.Token))).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"error":"missing authorization header"}`, rec.Body.String())
	})

	t.Run("non-bearer header is unauthorized", func(t *testing.T) {
		mw, _ := newTestAuth(t, "")

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic abc123")
		mw.Handler(captureToken(new(*auth.Token))).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bootstrap token resolves to a synthetic admin", func(t *testing.T) {
		mw, _ := newTestAuth(t, "letmein-once")

		var got *auth.Token
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer letmein-once")
		mw.Handler(captureToken(&got)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, got)
		assert.Equal(t, auth.RoleAdmin, got.Role)
		assert.Equal(t, "bootstrap", got.Name)
	})

	t.Run("stored token resolves through the store", func(t *testing.T) {
		mw, mock := newTestAuth(t, "")

		plaintext, hash, prefix, err := auth.GenerateToken()
		require.NoError(t, err)

		columns := []string{
			"id", "token_hash", "token_prefix", "name", "role",
			"client_id", "expires_at", "revoked_at", "last_used_at", "created_at",
		}
		mock.ExpectQuery("SELECT (.+) FROM api_tokens WHERE token_hash =").
			WithArgs(hash).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(1, hash, prefix, "caja", auth.RoleTrabajador, nil, nil, nil, nil, time.Now()))
		mock.ExpectExec("UPDATE api_tokens SET last_used_at").
			WithArgs(int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		var got *auth.Token
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+plaintext)
		mw.Handler(captureToken(&got)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		require.NotNil(t, got)
		assert.Equal(t, auth.RoleTrabajador, got.Role)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown token is unauthorized", func(t *testing.T) {
		mw, mock := newTestAuth(t, "")

		plaintext, hash, _, err := auth.GenerateToken()
		require.NoError(t, err)

		mock.ExpectQuery("SELECT (.+) FROM api_tokens WHERE token_hash =").
			WithArgs(hash).
			WillReturnError(sql.ErrNoRows)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+plaintext)
		mw.Handler(captureToken(new(*auth.Token))).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	t.Run("allows a listed role", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithAuth(req.Context(), &auth.Token{Role: auth.RoleTrabajador}))

		RequireRole(auth.RoleAdmin, auth.RoleTrabajador)(ok).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("forbids an unlisted role", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithAuth(req.Context(), &auth.Token{Role: auth.RoleCliente}))

		RequireRole(auth.RoleAdmin)(ok).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		assert.JSONEq(t, `{"error":"insufficient role permissions"}`, rec.Body.String())
	})

	t.Run("unauthenticated request is unauthorized", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		RequireRole(auth.RoleAdmin)(ok).ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
