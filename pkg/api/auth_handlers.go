package api

import (
	"net/http"

	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/auth"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/httputil"
)

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req auth.CreateTokenRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	token, plaintext, err := s.tokens.CreateToken(r.Context(), &req)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	s.logger.WithField("token_name", token.Name).
		WithField("role", string(token.Role)).
		Info("api token issued")

	// The plaintext token is shown exactly once.
	httputil.WriteCreated(w, map[string]interface{}{
		"token":     token,
		"plaintext": plaintext,
	})
}

func (s *Server) handleRevokeToken(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if err := s.tokens.RevokeToken(r.Context(), id); err != nil {
		httputil.WriteNotFound(w, err.Error())
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "revoked"})
}
