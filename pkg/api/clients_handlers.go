package api

import (
	"errors"
	"net/http"

	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/clients"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/httputil"
)

func (s *Server) writeClientError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, clients.ErrNotFound) {
		httputil.WriteNotFound(w, "client not found")
		return
	}
	s.logger.WithError(err).
		WithField("path", r.URL.Path).
		Error("client operation failed")
	httputil.WriteInternalError(w)
}

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var req clients.CreateClientRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	client, err := s.clients.Create(r.Context(), &req)
	if err != nil {
		// Create only fails on bad input or storage trouble; bad input
		// carries a plain validation message.
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	httputil.WriteCreated(w, client)
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	list, err := s.clients.List(r.Context())
	if err != nil {
		s.writeClientError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"clients": list})
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	client, err := s.clients.Get(r.Context(), id)
	if err != nil {
		s.writeClientError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, client)
}

func (s *Server) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var req clients.UpdateClientRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	client, err := s.clients.Update(r.Context(), id, &req)
	if err != nil {
		s.writeClientError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, client)
}
