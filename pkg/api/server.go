// Package api exposes the billing engine over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/auth"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/billing"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/clients"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/middleware"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/observability"
)

// Server wires the HTTP routes to the billing, client and token services.
type Server struct {
	router  *mux.Router
	billing billing.Service
	clients clients.Service
	tokens  *auth.Store
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewServer creates the API server and registers all routes.
func NewServer(
	billingSvc billing.Service,
	clientSvc clients.Service,
	tokens *auth.Store,
	authMW *middleware.AuthMiddleware,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		billing: billingSvc,
		clients: clientSvc,
		tokens:  tokens,
		logger:  logger,
		metrics: metrics,
	}
	s.registerRoutes(authMW)
	return s
}

// Router returns the configured HTTP handler. Requests are traced with a
// server span; when no tracer provider is installed the wrapper is a no-op.
func (s *Server) Router() http.Handler {
	return otelhttp.NewHandler(s.router, "fichas-api")
}

func (s *Server) registerRoutes(authMW *middleware.AuthMiddleware) {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.observeRequests)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(authMW.Handler)

	staff := middleware.RequireRole(auth.RoleAdmin, auth.RoleTrabajador)
	admin := middleware.RequireRole(auth.RoleAdmin)
	cliente := middleware.RequireRole(auth.RoleCliente)

	// Billing: per-client period management.
	api.Handle("/clients/{id}/periods", staff(http.HandlerFunc(s.handleListPeriods))).Methods(http.MethodGet)
	api.Handle("/clients/{id}/periods/generate", staff(http.HandlerFunc(s.handleGeneratePeriods))).Methods(http.MethodPost)
	api.Handle("/clients/{id}/periods/init", staff(http.HandlerFunc(s.handleInitFirstPeriod))).Methods(http.MethodPost)
	api.Handle("/clients/{id}/billing/summary", staff(http.HandlerFunc(s.handleClientSummary))).Methods(http.MethodGet)
	api.Handle("/me/billing/summary", cliente(http.HandlerFunc(s.handleOwnSummary))).Methods(http.MethodGet)

	// Billing: per-period mutations.
	api.Handle("/periods/{id}/pay", staff(http.HandlerFunc(s.handleFullPayment))).Methods(http.MethodPost)
	api.Handle("/periods/{id}/abonos", staff(http.HandlerFunc(s.handlePartialPayment))).Methods(http.MethodPost)
	api.Handle("/periods/{id}/suspend", staff(http.HandlerFunc(s.handleSuspend))).Methods(http.MethodPost)
	api.Handle("/periods/{id}/reactivate", staff(http.HandlerFunc(s.handleReactivate))).Methods(http.MethodPost)

	// Billing: cross-client views and the manual sweep.
	api.Handle("/billing/outstanding", staff(http.HandlerFunc(s.handleOutstanding))).Methods(http.MethodGet)
	api.Handle("/billing/sweep", admin(http.HandlerFunc(s.handleSweep))).Methods(http.MethodPost)

	// Client registry.
	api.Handle("/clients", admin(http.HandlerFunc(s.handleCreateClient))).Methods(http.MethodPost)
	api.Handle("/clients", admin(http.HandlerFunc(s.handleListClients))).Methods(http.MethodGet)
	api.Handle("/clients/{id}", admin(http.HandlerFunc(s.handleGetClient))).Methods(http.MethodGet)
	api.Handle("/clients/{id}", admin(http.HandlerFunc(s.handleUpdateClient))).Methods(http.MethodPut)

	// Token issuance.
	api.Handle("/auth/tokens", admin(http.HandlerFunc(s.handleCreateToken))).Methods(http.MethodPost)
	api.Handle("/auth/tokens/{id}", admin(http.HandlerFunc(s.handleRevokeToken))).Methods(http.MethodDelete)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// observeRequests records per-route request duration, labeled with the mux
// route template so period IDs do not explode label cardinality.
func (s *Server) observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.ObserveHTTP(route, r.Method, rec.status, time.Since(start))
	})
}
