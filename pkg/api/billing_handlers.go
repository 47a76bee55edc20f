package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/billing"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/httputil"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/middleware"
)

// writeBillingError maps the billing error taxonomy onto HTTP statuses.
// Anything unrecognized is an infrastructure failure: logged, and reported
// to the caller as a bare 500.
func (s *Server) writeBillingError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *billing.ValidationError
	var notFoundErr *billing.NotFoundError
	var stateErr *billing.StateError
	switch {
	case errors.As(err, &validationErr):
		httputil.WriteBadRequest(w, validationErr.Error())
	case errors.As(err, &notFoundErr):
		httputil.WriteNotFound(w, notFoundErr.Error())
	case errors.As(err, &stateErr):
		httputil.WriteConflict(w, stateErr.Error())
	default:
		s.logger.WithError(err).
			WithField("path", r.URL.Path).
			Error("billing operation failed")
		httputil.WriteInternalError(w)
	}
}

func (s *Server) handleListPeriods(w http.ResponseWriter, r *http.Request) {
	clientID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	periods, err := s.billing.ListPeriods(r.Context(), clientID)
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"periods": periods})
}

type generatePeriodsRequest struct {
	From        string `json:"from"`
	To          string `json:"to"`
	AmountCents *int64 `json:"amount_cents,omitempty"`
}

func (s *Server) handleGeneratePeriods(w http.ResponseWriter, r *http.Request) {
	clientID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var req generatePeriodsRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	from, err := billing.ParseYearMonth(req.From)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	to, err := billing.ParseYearMonth(req.To)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	created, err := s.billing.GenerateRange(r.Context(), clientID, from, to, req.AmountCents)
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"created": created})
}

func (s *Server) handleInitFirstPeriod(w http.ResponseWriter, r *http.Request) {
	clientID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	period, err := s.billing.InitFirstPeriod(r.Context(), clientID)
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"period": period})
}

func (s *Server) handleClientSummary(w http.ResponseWriter, r *http.Request) {
	clientID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	s.writeSummary(w, r, clientID)
}

// handleOwnSummary serves the summary for the client bound to the caller's
// token. Cliente tokens carry their client_id; a token without one cannot
// see anything.
func (s *Server) handleOwnSummary(w http.ResponseWriter, r *http.Request) {
	token := middleware.GetAuth(r)
	if token == nil || token.ClientID == nil {
		httputil.WriteForbidden(w, "token is not bound to a client")
		return
	}
	s.writeSummary(w, r, *token.ClientID)
}

func (s *Server) writeSummary(w http.ResponseWriter, r *http.Request, clientID int64) {
	summary, err := s.billing.GetSummary(r.Context(), clientID)
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, summary)
}

func (s *Server) handleFullPayment(w http.ResponseWriter, r *http.Request) {
	periodID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	period, err := s.billing.ApplyFullPayment(r.Context(), periodID)
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"period": period})
}

type partialPaymentRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

func (s *Server) handlePartialPayment(w http.ResponseWriter, r *http.Request) {
	periodID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var req partialPaymentRequest
	if err := httputil.ParseJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	period, err := s.billing.ApplyPartialPayment(r.Context(), periodID, req.AmountCents)
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"period": period})
}

func (s *Server) handleSuspend(w http.ResponseWriter, r *http.Request) {
	periodID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	period, err := s.billing.Suspend(r.Context(), periodID)
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"period": period})
}

func (s *Server) handleReactivate(w http.ResponseWriter, r *http.Request) {
	periodID, err := httputil.ParsePathInt64(r, "id")
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	period, err := s.billing.Reactivate(r.Context(), periodID)
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"period": period})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	created, err := s.billing.EnsureCurrentPeriods(r.Context())
	if err != nil {
		// Partial progress is still reported; the sweep logs per-client
		// failures and keeps going.
		s.logger.WithError(err).Error("manual sweep finished with errors")
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"created": created,
			"error":   "sweep finished with errors",
		})
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"created": created})
}

func (s *Server) handleOutstanding(w http.ResponseWriter, r *http.Request) {
	filter := billing.OutstandingFilter{
		Estado: billing.State(httputil.ParseQueryString(r, "estado", "")),
		Query:  httputil.ParseQueryString(r, "q", ""),
	}
	if raw := httputil.ParseQueryString(r, "due_from", ""); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid due_from date: "+raw)
			return
		}
		filter.DueFrom = &t
	}
	if raw := httputil.ParseQueryString(r, "due_to", ""); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid due_to date: "+raw)
			return
		}
		filter.DueTo = &t
	}

	page, err := httputil.ParseQueryInt(r, "page", 1)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	pageSize, err := httputil.ParseQueryInt(r, "page_size", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	result, err := s.billing.ListOutstanding(r.Context(), filter, page, pageSize)
	if err != nil {
		s.writeBillingError(w, r, err)
		return
	}
	httputil.WriteSuccess(w, result)
}
