package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/auth"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/billing"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/clients"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/middleware"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/observability"
)

const bootstrapToken = "test-bootstrap-token"

// mockBillingService is a mock implementation of billing.Service
type mockBillingService struct {
	listPeriodsFunc          func(ctx context.Context, clientID int64) ([]*billing.Period, error)
	generateRangeFunc        func(ctx context.Context, clientID int64, from, to billing.YearMonth, override *int64) (int, error)
	initFirstPeriodFunc      func(ctx context.Context, clientID int64) (*billing.Period, error)
	ensureCurrentPeriodsFunc func(ctx context.Context) (int, error)
	applyFullPaymentFunc     func(ctx context.Context, periodID int64) (*billing.Period, error)
	applyPartialPaymentFunc  func(ctx context.Context, periodID int64, amountCents int64) (*billing.Period, error)
	suspendFunc              func(ctx context.Context, periodID int64) (*billing.Period, error)
	reactivateFunc           func(ctx context.Context, periodID int64) (*billing.Period, error)
	getSummaryFunc           func(ctx context.Context, clientID int64) (*billing.Summary, error)
	listOutstandingFunc      func(ctx context.Context, filter billing.OutstandingFilter, page, pageSize int) (*billing.OutstandingPage, error)
}

func (m *mockBillingService) ListPeriods(ctx context.Context, clientID int64) ([]*billing.Period, error) {
	if m.listPeriodsFunc != nil {
		return m.listPeriodsFunc(ctx, clientID)
	}
	return nil, nil
}

func (m *mockBillingService) GenerateRange(ctx context.Context, clientID int64, from, to billing.YearMonth, override *int64) (int, error) {
	if m.generateRangeFunc != nil {
		return m.generateRangeFunc(ctx, clientID, from, to, override)
	}
	return 0, nil
}

func (m *mockBillingService) InitFirstPeriod(ctx context.Context, clientID int64) (*billing.Period, error) {
	if m.initFirstPeriodFunc != nil {
		return m.initFirstPeriodFunc(ctx, clientID)
	}
	return &billing.Period{ID: 1, ClientID: clientID}, nil
}

func (m *mockBillingService) EnsureCurrentPeriods(ctx context.Context) (int, error) {
	if m.ensureCurrentPeriodsFunc != nil {
		return m.ensureCurrentPeriodsFunc(ctx)
	}
	return 0, nil
}

func (m *mockBillingService) ApplyFullPayment(ctx context.Context, periodID int64) (*billing.Period, error) {
	if m.applyFullPaymentFunc != nil {
		return m.applyFullPaymentFunc(ctx, periodID)
	}
	return &billing.Period{ID: periodID, State: billing.StatePagado}, nil
}

func (m *mockBillingService) ApplyPartialPayment(ctx context.Context, periodID int64, amountCents int64) (*billing.Period, error) {
	if m.applyPartialPaymentFunc != nil {
		return m.applyPartialPaymentFunc(ctx, periodID, amountCents)
	}
	return &billing.Period{ID: periodID, AmountPaidCents: amountCents}, nil
}

func (m *mockBillingService) Suspend(ctx context.Context, periodID int64) (*billing.Period, error) {
	if m.suspendFunc != nil {
		return m.suspendFunc(ctx, periodID)
	}
	return &billing.Period{ID: periodID, State: billing.StateSuspendido}, nil
}

func (m *mockBillingService) Reactivate(ctx context.Context, periodID int64) (*billing.Period, error) {
	if m.reactivateFunc != nil {
		return m.reactivateFunc(ctx, periodID)
	}
	return &billing.Period{ID: periodID, State: billing.StatePendiente}, nil
}

func (m *mockBillingService) GetSummary(ctx context.Context, clientID int64) (*billing.Summary, error) {
	if m.getSummaryFunc != nil {
		return m.getSummaryFunc(ctx, clientID)
	}
	return &billing.Summary{ClientID: clientID, Status: billing.StateAlDia}, nil
}

func (m *mockBillingService) ListOutstanding(ctx context.Context, filter billing.OutstandingFilter, page, pageSize int) (*billing.OutstandingPage, error) {
	if m.listOutstandingFunc != nil {
		return m.listOutstandingFunc(ctx, filter, page, pageSize)
	}
	return &billing.OutstandingPage{Rows: []*billing.OutstandingRow{}, Page: 1, PageSize: 20}, nil
}

// mockRegistry is a mock implementation of clients.Service
type mockRegistry struct {
	createFunc func(ctx context.Context, req *clients.CreateClientRequest) (*clients.Client, error)
	getFunc    func(ctx context.Context, id int64) (*clients.Client, error)
	updateFunc func(ctx context.Context, id int64, req *clients.UpdateClientRequest) (*clients.Client, error)
	listFunc   func(ctx context.Context) ([]*clients.Client, error)
}

func (m *mockRegistry) Create(ctx context.Context, req *clients.CreateClientRequest) (*clients.Client, error) {
	if m.createFunc != nil {
		return m.createFunc(ctx, req)
	}
	return &clients.Client{ID: 1, Name: req.Name, Type: req.Type}, nil
}

func (m *mockRegistry) Get(ctx context.Context, id int64) (*clients.Client, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return &clients.Client{ID: id, Name: "Papeleria Conchita", Type: clients.TypeServicio}, nil
}

func (m *mockRegistry) Update(ctx context.Context, id int64, req *clients.UpdateClientRequest) (*clients.Client, error) {
	if m.updateFunc != nil {
		return m.updateFunc(ctx, id, req)
	}
	return &clients.Client{ID: id}, nil
}

func (m *mockRegistry) List(ctx context.Context) ([]*clients.Client, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx)
	}
	return nil, nil
}

func (m *mockRegistry) ListActiveServicio(ctx context.Context) ([]*clients.Client, error) {
	return nil, nil
}

func newTestServer(t *testing.T, billingSvc billing.Service, registry clients.Service) (*Server, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if billingSvc == nil {
		billingSvc = &mockBillingService{}
	}
	if registry == nil {
		registry = &mockRegistry{}
	}

	store := auth.NewStore(db)
	authMW := middleware.NewAuthMiddleware(store, bootstrapToken)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewServer(billingSvc, registry, store, authMW, logger, observability.NewMetrics()), mock
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestRoutesRequireAuthentication(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/clients/1/periods"},
		{http.MethodPost, "/api/v1/periods/1/pay"},
		{http.MethodGet, "/api/v1/billing/outstanding"},
		{http.MethodGet, "/api/v1/me/billing/summary"},
	}
	for _, p := range paths {
		rec := doJSON(t, srv, p.method, p.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", p.method, p.path)
	}
}

func TestListPeriodsHandler(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		srv, _ := newTestServer(t, &mockBillingService{
			listPeriodsFunc: func(ctx context.Context, clientID int64) ([]*billing.Period, error) {
				return []*billing.Period{{ID: 1, ClientID: clientID, Year: 2025, Month: 7}}, nil
			},
		}, nil)

		rec := doJSON(t, srv, http.MethodGet, "/api/v1/clients/1/periods", bootstrapToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Periods []*billing.Period `json:"periods"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Periods, 1)
		assert.Equal(t, 2025, body.Periods[0].Year)
	})

	t.Run("unknown client maps to 404", func(t *testing.T) {
		srv, _ := newTestServer(t, &mockBillingService{
			listPeriodsFunc: func(ctx context.Context, clientID int64) ([]*billing.Period, error) {
				return nil, &billing.NotFoundError{Resource: "client", ID: clientID}
			},
		}, nil)

		rec := doJSON(t, srv, http.MethodGet, "/api/v1/clients/99/periods", bootstrapToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("non-numeric id is a 400", func(t *testing.T) {
		srv, _ := newTestServer(t, nil, nil)

		rec := doJSON(t, srv, http.MethodGet, "/api/v1/clients/abc/periods", bootstrapToken, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGeneratePeriodsHandler(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var gotFrom, gotTo billing.YearMonth
		srv, _ := newTestServer(t, &mockBillingService{
			generateRangeFunc: func(ctx context.Context, clientID int64, from, to billing.YearMonth, override *int64) (int, error) {
				gotFrom, gotTo = from, to
				return 3, nil
			},
		}, nil)

		rec := doJSON(t, srv, http.MethodPost, "/api/v1/clients/1/periods/generate", bootstrapToken,
			map[string]string{"from": "2025-07", "to": "2025-09"})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, billing.YearMonth{Year: 2025, Month: time.July}, gotFrom)
		assert.Equal(t, billing.YearMonth{Year: 2025, Month: time.September}, gotTo)
		assert.Contains(t, rec.Body.String(), `"created":3`)
	})

	t.Run("malformed year-month is a 400", func(t *testing.T) {
		srv, _ := newTestServer(t, nil, nil)

		rec := doJSON(t, srv, http.MethodPost, "/api/v1/clients/1/periods/generate", bootstrapToken,
			map[string]string{"from": "julio", "to": "2025-09"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("validation error from the service is a 400", func(t *testing.T) {
		srv, _ := newTestServer(t, &mockBillingService{
			generateRangeFunc: func(ctx context.Context, clientID int64, from, to billing.YearMonth, override *int64) (int, error) {
				return 0, &billing.ValidationError{Message: "invalid range"}
			},
		}, nil)

		rec := doJSON(t, srv, http.MethodPost, "/api/v1/clients/1/periods/generate", bootstrapToken,
			map[string]string{"from": "2025-09", "to": "2025-07"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestPaymentHandlers(t *testing.T) {
	t.Run("full payment returns the settled period", func(t *testing.T) {
		srv, _ := newTestServer(t, nil, nil)

		rec := doJSON(t, srv, http.MethodPost, "/api/v1/periods/10/pay", bootstrapToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"state":"pagado"`)
	})

	t.Run("abono forwards the amount", func(t *testing.T) {
		var gotAmount int64
		srv, _ := newTestServer(t, &mockBillingService{
			applyPartialPaymentFunc: func(ctx context.Context, periodID, amountCents int64) (*billing.Period, error) {
				gotAmount = amountCents
				return &billing.Period{ID: periodID, AmountPaidCents: amountCents}, nil
			},
		}, nil)

		rec := doJSON(t, srv, http.MethodPost, "/api/v1/periods/10/abonos", bootstrapToken,
			map[string]int64{"amount_cents": 7500})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(7500), gotAmount)
	})

	t.Run("settled period maps to 409", func(t *testing.T) {
		srv, _ := newTestServer(t, &mockBillingService{
			applyFullPaymentFunc: func(ctx context.Context, periodID int64) (*billing.Period, error) {
				return nil, &billing.StateError{Message: "period 10 is already settled"}
			},
		}, nil)

		rec := doJSON(t, srv, http.MethodPost, "/api/v1/periods/10/pay", bootstrapToken, nil)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("infrastructure failure maps to a bare 500", func(t *testing.T) {
		srv, _ := newTestServer(t, &mockBillingService{
			applyFullPaymentFunc: func(ctx context.Context, periodID int64) (*billing.Period, error) {
				return nil, context.DeadlineExceeded
			},
		}, nil)

		rec := doJSON(t, srv, http.MethodPost, "/api/v1/periods/10/pay", bootstrapToken, nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), "internal server error")
		assert.NotContains(t, rec.Body.String(), "deadline")
	})
}

func TestSuspensionHandlers(t *testing.T) {
	srv, _ := newTestServer(t, nil, nil)

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/periods/10/suspend", bootstrapToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"suspendido"`)

	rec = doJSON(t, srv, http.MethodPost, "/api/v1/periods/10/reactivate", bootstrapToken, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"pendiente"`)
}

func TestSummaryHandlers(t *testing.T) {
	t.Run("staff summary by client id", func(t *testing.T) {
		srv, _ := newTestServer(t, &mockBillingService{
			getSummaryFunc: func(ctx context.Context, clientID int64) (*billing.Summary, error) {
				return &billing.Summary{ClientID: clientID, Status: billing.StateVencido, TotalDueCents: 17500}, nil
			},
		}, nil)

		rec := doJSON(t, srv, http.MethodGet, "/api/v1/clients/7/billing/summary", bootstrapToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code)

		var summary billing.Summary
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
		assert.Equal(t, int64(7), summary.ClientID)
		assert.Equal(t, int64(17500), summary.TotalDueCents)
	})

	t.Run("cliente sees only their own summary", func(t *testing.T) {
		var askedClient int64
		srv, mock := newTestServer(t, &mockBillingService{
			getSummaryFunc: func(ctx context.Context, clientID int64) (*billing.Summary, error) {
				askedClient = clientID
				return &billing.Summary{ClientID: clientID, Status: billing.StateAlDia}, nil
			},
		}, nil)

		plaintext, hash, prefix, err := auth.GenerateToken()
		require.NoError(t, err)
		columns := []string{
			"id", "token_hash", "token_prefix", "name", "role",
			"client_id", "expires_at", "revoked_at", "last_used_at", "created_at",
		}
		mock.ExpectQuery("SELECT (.+) FROM api_tokens WHERE token_hash =").
			WithArgs(hash).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(5, hash, prefix, "portal", auth.RoleCliente, int64(7), nil, nil, nil, time.Now()))
		mock.ExpectExec("UPDATE api_tokens SET last_used_at").
			WithArgs(int64(5)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		rec := doJSON(t, srv, http.MethodGet, "/api/v1/me/billing/summary", plaintext, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(7), askedClient)
	})

	t.Run("staff cannot use the cliente endpoint", func(t *testing.T) {
		srv, _ := newTestServer(t, nil, nil)

		rec := doJSON(t, srv, http.MethodGet, "/api/v1/me/billing/summary", bootstrapToken, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestOutstandingHandler(t *testing.T) {
	t.Run("filters and paging are forwarded", func(t *testing.T) {
		var gotFilter billing.OutstandingFilter
		var gotPage, gotPageSize int
		srv, _ := newTestServer(t, &mockBillingService{
			listOutstandingFunc: func(ctx context.Context, filter billing.OutstandingFilter, page, pageSize int) (*billing.OutstandingPage, error) {
				gotFilter, gotPage, gotPageSize = filter, page, pageSize
				return &billing.OutstandingPage{Rows: []*billing.OutstandingRow{}, Page: page, PageSize: pageSize}, nil
			},
		}, nil)

		rec := doJSON(t, srv, http.MethodGet,
			"/api/v1/billing/outstanding?estado=vencido&q=conchita&due_from=2025-06-01&due_to=2025-06-30&page=2&page_size=50",
			bootstrapToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, billing.StateVencido, gotFilter.Estado)
		assert.Equal(t, "conchita", gotFilter.Query)
		require.NotNil(t, gotFilter.DueFrom)
		assert.Equal(t, time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC), *gotFilter.DueFrom)
		require.NotNil(t, gotFilter.DueTo)
		assert.Equal(t, 2, gotPage)
		assert.Equal(t, 50, gotPageSize)
	})

	t.Run("bad date is a 400", func(t *testing.T) {
		srv, _ := newTestServer(t, nil, nil)

		rec := doJSON(t, srv, http.MethodGet, "/api/v1/billing/outstanding?due_from=junio", bootstrapToken, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid estado is a 400", func(t *testing.T) {
		srv, _ := newTestServer(t, &mockBillingService{
			listOutstandingFunc: func(ctx context.Context, filter billing.OutstandingFilter, page, pageSize int) (*billing.OutstandingPage, error) {
				return nil, &billing.ValidationError{Message: "invalid estado filter"}
			},
		}, nil)

		rec := doJSON(t, srv, http.MethodGet, "/api/v1/billing/outstanding?estado=pagado", bootstrapToken, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSweepHandler(t *testing.T) {
	t.Run("reports the count created", func(t *testing.T) {
		srv, _ := newTestServer(t, &mockBillingService{
			ensureCurrentPeriodsFunc: func(ctx context.Context) (int, error) {
				return 4, nil
			},
		}, nil)

		rec := doJSON(t, srv, http.MethodPost, "/api/v1/billing/sweep", bootstrapToken, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"created":4`)
	})

	t.Run("partial failure still reports progress", func(t *testing.T) {
		srv, _ := newTestServer(t, &mockBillingService{
			ensureCurrentPeriodsFunc: func(ctx context.Context) (int, error) {
				return 2, context.DeadlineExceeded
			},
		}, nil)

		rec := doJSON(t, srv, http.MethodPost, "/api/v1/billing/sweep", bootstrapToken, nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Contains(t, rec.Body.String(), `"created":2`)
	})
}

func TestClientHandlers(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		srv, _ := newTestServer(t, nil, nil)

		rec := doJSON(t, srv, http.MethodPost, "/api/v1/clients", bootstrapToken,
			map[string]interface{}{"name": "Papeleria Conchita", "type": "servicio", "monthly_fee_cents": 20000, "billing_day": 15})
		assert.Equal(t, http.StatusCreated, rec.Code)
	})

	t.Run("get missing client is a 404", func(t *testing.T) {
		srv, _ := newTestServer(t, nil, &mockRegistry{
			getFunc: func(ctx context.Context, id int64) (*clients.Client, error) {
				return nil, clients.ErrNotFound
			},
		})

		rec := doJSON(t, srv, http.MethodGet, "/api/v1/clients/99", bootstrapToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("update forwards the patch", func(t *testing.T) {
		var gotFee int64
		srv, _ := newTestServer(t, nil, &mockRegistry{
			updateFunc: func(ctx context.Context, id int64, req *clients.UpdateClientRequest) (*clients.Client, error) {
				if req.MonthlyFeeCents != nil {
					gotFee = *req.MonthlyFeeCents
				}
				return &clients.Client{ID: id, MonthlyFeeCents: gotFee}, nil
			},
		})

		rec := doJSON(t, srv, http.MethodPut, "/api/v1/clients/1", bootstrapToken,
			map[string]int64{"monthly_fee_cents": 25000})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(25000), gotFee)
	})
}

func TestCreateTokenHandler(t *testing.T) {
	srv, mock := newTestServer(t, nil, nil)

	columns := []string{
		"id", "token_hash", "token_prefix", "name", "role",
		"client_id", "expires_at", "revoked_at", "last_used_at", "created_at",
	}
	mock.ExpectQuery("INSERT INTO api_tokens").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(1, "hash", "fichas_abcdefgh", "caja", auth.RoleTrabajador, nil, nil, nil, nil, time.Now()))

	rec := doJSON(t, srv, http.MethodPost, "/api/v1/auth/tokens", bootstrapToken,
		map[string]string{"name": "caja", "role": "trabajador"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"plaintext":"fichas_`)
	assert.NotContains(t, rec.Body.String(), `"token_hash"`)
}
