package billing

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/clients"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/observability"
)

// mockClientService is a mock implementation of clients.Service
type mockClientService struct {
	getFunc                func(ctx context.Context, id int64) (*clients.Client, error)
	listActiveServicioFunc func(ctx context.Context) ([]*clients.Client, error)
}

func (m *mockClientService) Get(ctx context.Context, id int64) (*clients.Client, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, id)
	}
	return servicioClient(id), nil
}

func (m *mockClientService) ListActiveServicio(ctx context.Context) ([]*clients.Client, error) {
	if m.listActiveServicioFunc != nil {
		return m.listActiveServicioFunc(ctx)
	}
	return nil, nil
}

func (m *mockClientService) Create(ctx context.Context, req *clients.CreateClientRequest) (*clients.Client, error) {
	return nil, nil
}

func (m *mockClientService) Update(ctx context.Context, id int64, req *clients.UpdateClientRequest) (*clients.Client, error) {
	return nil, nil
}

func (m *mockClientService) List(ctx context.Context) ([]*clients.Client, error) {
	return nil, nil
}

// servicioClient builds the canonical test client: 200 pesos monthly fee,
// billing day 15.
func servicioClient(id int64) *clients.Client {
	return &clients.Client{
		ID:              id,
		Name:            "Papeleria Conchita",
		Type:            clients.TypeServicio,
		MonthlyFeeCents: 20000,
		BillingDay:      15,
		Active:          true,
	}
}

// fixedNow is the deterministic clock used across the billing tests.
var fixedNow = time.Date(2025, time.July, 20, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, clientSvc clients.Service) (*PostgresService, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if clientSvc == nil {
		clientSvc = &mockClientService{}
	}
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	svc := NewPostgresService(db, clientSvc, logger, observability.NewMetrics())
	svc.now = func() time.Time { return fixedNow }
	return svc, mock, db
}

var periodRowColumns = []string{
	"id", "client_id", "year", "month", "due_date",
	"amount_due_cents", "amount_paid_cents", "state",
	"paid_at", "suspended_at", "created_at", "updated_at",
}

func periodRow(p *Period) *sqlmock.Rows {
	return sqlmock.NewRows(periodRowColumns).AddRow(
		p.ID, p.ClientID, p.Year, p.Month, p.DueDate,
		p.AmountDueCents, p.AmountPaidCents, p.State,
		p.PaidAt, p.SuspendedAt, p.CreatedAt, p.UpdatedAt,
	)
}
