package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/clients"
	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/observability"
)

// PostgresService implements the billing Service over PostgreSQL. All
// financial mutations run inside a transaction holding a row lock on the
// period, so concurrent payments against the same period are linearized.
type PostgresService struct {
	db      *sql.DB
	clients clients.Service
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewPostgresService creates a new PostgresService.
func NewPostgresService(db *sql.DB, clientSvc clients.Service, logger *observability.Logger, metrics *observability.Metrics) *PostgresService {
	return &PostgresService{
		db:      db,
		clients: clientSvc,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

const periodColumns = `id, client_id, year, month, due_date, amount_due_cents, amount_paid_cents, state, paid_at, suspended_at, created_at, updated_at`

func scanPeriod(row interface{ Scan(...interface{}) error }) (*Period, error) {
	p := &Period{}
	err := row.Scan(
		&p.ID, &p.ClientID, &p.Year, &p.Month, &p.DueDate,
		&p.AmountDueCents, &p.AmountPaidCents, &p.State,
		&p.PaidAt, &p.SuspendedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// getClient looks up a client and maps registry errors into the billing
// error taxonomy.
func (s *PostgresService) getClient(ctx context.Context, clientID int64) (*clients.Client, error) {
	c, err := s.clients.Get(ctx, clientID)
	if errors.Is(err, clients.ErrNotFound) {
		return nil, &NotFoundError{Resource: "client", ID: clientID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client %d: %w", clientID, err)
	}
	return c, nil
}

// ListPeriods returns all billing periods for a client in calendar order.
func (s *PostgresService) ListPeriods(ctx context.Context, clientID int64) ([]*Period, error) {
	if _, err := s.getClient(ctx, clientID); err != nil {
		return nil, err
	}

	query := `SELECT ` + periodColumns + ` FROM billing_periods WHERE client_id = $1 ORDER BY year ASC, month ASC`
	rows, err := s.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list periods: %w", err)
	}
	defer rows.Close()

	var periods []*Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan period: %w", err)
		}
		periods = append(periods, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate periods: %w", err)
	}
	return periods, nil
}

// getPeriod loads one period without locking.
func (s *PostgresService) getPeriod(ctx context.Context, periodID int64) (*Period, error) {
	query := `SELECT ` + periodColumns + ` FROM billing_periods WHERE id = $1`
	p, err := scanPeriod(s.db.QueryRowContext(ctx, query, periodID))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "period", ID: periodID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get period: %w", err)
	}
	return p, nil
}

// getPeriodForUpdate loads one period under a row lock inside tx.
func (s *PostgresService) getPeriodForUpdate(ctx context.Context, tx *sql.Tx, periodID int64) (*Period, error) {
	query := `SELECT ` + periodColumns + ` FROM billing_periods WHERE id = $1 FOR UPDATE`
	p, err := scanPeriod(tx.QueryRowContext(ctx, query, periodID))
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Resource: "period", ID: periodID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock period: %w", err)
	}
	return p, nil
}
