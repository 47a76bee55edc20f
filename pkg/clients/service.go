package clients

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresService implements the client registry over PostgreSQL.
type PostgresService struct {
	db *sql.DB
}

// NewPostgresService creates a new PostgresService.
func NewPostgresService(db *sql.DB) *PostgresService {
	return &PostgresService{db: db}
}

const clientColumns = `id, name, type, monthly_fee_cents, billing_day, install_date, first_cut_date, active, created_at, updated_at`

func scanClient(row interface{ Scan(...interface{}) error }) (*Client, error) {
	c := &Client{}
	err := row.Scan(
		&c.ID, &c.Name, &c.Type, &c.MonthlyFeeCents, &c.BillingDay,
		&c.InstallDate, &c.FirstCutDate, &c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Create registers a new client.
func (s *PostgresService) Create(ctx context.Context, req *CreateClientRequest) (*Client, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, fmt.Errorf("client name is required")
	}
	if req.Type != TypeNormal && req.Type != TypeServicio {
		return nil, fmt.Errorf("invalid client type %q", req.Type)
	}
	query := `
		INSERT INTO clients (name, type, monthly_fee_cents, billing_day, install_date, first_cut_date, active)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		RETURNING ` + clientColumns
	row := s.db.QueryRowContext(ctx, query,
		req.Name, req.Type, req.MonthlyFeeCents, req.BillingDay, req.InstallDate, req.FirstCutDate)
	c, err := scanClient(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return c, nil
}

// Get retrieves a client by id.
func (s *PostgresService) Get(ctx context.Context, id int64) (*Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`
	c, err := scanClient(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	return c, nil
}

// Update applies the non-nil fields of req.
func (s *PostgresService) Update(ctx context.Context, id int64, req *UpdateClientRequest) (*Client, error) {
	set := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	add := func(col string, val interface{}) {
		args = append(args, val)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if req.Name != nil {
		add("name", *req.Name)
	}
	if req.MonthlyFeeCents != nil {
		add("monthly_fee_cents", *req.MonthlyFeeCents)
	}
	if req.BillingDay != nil {
		add("billing_day", *req.BillingDay)
	}
	if req.FirstCutDate != nil {
		add("first_cut_date", *req.FirstCutDate)
	}
	if req.Active != nil {
		add("active", *req.Active)
	}
	if len(set) == 0 {
		return s.Get(ctx, id)
	}
	args = append(args, id)
	query := fmt.Sprintf(`UPDATE clients SET %s, updated_at = NOW() WHERE id = $%d RETURNING %s`,
		strings.Join(set, ", "), len(args), clientColumns)
	c, err := scanClient(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update client: %w", err)
	}
	return c, nil
}

// List returns all clients ordered by name.
func (s *PostgresService) List(ctx context.Context) ([]*Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients ORDER BY name ASC`
	return s.queryClients(ctx, query)
}

// ListActiveServicio returns active subscription clients.
func (s *PostgresService) ListActiveServicio(ctx context.Context) ([]*Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE type = 'servicio' AND active = TRUE ORDER BY id ASC`
	return s.queryClients(ctx, query)
}

func (s *PostgresService) queryClients(ctx context.Context, query string, args ...interface{}) ([]*Client, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var out []*Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clients: %w", err)
	}
	return out, nil
}
