package billing

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// computeTargetPeriod finds the single most relevant period for a client as
// of now: the earliest unsettled period (which covers pendiente, suspendido
// and the derived vencido), falling back to the earliest period due today or
// later. nil means the client is al día.
func (s *PostgresService) computeTargetPeriod(ctx context.Context, clientID int64) (*Period, error) {
	unsettled := `SELECT ` + periodColumns + ` FROM billing_periods
		WHERE client_id = $1 AND state <> 'pagado'
		ORDER BY due_date ASC, id ASC LIMIT 1`
	p, err := scanPeriod(s.db.QueryRowContext(ctx, unsettled, clientID))
	if err == nil {
		return p, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to find target period: %w", err)
	}

	upcoming := `SELECT ` + periodColumns + ` FROM billing_periods
		WHERE client_id = $1 AND due_date >= $2
		ORDER BY due_date ASC, id ASC LIMIT 1`
	p, err = scanPeriod(s.db.QueryRowContext(ctx, upcoming, clientID, startOfDay(s.now())))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find upcoming period: %w", err)
	}
	return p, nil
}

// computeAccumulatedDebt sums the unpaid remainder of every unsettled period
// due strictly before the target's due date.
func (s *PostgresService) computeAccumulatedDebt(ctx context.Context, clientID int64, target *Period) (int64, error) {
	if target == nil {
		return 0, nil
	}
	query := `SELECT COALESCE(SUM(amount_due_cents - amount_paid_cents), 0)
		FROM billing_periods
		WHERE client_id = $1 AND state <> 'pagado' AND due_date < $2`
	var debt int64
	if err := s.db.QueryRowContext(ctx, query, clientID, target.DueDate).Scan(&debt); err != nil {
		return 0, fmt.Errorf("failed to compute accumulated debt: %w", err)
	}
	return debt, nil
}

// GetSummary builds the per-client financial projection: target period,
// accumulated prior debt, remainder of the target, and the total due now.
func (s *PostgresService) GetSummary(ctx context.Context, clientID int64) (*Summary, error) {
	if _, err := s.getClient(ctx, clientID); err != nil {
		return nil, err
	}

	target, err := s.computeTargetPeriod(ctx, clientID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{ClientID: clientID, Status: StateAlDia}
	if target == nil {
		return summary, nil
	}

	debt, err := s.computeAccumulatedDebt(ctx, clientID, target)
	if err != nil {
		return nil, err
	}

	summary.Target = target
	summary.Status = target.DerivedState(s.now())
	summary.AccumulatedDebtCents = debt
	if target.State != StatePagado {
		summary.TargetRemainingCents = target.RemainingCents()
	}
	summary.TotalDueCents = summary.AccumulatedDebtCents + summary.TargetRemainingCents
	return summary, nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListOutstanding returns a page of every subscription client's unsettled
// periods, newest debt first by due date, with the derived state and the
// remaining balance (faltante) per row.
func (s *PostgresService) ListOutstanding(ctx context.Context, filter OutstandingFilter, page, pageSize int) (*OutstandingPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	now := startOfDay(s.now())
	where := []string{`p.state <> 'pagado'`, `c.type = 'servicio'`}
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	// The vencido overlay is a pure function of due date vs today for any
	// unsettled row, so the derived-state filter translates directly to SQL
	// recomputed per query. Nothing overdue is ever persisted.
	switch filter.Estado {
	case "":
	case StateVencido:
		where = append(where, fmt.Sprintf("p.due_date < %s", arg(now)))
	case StatePendiente:
		where = append(where, fmt.Sprintf("p.due_date >= %s", arg(now)),
			"(p.amount_paid_cents > 0 OR p.state = 'pendiente')")
	case StateSuspendido:
		where = append(where, fmt.Sprintf("p.due_date >= %s", arg(now)),
			"p.amount_paid_cents = 0", "p.state = 'suspendido'")
	default:
		return nil, validationErrorf("invalid estado filter %q", filter.Estado)
	}

	if filter.Query != "" {
		where = append(where, fmt.Sprintf("c.name ILIKE '%%' || %s || '%%'", arg(filter.Query)))
	}
	if filter.DueFrom != nil {
		where = append(where, fmt.Sprintf("p.due_date >= %s", arg(*filter.DueFrom)))
	}
	if filter.DueTo != nil {
		where = append(where, fmt.Sprintf("p.due_date <= %s", arg(*filter.DueTo)))
	}

	whereClause := strings.Join(where, " AND ")

	countQuery := `SELECT COUNT(*) FROM billing_periods p JOIN clients c ON c.id = p.client_id WHERE ` + whereClause
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count outstanding periods: %w", err)
	}

	listQuery := fmt.Sprintf(`SELECT p.id, p.client_id, p.year, p.month, p.due_date,
			p.amount_due_cents, p.amount_paid_cents, p.state, p.paid_at, p.suspended_at,
			p.created_at, p.updated_at, c.name
		FROM billing_periods p
		JOIN clients c ON c.id = p.client_id
		WHERE %s
		ORDER BY p.due_date ASC, p.id ASC
		LIMIT %s OFFSET %s`, whereClause, arg(pageSize), arg((page-1)*pageSize))

	rows, err := s.db.QueryContext(ctx, listQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list outstanding periods: %w", err)
	}
	defer rows.Close()

	result := &OutstandingPage{Rows: []*OutstandingRow{}, Page: page, PageSize: pageSize, Total: total}
	for rows.Next() {
		row := &OutstandingRow{}
		if err := rows.Scan(
			&row.ID, &row.ClientID, &row.Year, &row.Month, &row.DueDate,
			&row.AmountDueCents, &row.AmountPaidCents, &row.State,
			&row.PaidAt, &row.SuspendedAt, &row.CreatedAt, &row.UpdatedAt,
			&row.ClientName,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outstanding period: %w", err)
		}
		row.FaltanteCents = row.RemainingCents()
		row.Estado = row.DerivedState(now)
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate outstanding periods: %w", err)
	}
	return result, nil
}
