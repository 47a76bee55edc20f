package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/MiguelAngelCruzVargas/inventario-fichas/pkg/clients"
)

// insertPeriodSQL creates a pendiente period. The unique constraint on
// (client_id, year, month) plus DO NOTHING makes every generator path
// idempotent: a concurrent or repeated insert is a silent no-op, never an
// error.
const insertPeriodSQL = `
	INSERT INTO billing_periods (client_id, year, month, due_date, amount_due_cents, amount_paid_cents, state)
	VALUES ($1, $2, $3, $4, $5, 0, 'pendiente')
	ON CONFLICT (client_id, year, month) DO NOTHING`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// insertPeriod inserts one period and reports whether a row was created.
func (s *PostgresService) insertPeriod(ctx context.Context, db execer, clientID int64, ym YearMonth, billingDay int, amountCents int64) (bool, error) {
	res, err := db.ExecContext(ctx, insertPeriodSQL,
		clientID, ym.Year, int(ym.Month), ym.DueDate(billingDay), amountCents)
	if err != nil {
		return false, fmt.Errorf("failed to insert period %s for client %d: %w", ym, clientID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected == 1, nil
}

// anchorDate picks the date the first period hangs off: the first scheduled
// cut if set, otherwise the install date, otherwise now.
func anchorDate(c *clients.Client, now time.Time) time.Time {
	if c.FirstCutDate != nil {
		return *c.FirstCutDate
	}
	if c.InstallDate != nil {
		return *c.InstallDate
	}
	return now
}

// resolveBillingDay returns the client's billing day, deriving it from the
// anchor date when unset. Always clamped to [1, 28].
func resolveBillingDay(c *clients.Client, anchor time.Time) int {
	if c.BillingDay > 0 {
		return ClampBillingDay(c.BillingDay)
	}
	return ClampBillingDay(anchor.Day())
}

// GenerateRange creates one period per calendar month in the inclusive
// [from, to] range, skipping months that already have one. Returns the count
// actually created.
func (s *PostgresService) GenerateRange(ctx context.Context, clientID int64, from, to YearMonth, amountOverrideCents *int64) (int, error) {
	if from.After(to) {
		return 0, validationErrorf("invalid range: %s is after %s", from, to)
	}
	if amountOverrideCents != nil && *amountOverrideCents <= 0 {
		return 0, validationErrorf("amount override must be positive")
	}

	client, err := s.getClient(ctx, clientID)
	if err != nil {
		return 0, err
	}
	if !client.IsServicio() {
		return 0, validationErrorf("client %d is not a subscription client", clientID)
	}

	amount := client.MonthlyFeeCents
	if amountOverrideCents != nil {
		amount = *amountOverrideCents
	}
	billingDay := resolveBillingDay(client, anchorDate(client, s.now()))

	created := 0
	for ym := from; !ym.After(to); ym = ym.Next() {
		inserted, err := s.insertPeriod(ctx, s.db, clientID, ym, billingDay, amount)
		if err != nil {
			return created, err
		}
		if inserted {
			created++
		}
	}

	if created > 0 {
		s.metrics.PeriodsCreated.WithLabelValues("range").Add(float64(created))
		s.logger.WithFields(map[string]interface{}{
			"client_id": clientID,
			"from":      from.String(),
			"to":        to.String(),
			"created":   created,
		}).Info("generated billing periods")
	}
	return created, nil
}

// InitFirstPeriod bootstraps a client's first billing period. It is
// idempotent: if the client already has any period, the earliest one is
// returned and nothing is created.
func (s *PostgresService) InitFirstPeriod(ctx context.Context, clientID int64) (*Period, error) {
	client, err := s.getClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !client.IsServicio() {
		return nil, validationErrorf("client %d is not a subscription client", clientID)
	}

	query := `SELECT ` + periodColumns + ` FROM billing_periods WHERE client_id = $1 ORDER BY due_date ASC, id ASC LIMIT 1`
	existing, err := scanPeriod(s.db.QueryRowContext(ctx, query, clientID))
	if err == nil {
		return existing, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check existing periods: %w", err)
	}

	anchor := anchorDate(client, s.now())
	ym := YearMonthOf(anchor)
	billingDay := resolveBillingDay(client, anchor)

	inserted, err := s.insertPeriod(ctx, s.db, clientID, ym, billingDay, client.MonthlyFeeCents)
	if err != nil {
		return nil, err
	}
	if inserted {
		s.metrics.PeriodsCreated.WithLabelValues("init").Inc()
		s.logger.WithFields(map[string]interface{}{
			"client_id": clientID,
			"period":    ym.String(),
		}).Info("initialized first billing period")
	}

	// Re-read so a concurrent initializer's row is returned the same way.
	selectByMonth := `SELECT ` + periodColumns + ` FROM billing_periods WHERE client_id = $1 AND year = $2 AND month = $3`
	p, err := scanPeriod(s.db.QueryRowContext(ctx, selectByMonth, clientID, ym.Year, int(ym.Month)))
	if err != nil {
		return nil, fmt.Errorf("failed to load first period: %w", err)
	}
	return p, nil
}

// EnsureCurrentPeriods creates the current month's period for every active
// subscription client that is missing one. Safe to run repeatedly or
// concurrently; the second invocation creates zero rows.
func (s *PostgresService) EnsureCurrentPeriods(ctx context.Context) (int, error) {
	ctx, span := billingTracer.Start(ctx, "EnsureCurrentPeriods")
	defer span.End()

	activeClients, err := s.clients.ListActiveServicio(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list active clients")
		return 0, fmt.Errorf("failed to list active clients: %w", err)
	}

	now := s.now()
	ym := YearMonthOf(now)
	created := 0
	var lastErr error
	for _, client := range activeClients {
		billingDay := resolveBillingDay(client, anchorDate(client, now))
		inserted, err := s.insertPeriod(ctx, s.db, client.ID, ym, billingDay, client.MonthlyFeeCents)
		if err != nil {
			// Keep sweeping the remaining clients; one bad row must not
			// starve everyone else of a billing period.
			s.logger.WithError(err).WithField("client_id", client.ID).Error("sweep failed for client")
			lastErr = err
			continue
		}
		if inserted {
			created++
		}
	}

	s.metrics.SweepRuns.Inc()
	if created > 0 {
		s.metrics.PeriodsCreated.WithLabelValues("sweep").Add(float64(created))
	}
	span.SetAttributes(
		attribute.Int("billing.clients", len(activeClients)),
		attribute.Int("billing.periods_created", created),
	)
	s.logger.WithFields(map[string]interface{}{
		"period":  ym.String(),
		"clients": len(activeClients),
		"created": created,
	}).Info("ensure-current-period sweep finished")

	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, "sweep completed with errors")
		return created, fmt.Errorf("sweep completed with errors: %w", lastErr)
	}
	span.SetStatus(codes.Ok, "sweep completed")
	return created, nil
}
