package billing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var billingTracer = otel.Tracer("fichas/billing")

// ApplyFullPayment settles a period in full: amount_paid becomes amount_due,
// the state flips to pagado and the successor period for the next month is
// created in the same transaction unless it already exists.
func (s *PostgresService) ApplyFullPayment(ctx context.Context, periodID int64) (*Period, error) {
	return s.applyPayment(ctx, periodID, nil)
}

// ApplyPartialPayment records an abono against a period. If the abono
// completes the amount due it behaves exactly like ApplyFullPayment,
// including successor creation; otherwise only amount_paid moves and the
// stored state (pendiente or suspendido) persists.
func (s *PostgresService) ApplyPartialPayment(ctx context.Context, periodID int64, amountCents int64) (*Period, error) {
	if amountCents <= 0 {
		return nil, validationErrorf("payment amount must be positive")
	}
	return s.applyPayment(ctx, periodID, &amountCents)
}

// applyPayment is the single settlement path. amountCents == nil means a
// full payment. The read-compute-write runs under a row lock so concurrent
// abonos against the same period cannot lose updates, and the predecessor's
// state flip commits together with the successor's insert.
func (s *PostgresService) applyPayment(ctx context.Context, periodID int64, amountCents *int64) (*Period, error) {
	kind := "full"
	if amountCents != nil {
		kind = "partial"
	}
	ctx, span := billingTracer.Start(ctx, "ApplyPayment",
		trace.WithAttributes(
			attribute.Int64("billing.period_id", periodID),
			attribute.String("billing.payment_kind", kind),
		))
	defer span.End()

	period, err := s.applyPaymentTx(ctx, periodID, amountCents)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment failed")
		return nil, err
	}
	span.SetAttributes(
		attribute.String("billing.state", string(period.State)),
		attribute.Int64("billing.amount_paid_cents", period.AmountPaidCents),
	)
	span.SetStatus(codes.Ok, "payment applied")
	return period, nil
}

func (s *PostgresService) applyPaymentTx(ctx context.Context, periodID int64, amountCents *int64) (*Period, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	period, err := s.getPeriodForUpdate(ctx, tx, periodID)
	if err != nil {
		return nil, err
	}
	if period.State == StatePagado {
		return nil, stateErrorf("period %d is already settled", periodID)
	}

	newPaid := period.AmountDueCents
	if amountCents != nil {
		newPaid = period.AmountPaidCents + *amountCents
		if newPaid > period.AmountDueCents {
			newPaid = period.AmountDueCents
		}
	}

	now := s.now()
	settled := newPaid == period.AmountDueCents
	if settled {
		update := `UPDATE billing_periods SET amount_paid_cents = $1, state = 'pagado', paid_at = $2, updated_at = $2 WHERE id = $3`
		if _, err := tx.ExecContext(ctx, update, newPaid, now, periodID); err != nil {
			return nil, fmt.Errorf("failed to settle period: %w", err)
		}
		period.AmountPaidCents = newPaid
		period.State = StatePagado
		period.PaidAt = &now
		period.UpdatedAt = now

		if err := s.createSuccessor(ctx, tx, period); err != nil {
			return nil, err
		}
	} else {
		update := `UPDATE billing_periods SET amount_paid_cents = $1, updated_at = $2 WHERE id = $3`
		if _, err := tx.ExecContext(ctx, update, newPaid, now, periodID); err != nil {
			return nil, fmt.Errorf("failed to record payment: %w", err)
		}
		period.AmountPaidCents = newPaid
		period.UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payment: %w", err)
	}

	kind := "partial"
	applied := int64(0)
	if amountCents != nil {
		applied = *amountCents
	}
	if settled {
		kind = "full"
		if amountCents == nil {
			applied = period.AmountDueCents
		}
	}
	s.metrics.PaymentsApplied.WithLabelValues(kind).Inc()
	s.metrics.PaymentCents.Add(float64(applied))
	s.logger.WithTraceContext(ctx).WithFields(map[string]interface{}{
		"period_id": periodID,
		"client_id": period.ClientID,
		"kind":      kind,
		"paid":      period.AmountPaidCents,
		"due":       period.AmountDueCents,
	}).Info("payment applied")

	return period, nil
}

// createSuccessor inserts the next calendar month's period for the settled
// predecessor. The amount is the client's current monthly fee, not the
// historical period's amount. Runs inside the settlement transaction.
func (s *PostgresService) createSuccessor(ctx context.Context, tx execer, predecessor *Period) error {
	client, err := s.getClient(ctx, predecessor.ClientID)
	if err != nil {
		return fmt.Errorf("failed to resolve client for successor: %w", err)
	}

	next := YearMonth{Year: predecessor.Year, Month: time.Month(predecessor.Month)}.Next()
	billingDay := resolveBillingDay(client, predecessor.DueDate)

	inserted, err := s.insertPeriod(ctx, tx, predecessor.ClientID, next, billingDay, client.MonthlyFeeCents)
	if err != nil {
		return fmt.Errorf("failed to create successor period: %w", err)
	}
	if inserted {
		s.metrics.PeriodsCreated.WithLabelValues("settlement").Inc()
		s.logger.WithFields(map[string]interface{}{
			"client_id": predecessor.ClientID,
			"period":    next.String(),
		}).Info("successor period created on settlement")
	}
	return nil
}
