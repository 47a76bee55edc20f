package billing

import (
	"context"
	"fmt"
)

// Suspend marks a period's service as cut for non-payment. Valid from
// pendiente (including the derived vencido overlay). Financial fields are
// untouched, and only this period is affected; the client's other periods
// keep their own state.
func (s *PostgresService) Suspend(ctx context.Context, periodID int64) (*Period, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	period, err := s.getPeriodForUpdate(ctx, tx, periodID)
	if err != nil {
		return nil, err
	}
	switch period.State {
	case StatePagado:
		return nil, stateErrorf("period %d is already settled", periodID)
	case StateSuspendido:
		return nil, stateErrorf("period %d is already suspended", periodID)
	}

	now := s.now()
	update := `UPDATE billing_periods SET state = 'suspendido', suspended_at = $1, updated_at = $1 WHERE id = $2`
	if _, err := tx.ExecContext(ctx, update, now, periodID); err != nil {
		return nil, fmt.Errorf("failed to suspend period: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit suspension: %w", err)
	}

	period.State = StateSuspendido
	period.SuspendedAt = &now
	period.UpdatedAt = now

	s.metrics.Suspensions.WithLabelValues("suspend").Inc()
	s.logger.WithFields(map[string]interface{}{
		"period_id": periodID,
		"client_id": period.ClientID,
	}).Info("service suspended")
	return period, nil
}

// Reactivate returns a suspended period to pendiente. suspended_at is kept
// as an audit trail of the last cut; it is not cleared.
func (s *PostgresService) Reactivate(ctx context.Context, periodID int64) (*Period, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	period, err := s.getPeriodForUpdate(ctx, tx, periodID)
	if err != nil {
		return nil, err
	}
	if period.State != StateSuspendido {
		return nil, stateErrorf("period %d is not suspended", periodID)
	}

	now := s.now()
	update := `UPDATE billing_periods SET state = 'pendiente', updated_at = $1 WHERE id = $2`
	if _, err := tx.ExecContext(ctx, update, now, periodID); err != nil {
		return nil, fmt.Errorf("failed to reactivate period: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reactivation: %w", err)
	}

	period.State = StatePendiente
	period.UpdatedAt = now

	s.metrics.Suspensions.WithLabelValues("reactivate").Inc()
	s.logger.WithFields(map[string]interface{}{
		"period_id": periodID,
		"client_id": period.ClientID,
	}).Info("service reactivated")
	return period, nil
}
