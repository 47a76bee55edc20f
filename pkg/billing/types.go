package billing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// State represents the stored lifecycle state of a billing period.
type State string

const (
	StatePendiente  State = "pendiente"
	StateSuspendido State = "suspendido"
	StatePagado     State = "pagado"

	// StateVencido is never stored; it is derived at read time by comparing
	// the due date against the current date.
	StateVencido State = "vencido"

	// StateAlDia is the derived status of a client (or a paid period) with
	// no outstanding obligation.
	StateAlDia State = "al_dia"
)

// maxBillingDay caps the billing day-of-month so that due dates exist in
// every calendar month.
const maxBillingDay = 28

// Period represents one calendar month's financial obligation for a
// subscription client. Rows are never deleted; the table is an audit trail.
type Period struct {
	ID              int64      `json:"id"`
	ClientID        int64      `json:"client_id"`
	Year            int        `json:"year"`
	Month           int        `json:"month"`
	DueDate         time.Time  `json:"due_date"`
	AmountDueCents  int64      `json:"amount_due_cents"`
	AmountPaidCents int64      `json:"amount_paid_cents"`
	State           State      `json:"state"`
	PaidAt          *time.Time `json:"paid_at,omitempty"`
	SuspendedAt     *time.Time `json:"suspended_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// RemainingCents returns the unpaid remainder of the period.
func (p *Period) RemainingCents() int64 {
	return p.AmountDueCents - p.AmountPaidCents
}

// DerivedState overlays the read-time "vencido" status on top of the stored
// state. A period with a partial payment reads as pendiente (or vencido once
// overdue) regardless of a stored suspension; a fully paid period reads as
// al_dia. The overlay is recomputed on every read and never persisted.
func (p *Period) DerivedState(now time.Time) State {
	if p.State == StatePagado {
		return StateAlDia
	}
	overdue := p.DueDate.Before(startOfDay(now))
	if p.AmountPaidCents > 0 && p.AmountPaidCents < p.AmountDueCents {
		if overdue {
			return StateVencido
		}
		return StatePendiente
	}
	if overdue {
		return StateVencido
	}
	return p.State
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// YearMonth identifies a calendar month.
type YearMonth struct {
	Year  int
	Month time.Month
}

// ParseYearMonth parses a "YYYY-MM" string.
func ParseYearMonth(s string) (YearMonth, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return YearMonth{}, fmt.Errorf("invalid year-month %q: expected YYYY-MM", s)
	}
	year, err := strconv.Atoi(parts[0])
	if err != nil || year < 1 {
		return YearMonth{}, fmt.Errorf("invalid year in %q", s)
	}
	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return YearMonth{}, fmt.Errorf("invalid month in %q", s)
	}
	return YearMonth{Year: year, Month: time.Month(month)}, nil
}

// YearMonthOf returns the calendar month containing t.
func YearMonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// Next returns the following calendar month.
func (ym YearMonth) Next() YearMonth {
	if ym.Month == time.December {
		return YearMonth{Year: ym.Year + 1, Month: time.January}
	}
	return YearMonth{Year: ym.Year, Month: ym.Month + 1}
}

// After reports whether ym is strictly after other.
func (ym YearMonth) After(other YearMonth) bool {
	if ym.Year != other.Year {
		return ym.Year > other.Year
	}
	return ym.Month > other.Month
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// DueDate returns the due date for this month at the given billing day.
// The day is clamped to [1, 28] so the date exists in every month.
func (ym YearMonth) DueDate(billingDay int) time.Time {
	return time.Date(ym.Year, ym.Month, ClampBillingDay(billingDay), 0, 0, 0, 0, time.UTC)
}

// ClampBillingDay forces a day-of-month into the valid [1, 28] range.
func ClampBillingDay(day int) int {
	if day < 1 {
		return 1
	}
	if day > maxBillingDay {
		return maxBillingDay
	}
	return day
}

// Summary is the per-client financial projection: the single most relevant
// ("target") period plus the accumulated unpaid remainder of earlier periods.
type Summary struct {
	ClientID             int64   `json:"client_id"`
	Status               State   `json:"status"`
	Target               *Period `json:"target,omitempty"`
	AccumulatedDebtCents int64   `json:"accumulated_debt_cents"`
	TargetRemainingCents int64   `json:"target_remaining_cents"`
	TotalDueCents        int64   `json:"total_due_cents"`
}

// OutstandingFilter narrows the outstanding-periods listing.
type OutstandingFilter struct {
	// Estado filters by derived state (pendiente, suspendido or vencido).
	Estado State
	// Query is a free-text match against the client name.
	Query string
	// DueFrom/DueTo bound the due date (inclusive).
	DueFrom *time.Time
	DueTo   *time.Time
}

// OutstandingRow is one unpaid period in the cross-client listing.
type OutstandingRow struct {
	Period
	ClientName    string `json:"client_name"`
	FaltanteCents int64  `json:"faltante_cents"`
	Estado        State  `json:"estado"`
}

// OutstandingPage is one page of the outstanding-periods listing.
type OutstandingPage struct {
	Rows     []*OutstandingRow `json:"rows"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Total    int               `json:"total"`
}

// Service defines the recurring billing and settlement operations.
type Service interface {
	// Period generation.
	ListPeriods(ctx context.Context, clientID int64) ([]*Period, error)
	GenerateRange(ctx context.Context, clientID int64, from, to YearMonth, amountOverrideCents *int64) (int, error)
	InitFirstPeriod(ctx context.Context, clientID int64) (*Period, error)
	EnsureCurrentPeriods(ctx context.Context) (int, error)

	// Settlement ledger.
	ApplyFullPayment(ctx context.Context, periodID int64) (*Period, error)
	ApplyPartialPayment(ctx context.Context, periodID int64, amountCents int64) (*Period, error)

	// Service state.
	Suspend(ctx context.Context, periodID int64) (*Period, error)
	Reactivate(ctx context.Context, periodID int64) (*Period, error)

	// Read projections.
	GetSummary(ctx context.Context, clientID int64) (*Summary, error)
	ListOutstanding(ctx context.Context, filter OutstandingFilter, page, pageSize int) (*OutstandingPage, error)
}
