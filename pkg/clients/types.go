package clients

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a client does not exist.
var ErrNotFound = errors.New("client not found")

// ClientType distinguishes voucher customers from fixed-subscription
// ("servicio") clients. Only servicio clients are billed monthly.
type ClientType string

const (
	TypeNormal   ClientType = "normal"
	TypeServicio ClientType = "servicio"
)

// Client is a registry record. The billing engine treats it as read-only
// input: monthly fee, billing day and the anchor dates for the first period.
type Client struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Type            ClientType `json:"type"`
	MonthlyFeeCents int64      `json:"monthly_fee_cents"`
	// BillingDay is the due day-of-month (1-28); 0 means unset, in which
	// case the billing engine derives it from the install/first-cut date.
	BillingDay   int        `json:"billing_day"`
	InstallDate  *time.Time `json:"install_date,omitempty"`
	FirstCutDate *time.Time `json:"first_cut_date,omitempty"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsServicio reports whether the client is on a fixed subscription.
func (c *Client) IsServicio() bool {
	return c.Type == TypeServicio
}

// CreateClientRequest is the payload for registering a client.
type CreateClientRequest struct {
	Name            string     `json:"name"`
	Type            ClientType `json:"type"`
	MonthlyFeeCents int64      `json:"monthly_fee_cents"`
	BillingDay      int        `json:"billing_day"`
	InstallDate     *time.Time `json:"install_date,omitempty"`
	FirstCutDate    *time.Time `json:"first_cut_date,omitempty"`
}

// UpdateClientRequest carries optional field updates; nil fields are left
// unchanged.
type UpdateClientRequest struct {
	Name            *string    `json:"name,omitempty"`
	MonthlyFeeCents *int64     `json:"monthly_fee_cents,omitempty"`
	BillingDay      *int       `json:"billing_day,omitempty"`
	FirstCutDate    *time.Time `json:"first_cut_date,omitempty"`
	Active          *bool      `json:"active,omitempty"`
}

// Service defines client registry operations.
type Service interface {
	Create(ctx context.Context, req *CreateClientRequest) (*Client, error)
	Get(ctx context.Context, id int64) (*Client, error)
	Update(ctx context.Context, id int64, req *UpdateClientRequest) (*Client, error)
	List(ctx context.Context) ([]*Client, error)
	// ListActiveServicio returns the clients swept by the period generator.
	ListActiveServicio(ctx context.Context) ([]*Client, error)
}
