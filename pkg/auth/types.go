// Package auth issues and validates the opaque API tokens that gate the
// billing backend. Tokens are stored hashed; the plaintext is returned once
// at creation and never again.
package auth

import "time"

// Role is the coarse access level carried by a token.
type Role string

const (
	// RoleAdmin can do everything, including issuing tokens.
	RoleAdmin Role = "admin"
	// RoleTrabajador is an operator: all billing mutations and reads.
	RoleTrabajador Role = "trabajador"
	// RoleCliente is a subscription client: read-only access to their own
	// billing summary.
	RoleCliente Role = "cliente"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleTrabajador, RoleCliente:
		return true
	}
	return false
}

// Token is a stored API token record. TokenHash is the SHA-256 of the full
// plaintext token; TokenPrefix is a short identifying prefix for display.
type Token struct {
	ID          int64      `json:"id"`
	TokenHash   string     `json:"-"`
	TokenPrefix string     `json:"token_prefix"`
	Name        string     `json:"name"`
	Role        Role       `json:"role"`
	ClientID    *int64     `json:"client_id,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// CreateTokenRequest is the payload for issuing a token.
type CreateTokenRequest struct {
	Name      string     `json:"name"`
	Role      Role       `json:"role"`
	ClientID  *int64     `json:"client_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
