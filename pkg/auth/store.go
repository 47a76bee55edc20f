package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Store manages API token lifecycle against PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new token store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const tokenColumns = `id, token_hash, token_prefix, name, role, client_id, expires_at, revoked_at, last_used_at, created_at`

func scanToken(row interface{ Scan(...interface{}) error }) (*Token, error) {
	t := &Token{}
	err := row.Scan(
		&t.ID, &t.TokenHash, &t.TokenPrefix, &t.Name, &t.Role,
		&t.ClientID, &t.ExpiresAt, &t.RevokedAt, &t.LastUsedAt, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// CreateToken issues a new token. The plaintext is returned exactly once.
func (s *Store) CreateToken(ctx context.Context, req *CreateTokenRequest) (*Token, string, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, "", fmt.Errorf("token name is required")
	}
	if !req.Role.Valid() {
		return nil, "", fmt.Errorf("invalid role %q", req.Role)
	}
	if req.Role == RoleCliente && req.ClientID == nil {
		return nil, "", fmt.Errorf("cliente tokens require a client_id")
	}

	plaintext, hash, prefix, err := GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate token: %w", err)
	}

	query := `
		INSERT INTO api_tokens (token_hash, token_prefix, name, role, client_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + tokenColumns
	token, err := scanToken(s.db.QueryRowContext(ctx, query,
		hash, prefix, req.Name, req.Role, req.ClientID, req.ExpiresAt))
	if err != nil {
		return nil, "", fmt.Errorf("failed to store token: %w", err)
	}
	return token, plaintext, nil
}

// ValidateToken resolves a plaintext token to its record, rejecting revoked
// and expired tokens, and touches last_used_at.
func (s *Store) ValidateToken(ctx context.Context, plaintext string) (*Token, error) {
	if err := ValidateTokenFormat(plaintext); err != nil {
		return nil, fmt.Errorf("invalid token format: %w", err)
	}

	query := `SELECT ` + tokenColumns + ` FROM api_tokens
		WHERE token_hash = $1
		  AND revoked_at IS NULL
		  AND (expires_at IS NULL OR expires_at > NOW())`
	token, err := scanToken(s.db.QueryRowContext(ctx, query, HashToken(plaintext)))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("unknown or expired token")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	// Best effort; a failed touch must not reject the request.
	_, _ = s.db.ExecContext(ctx, `UPDATE api_tokens SET last_used_at = NOW() WHERE id = $1`, token.ID)
	return token, nil
}

// RevokeToken marks a token revoked. Revocation is permanent.
func (s *Store) RevokeToken(ctx context.Context, tokenID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE api_tokens SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, tokenID)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("token %d not found or already revoked", tokenID)
	}
	return nil
}
