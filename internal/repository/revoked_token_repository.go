package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"catalog-api/internal/domain"
)

// RevocationStore remembers logged-out tokens by their jti until they expire
type RevocationStore interface {
	Revoke(ctx context.Context, token *domain.RevokedToken) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RevokedTokenRepository is the Postgres-backed RevocationStore
type RevokedTokenRepository interface {
	RevocationStore
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type revokedTokenRepository struct {
	db *sql.DB
}

// NewRevokedTokenRepository creates a new instance of RevokedTokenRepository
func NewRevokedTokenRepository(db *sql.DB) RevokedTokenRepository {
	return &revokedTokenRepository{db: db}
}

// Revoke records the token. Revoking the same jti twice is not an error.
func (r *revokedTokenRepository) Revoke(ctx context.Context, token *domain.RevokedToken) error {
	query := `
		INSERT INTO revoked_tokens (jti, user_id, expires_at, revoked_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (jti) DO NOTHING
	`

	revokedAt := token.RevokedAt
	if revokedAt.IsZero() {
		revokedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query, token.JTI, token.UserID, token.ExpiresAt, revokedAt)
	if err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	return nil
}

// IsRevoked reports whether the jti has been revoked
func (r *revokedTokenRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1)`

	var revoked bool
	if err := r.db.QueryRowContext(ctx, query, jti).Scan(&revoked); err != nil {
		return false, fmt.Errorf("failed to check revoked token: %w", err)
	}

	return revoked, nil
}

// PurgeExpired drops records for tokens that can no longer verify anyway
func (r *revokedTokenRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM revoked_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge revoked tokens: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}
