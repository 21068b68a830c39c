package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/reservapp/reserva-api/internal/models"
)

// ErrTokenAlreadyRevoked is returned when a conditional revoke finds the
// row already revoked, which happens when two rotations race.
var ErrTokenAlreadyRevoked = errors.New("refresh token already revoked")

// TokenRepository provides database access for refresh tokens.
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository creates a new instance of TokenRepository.
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

// Create persists a refresh token entry.
func (r *TokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked, revoked_at, created_at) VALUES (:id, :user_id, :token_hash, :expires_at, :revoked, :revoked_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindUnexpired returns every token that has not yet expired, revoked
// rows included. Revocation is checked after hash matching so that a
// replayed token can be recognised as reuse.
func (r *TokenRepository) FindUnexpired(ctx context.Context, now time.Time) ([]models.RefreshToken, error) {
	const query = `SELECT id, user_id, token_hash, expires_at, revoked, revoked_at, created_at FROM refresh_tokens WHERE expires_at > $1 ORDER BY created_at DESC`
	var tokens []models.RefreshToken
	if err := r.db.SelectContext(ctx, &tokens, query, now); err != nil {
		return nil, fmt.Errorf("find unexpired tokens: %w", err)
	}
	return tokens, nil
}

// Revoke marks a token as revoked.
func (r *TokenRepository) Revoke(ctx context.Context, id string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, revokedAt); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser revokes every live token of a user. Idempotent.
func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE`
	if _, err := r.db.ExecContext(ctx, query, userID, revokedAt); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

// Rotate revokes the used token and inserts its replacement in a single
// transaction. The revoke is conditional on the row still being live, so
// of two concurrent rotations of the same token exactly one commits; the
// other gets ErrTokenAlreadyRevoked and no orphan replacement is left.
func (r *TokenRepository) Rotate(ctx context.Context, oldID string, revokedAt time.Time, replacement *models.RefreshToken) error {
	if replacement.ID == "" {
		replacement.ID = uuid.NewString()
	}
	if replacement.CreatedAt.IsZero() {
		replacement.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotate tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const revokeQuery = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1 AND revoked = FALSE`
	res, err := tx.ExecContext(ctx, revokeQuery, oldID, revokedAt)
	if err != nil {
		return fmt.Errorf("rotate revoke: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate revoke rows affected: %w", err)
	}
	if rows == 0 {
		return ErrTokenAlreadyRevoked
	}

	const insertQuery = `INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, revoked, revoked_at, created_at) VALUES (:id, :user_id, :token_hash, :expires_at, :revoked, :revoked_at, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insertQuery, replacement); err != nil {
		return fmt.Errorf("rotate insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotate tx: %w", err)
	}
	return nil
}

// DeleteExpired removes rows whose expiry is strictly before now and
// reports how many were purged.
func (r *TokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at < $1`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	count, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired rows affected: %w", err)
	}
	return count, nil
}
