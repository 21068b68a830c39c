package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/reservapp/reserva-api/internal/models"
	"github.com/reservapp/reserva-api/internal/repository"
	appErrors "github.com/reservapp/reserva-api/pkg/errors"
)

type tokenRepository interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindUnexpired(ctx context.Context, now time.Time) ([]models.RefreshToken, error)
	Revoke(ctx context.Context, id string, revokedAt time.Time) error
	RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time) error
	Rotate(ctx context.Context, oldID string, revokedAt time.Time, replacement *models.RefreshToken) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// TokenService implements the refresh token lifecycle: issuance,
// validation with reuse detection, rotation, revocation and purging.
// Only bcrypt hashes are persisted; the cleartext leaves the service
// exactly once per issuance and is never logged.
type TokenService struct {
	repo   tokenRepository
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService constructs a TokenService instance.
func NewTokenService(repo tokenRepository, logger *zap.Logger, ttl time.Duration) *TokenService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &TokenService{
		repo:   repo,
		logger: logger,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates a fresh refresh token for the user and returns its
// cleartext value.
func (s *TokenService) Issue(ctx context.Context, userID string) (string, error) {
	clear, record, err := s.mint(userID)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}
	return clear, nil
}

// Validate resolves a cleartext token to its stored record. Candidates
// are every unexpired row, revoked ones included: a match on a revoked
// row is treated as reuse of a stolen token, and every session of that
// user is revoked before the failure is surfaced.
func (s *TokenService) Validate(ctx context.Context, clear string) (*models.RefreshToken, error) {
	candidates, err := s.repo.FindUnexpired(ctx, s.now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load refresh tokens")
	}

	for i := range candidates {
		record := &candidates[i]
		if bcrypt.CompareHashAndPassword([]byte(record.TokenHash), []byte(clear)) != nil {
			continue
		}
		if record.Revoked {
			s.logger.Warn("refresh token reuse detected, revoking all sessions",
				zap.String("user_id", record.UserID),
				zap.String("token_id", record.ID),
			)
			if err := s.repo.RevokeAllForUser(ctx, record.UserID, s.now()); err != nil {
				s.logger.Error("failed to revoke user tokens after reuse detection",
					zap.String("user_id", record.UserID),
					zap.Error(err),
				)
			}
			return nil, appErrors.ErrTokenReuse
		}
		return record, nil
	}

	return nil, appErrors.ErrInvalidToken
}

// Rotate validates the presented token, revokes it and issues a
// replacement for the same user in one storage transaction. A concurrent
// rotation of the same token loses the conditional revoke and fails;
// two live children can never result.
func (s *TokenService) Rotate(ctx context.Context, clear string) (string, string, error) {
	record, err := s.Validate(ctx, clear)
	if err != nil {
		return "", "", err
	}

	newClear, replacement, err := s.mint(record.UserID)
	if err != nil {
		return "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}

	if err := s.repo.Rotate(ctx, record.ID, s.now(), replacement); err != nil {
		if errors.Is(err, repository.ErrTokenAlreadyRevoked) {
			return "", "", appErrors.ErrInvalidToken
		}
		return "", "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate refresh token")
	}

	return record.UserID, newClear, nil
}

// Revoke marks the presented token revoked.
func (s *TokenService) Revoke(ctx context.Context, clear string) error {
	record, err := s.Validate(ctx, clear)
	if err != nil {
		return err
	}
	if err := s.repo.Revoke(ctx, record.ID, s.now()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh token")
	}
	return nil
}

// RevokeAll revokes every token of the user. Idempotent.
func (s *TokenService) RevokeAll(ctx context.Context, userID string) error {
	if err := s.repo.RevokeAllForUser(ctx, userID, s.now()); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh tokens")
	}
	return nil
}

// PurgeExpired deletes rows whose expiry has passed and returns the
// number purged. Invoked by the background sweep, not request traffic.
func (s *TokenService) PurgeExpired(ctx context.Context) (int64, error) {
	count, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to purge expired tokens")
	}
	if count > 0 {
		s.logger.Info("purged expired refresh tokens", zap.Int64("count", count))
	}
	return count, nil
}

// mint generates the random cleartext and its storable record.
func (s *TokenService) mint(userID string) (string, *models.RefreshToken, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, err
	}
	clear := base64.RawURLEncoding.EncodeToString(buf)

	hash, err := bcrypt.GenerateFromPassword([]byte(clear), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, err
	}

	return clear, &models.RefreshToken{
		UserID:    userID,
		TokenHash: string(hash),
		ExpiresAt: s.now().Add(s.ttl),
		Revoked:   false,
	}, nil
}
