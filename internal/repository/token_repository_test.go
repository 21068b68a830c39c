package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/reservapp/reserva-api/internal/models"
)

func newTokenRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func tokenFixture() *models.RefreshToken {
	return &models.RefreshToken{
		UserID:    "user-1",
		TokenHash: "$2a$10$hash",
		ExpiresAt: time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC),
	}
}

func TestTokenRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newTokenRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	token := tokenFixture()
	require.NoError(t, repo.Create(context.Background(), token))
	require.NotEmpty(t, token.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryFindUnexpiredIncludesRevoked(t *testing.T) {
	db, mock, cleanup := newTokenRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	revokedAt := now.Add(-time.Hour)
	rows := sqlmock.NewRows([]string{"id", "user_id", "token_hash", "expires_at", "revoked", "revoked_at", "created_at"}).
		AddRow("tok-1", "user-1", "hash-1", now.Add(time.Hour), false, nil, now.Add(-2*time.Hour)).
		AddRow("tok-2", "user-1", "hash-2", now.Add(time.Hour), true, revokedAt, now.Add(-3*time.Hour))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, user_id, token_hash")).
		WithArgs(now).
		WillReturnRows(rows)

	tokens, err := repo.FindUnexpired(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	require.True(t, tokens[1].Revoked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryRotateCommits(t *testing.T) {
	db, mock, cleanup := newTokenRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1 AND revoked = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO refresh_tokens")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Rotate(context.Background(), "tok-1", time.Now().UTC(), tokenFixture())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryRotateAlreadyRevoked(t *testing.T) {
	db, mock, cleanup := newTokenRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE id = $1 AND revoked = FALSE")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Rotate(context.Background(), "tok-1", time.Now().UTC(), tokenFixture())
	require.ErrorIs(t, err, ErrTokenAlreadyRevoked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryRevokeAllForUser(t *testing.T) {
	db, mock, cleanup := newTokenRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE refresh_tokens SET revoked = TRUE, revoked_at = $2 WHERE user_id = $1 AND revoked = FALSE")).
		WithArgs("user-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, repo.RevokeAllForUser(context.Background(), "user-1", time.Now().UTC()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenRepositoryDeleteExpired(t *testing.T) {
	db, mock, cleanup := newTokenRepoMock(t)
	defer cleanup()

	repo := NewTokenRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM refresh_tokens WHERE expires_at < $1")).
		WillReturnResult(sqlmock.NewResult(0, 4))

	count, err := repo.DeleteExpired(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, int64(4), count)
	require.NoError(t, mock.ExpectationsWereMet())
}
