package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reservapp/reserva-api/internal/models"
	"github.com/reservapp/reserva-api/internal/repository"
	appErrors "github.com/reservapp/reserva-api/pkg/errors"
)

type mockTokenRepo struct {
	tokens         map[string]*models.RefreshToken
	nextID         int
	rotateErr      error
	deleteExpired  int64
	revokedAllFor  string
	revokeAllCalls int
}

func newMockTokenRepo() *mockTokenRepo {
	return &mockTokenRepo{tokens: make(map[string]*models.RefreshToken)}
}

func (m *mockTokenRepo) Create(ctx context.Context, token *models.RefreshToken) error {
	m.nextID++
	if token.ID == "" {
		token.ID = time.Now().Format("150405.000000000") + string(rune('a'+m.nextID))
	}
	copied := *token
	m.tokens[token.ID] = &copied
	return nil
}

func (m *mockTokenRepo) FindUnexpired(ctx context.Context, now time.Time) ([]models.RefreshToken, error) {
	out := make([]models.RefreshToken, 0, len(m.tokens))
	for _, t := range m.tokens {
		if t.ExpiresAt.After(now) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockTokenRepo) Revoke(ctx context.Context, id string, revokedAt time.Time) error {
	if t, ok := m.tokens[id]; ok {
		t.Revoked = true
		t.RevokedAt = &revokedAt
	}
	return nil
}

func (m *mockTokenRepo) RevokeAllForUser(ctx context.Context, userID string, revokedAt time.Time) error {
	m.revokedAllFor = userID
	m.revokeAllCalls++
	for _, t := range m.tokens {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &revokedAt
		}
	}
	return nil
}

func (m *mockTokenRepo) Rotate(ctx context.Context, oldID string, revokedAt time.Time, replacement *models.RefreshToken) error {
	if m.rotateErr != nil {
		return m.rotateErr
	}
	old, ok := m.tokens[oldID]
	if !ok || old.Revoked {
		return repository.ErrTokenAlreadyRevoked
	}
	old.Revoked = true
	old.RevokedAt = &revokedAt
	return m.Create(ctx, replacement)
}

func (m *mockTokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	for id, t := range m.tokens {
		if !t.ExpiresAt.After(now) {
			delete(m.tokens, id)
			count++
		}
	}
	m.deleteExpired = count
	return count, nil
}

func newTokenServiceForTest(repo *mockTokenRepo) *TokenService {
	svc := NewTokenService(repo, zap.NewNop(), 7*24*time.Hour)
	svc.now = fixedNow
	return svc
}

func TestIssueAndValidate(t *testing.T) {
	repo := newMockTokenRepo()
	svc := newTokenServiceForTest(repo)

	clear, err := svc.Issue(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, clear)

	record, err := svc.Validate(context.Background(), clear)
	require.NoError(t, err)
	assert.Equal(t, "user-1", record.UserID)
	assert.NotEqual(t, clear, record.TokenHash)
}

func TestValidateUnknownToken(t *testing.T) {
	repo := newMockTokenRepo()
	svc := newTokenServiceForTest(repo)

	_, err := svc.Validate(context.Background(), "never-issued")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidToken))
}

func TestRotateRevokesOldAndIssuesNew(t *testing.T) {
	repo := newMockTokenRepo()
	svc := newTokenServiceForTest(repo)

	clear, err := svc.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	userID, newClear, err := svc.Rotate(context.Background(), clear)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
	require.NotEmpty(t, newClear)
	assert.NotEqual(t, clear, newClear)

	// The replacement works.
	record, err := svc.Validate(context.Background(), newClear)
	require.NoError(t, err)
	assert.Equal(t, "user-1", record.UserID)
}

func TestReuseDetectionRevokesAllSessions(t *testing.T) {
	repo := newMockTokenRepo()
	svc := newTokenServiceForTest(repo)

	stolen, err := svc.Issue(context.Background(), "user-1")
	require.NoError(t, err)
	other, err := svc.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	// Legitimate rotation consumes the first token.
	_, _, err = svc.Rotate(context.Background(), stolen)
	require.NoError(t, err)

	// Replaying the consumed token is reuse: every session dies.
	_, err = svc.Validate(context.Background(), stolen)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenReuse))
	assert.Equal(t, "user-1", repo.revokedAllFor)

	// The user's other token, previously valid, is now revoked too and
	// trips reuse detection itself.
	_, err = svc.Validate(context.Background(), other)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenReuse))
}

func TestDoubleRotateSecondLoses(t *testing.T) {
	repo := newMockTokenRepo()
	svc := newTokenServiceForTest(repo)

	clear, err := svc.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	_, _, err = svc.Rotate(context.Background(), clear)
	require.NoError(t, err)

	_, _, err = svc.Rotate(context.Background(), clear)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenReuse))
}

func TestRotateLosingConditionalRevoke(t *testing.T) {
	// Simulates the race where another rotation wins between Validate
	// and the storage-level conditional revoke.
	repo := newMockTokenRepo()
	svc := newTokenServiceForTest(repo)

	clear, err := svc.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	repo.rotateErr = repository.ErrTokenAlreadyRevoked
	_, _, err = svc.Rotate(context.Background(), clear)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidToken))
}

func TestRevokeThenValidateDetectsReuse(t *testing.T) {
	repo := newMockTokenRepo()
	svc := newTokenServiceForTest(repo)

	clear, err := svc.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), clear))

	_, err = svc.Validate(context.Background(), clear)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenReuse))
}

func TestRevokeAllIsIdempotent(t *testing.T) {
	repo := newMockTokenRepo()
	svc := newTokenServiceForTest(repo)

	_, err := svc.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.RevokeAll(context.Background(), "user-1"))
	require.NoError(t, svc.RevokeAll(context.Background(), "user-1"))
	assert.Equal(t, 2, repo.revokeAllCalls)
}

func TestPurgeExpired(t *testing.T) {
	repo := newMockTokenRepo()
	svc := newTokenServiceForTest(repo)

	expired := &models.RefreshToken{
		ID:        "expired-1",
		UserID:    "user-1",
		TokenHash: "hash",
		ExpiresAt: fixedNow().Add(-time.Hour),
	}
	require.NoError(t, repo.Create(context.Background(), expired))

	_, err := svc.Issue(context.Background(), "user-1")
	require.NoError(t, err)

	count, err := svc.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// A second sweep finds nothing.
	count, err = svc.PurgeExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
