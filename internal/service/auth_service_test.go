package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/reservapp/reserva-api/internal/models"
	appErrors "github.com/reservapp/reserva-api/pkg/errors"
)

type mockAuthUserRepo struct {
	byEmail     *models.User
	byID        *models.User
	emailErr    error
	idErr       error
	createErr   error
	createdUser *models.User
}

func (m *mockAuthUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.emailErr != nil {
		return nil, m.emailErr
	}
	return m.byEmail, nil
}

func (m *mockAuthUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.idErr != nil {
		return nil, m.idErr
	}
	return m.byID, nil
}

func (m *mockAuthUserRepo) Create(ctx context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	user.ID = "user-1"
	m.createdUser = user
	return nil
}

type mockTokenManager struct {
	issued    string
	rotatedTo string
	rotateErr error
	revoked   []string
	userID    string
}

func (m *mockTokenManager) Issue(ctx context.Context, userID string) (string, error) {
	m.issued = "refresh-" + userID
	return m.issued, nil
}

func (m *mockTokenManager) Rotate(ctx context.Context, clear string) (string, string, error) {
	if m.rotateErr != nil {
		return "", "", m.rotateErr
	}
	m.rotatedTo = "rotated-" + clear
	return m.userID, m.rotatedTo, nil
}

func (m *mockTokenManager) Revoke(ctx context.Context, clear string) error {
	m.revoked = append(m.revoked, clear)
	return nil
}

func (m *mockTokenManager) RevokeAll(ctx context.Context, userID string) error {
	m.revoked = append(m.revoked, "all:"+userID)
	return nil
}

func newAuthServiceForTest(repo *mockAuthUserRepo, tokens *mockTokenManager) *AuthService {
	return NewAuthService(repo, tokens, nil, zap.NewNop(), AuthConfig{
		AccessTokenSecret: "test-secret",
		AccessTokenExpiry: 15 * time.Minute,
		Issuer:            "reserva-test",
	})
}

func userFixture(password string) *models.User {
	hash, _ := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	return &models.User{
		ID:           "user-1",
		Email:        "client@example.com",
		PasswordHash: string(hash),
		Name:         "Client One",
		Role:         models.RoleClient,
	}
}

func TestRegisterCreatesClientAndIssuesPair(t *testing.T) {
	repo := &mockAuthUserRepo{emailErr: sql.ErrNoRows}
	tokens := &mockTokenManager{}
	svc := newAuthServiceForTest(repo, tokens)

	res, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "client@example.com",
		Password: "supersecret",
		Name:     "Client One",
	})
	require.NoError(t, err)
	require.NotNil(t, repo.createdUser)
	assert.Equal(t, models.RoleClient, repo.createdUser.Role)
	assert.NotEqual(t, "supersecret", repo.createdUser.PasswordHash)
	assert.NotEmpty(t, res.AccessToken)
	assert.Equal(t, tokens.issued, res.RefreshToken)
	assert.Equal(t, int64(900), res.ExpiresIn)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	repo := &mockAuthUserRepo{byEmail: userFixture("supersecret")}
	svc := newAuthServiceForTest(repo, &mockTokenManager{})

	_, err := svc.Register(context.Background(), models.RegisterRequest{
		Email:    "client@example.com",
		Password: "supersecret",
		Name:     "Client One",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestLoginSuccessYieldsValidAccessToken(t *testing.T) {
	repo := &mockAuthUserRepo{byEmail: userFixture("supersecret")}
	svc := newAuthServiceForTest(repo, &mockTokenManager{})

	res, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "client@example.com",
		Password: "supersecret",
	})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleClient, claims.Role)
	assert.Equal(t, "reserva-test", claims.Issuer)
}

func TestLoginWrongPassword(t *testing.T) {
	repo := &mockAuthUserRepo{byEmail: userFixture("supersecret")}
	svc := newAuthServiceForTest(repo, &mockTokenManager{})

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "client@example.com",
		Password: "wrong",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestLoginUnknownEmail(t *testing.T) {
	repo := &mockAuthUserRepo{emailErr: sql.ErrNoRows}
	svc := newAuthServiceForTest(repo, &mockTokenManager{})

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "nobody@example.com",
		Password: "supersecret",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestRefreshRotatesAndMintsAccessToken(t *testing.T) {
	repo := &mockAuthUserRepo{byID: userFixture("supersecret")}
	tokens := &mockTokenManager{userID: "user-1"}
	svc := newAuthServiceForTest(repo, tokens)

	res, err := svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: "old-token"})
	require.NoError(t, err)
	assert.Equal(t, "rotated-old-token", res.RefreshToken)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
}

func TestRefreshPropagatesReuseError(t *testing.T) {
	tokens := &mockTokenManager{rotateErr: appErrors.ErrTokenReuse}
	svc := newAuthServiceForTest(&mockAuthUserRepo{}, tokens)

	_, err := svc.Refresh(context.Background(), models.RefreshRequest{RefreshToken: "stolen"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenReuse))
}

func TestValidateTokenRejectsTampered(t *testing.T) {
	repo := &mockAuthUserRepo{byEmail: userFixture("supersecret")}
	svc := newAuthServiceForTest(repo, &mockTokenManager{})

	res, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "client@example.com",
		Password: "supersecret",
	})
	require.NoError(t, err)

	other := NewAuthService(repo, &mockTokenManager{}, nil, zap.NewNop(), AuthConfig{
		AccessTokenSecret: "different-secret",
		AccessTokenExpiry: 15 * time.Minute,
		Issuer:            "reserva-test",
	})
	_, err = other.ValidateToken(res.AccessToken)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestLogoutRevokesPresentedToken(t *testing.T) {
	tokens := &mockTokenManager{}
	svc := newAuthServiceForTest(&mockAuthUserRepo{}, tokens)

	require.NoError(t, svc.Logout(context.Background(), "some-refresh"))
	assert.Equal(t, []string{"some-refresh"}, tokens.revoked)

	require.NoError(t, svc.LogoutAll(context.Background(), "user-1"))
	assert.Contains(t, tokens.revoked, "all:user-1")
}
