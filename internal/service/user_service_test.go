package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/reservapp/reserva-api/internal/models"
	appErrors "github.com/reservapp/reserva-api/pkg/errors"
)

type mockUserRepo struct {
	byID         *models.User
	findErr      error
	updatedName  string
	updatedPhone string
	updatedHash  string
	updatedRole  models.UserRole
	deletedID    string
	deleteErr    error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.byID, nil
}

func (m *mockUserRepo) UpdateProfile(ctx context.Context, id, name, phone string) error {
	m.updatedName = name
	m.updatedPhone = phone
	return nil
}

func (m *mockUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	m.updatedHash = passwordHash
	return nil
}

func (m *mockUserRepo) UpdateRole(ctx context.Context, id string, role models.UserRole) error {
	m.updatedRole = role
	return nil
}

func (m *mockUserRepo) Delete(ctx context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deletedID = id
	return nil
}

func (m *mockUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	return nil, 0, nil
}

type mockSessionRevoker struct {
	revokedFor []string
}

func (m *mockSessionRevoker) RevokeAll(ctx context.Context, userID string) error {
	m.revokedFor = append(m.revokedFor, userID)
	return nil
}

func userServiceFixture(t *testing.T, password string) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &models.User{
		ID:           "user-1",
		Email:        "client@example.com",
		PasswordHash: string(hash),
		Name:         "Client One",
		Phone:        "555-0100",
		Role:         models.RoleClient,
	}
}

func TestUpdateProfilePartial(t *testing.T) {
	repo := &mockUserRepo{byID: userServiceFixture(t, "oldpassword")}
	svc := NewUserService(repo, &mockSessionRevoker{}, nil, zap.NewNop())

	phone := "555-0199"
	user, err := svc.UpdateProfile(context.Background(), models.Principal{UserID: "user-1", Role: models.RoleClient}, models.UpdateProfileRequest{Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, "Client One", repo.updatedName)
	assert.Equal(t, phone, repo.updatedPhone)
	assert.Equal(t, phone, user.Phone)
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	repo := &mockUserRepo{byID: userServiceFixture(t, "oldpassword")}
	sessions := &mockSessionRevoker{}
	svc := NewUserService(repo, sessions, nil, zap.NewNop())

	err := svc.ChangePassword(context.Background(), models.Principal{UserID: "user-1", Role: models.RoleClient}, models.ChangePasswordRequest{
		CurrentPassword: "oldpassword",
		NewPassword:     "brand-new-password",
	})
	require.NoError(t, err)
	require.NotEmpty(t, repo.updatedHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(repo.updatedHash), []byte("brand-new-password")))
	assert.Equal(t, []string{"user-1"}, sessions.revokedFor)
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	repo := &mockUserRepo{byID: userServiceFixture(t, "oldpassword")}
	sessions := &mockSessionRevoker{}
	svc := NewUserService(repo, sessions, nil, zap.NewNop())

	err := svc.ChangePassword(context.Background(), models.Principal{UserID: "user-1", Role: models.RoleClient}, models.ChangePasswordRequest{
		CurrentPassword: "wrongpassword",
		NewPassword:     "brand-new-password",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
	assert.Empty(t, repo.updatedHash)
	assert.Empty(t, sessions.revokedFor)
}

func TestUpdateRoleRevokesSessions(t *testing.T) {
	repo := &mockUserRepo{byID: userServiceFixture(t, "oldpassword")}
	sessions := &mockSessionRevoker{}
	svc := NewUserService(repo, sessions, nil, zap.NewNop())

	user, err := svc.UpdateRole(context.Background(), "user-1", models.UpdateRoleRequest{Role: models.RoleOwner})
	require.NoError(t, err)
	assert.Equal(t, models.RoleOwner, user.Role)
	assert.Equal(t, []string{"user-1"}, sessions.revokedFor)
}

func TestUpdateRoleSameRoleIsNoop(t *testing.T) {
	repo := &mockUserRepo{byID: userServiceFixture(t, "oldpassword")}
	sessions := &mockSessionRevoker{}
	svc := NewUserService(repo, sessions, nil, zap.NewNop())

	_, err := svc.UpdateRole(context.Background(), "user-1", models.UpdateRoleRequest{Role: models.RoleClient})
	require.NoError(t, err)
	assert.Empty(t, sessions.revokedFor)
}

func TestDeleteUserRevokesSessions(t *testing.T) {
	repo := &mockUserRepo{byID: userServiceFixture(t, "oldpassword")}
	sessions := &mockSessionRevoker{}
	svc := NewUserService(repo, sessions, nil, zap.NewNop())

	require.NoError(t, svc.Delete(context.Background(), "user-1"))
	assert.Equal(t, "user-1", repo.deletedID)
	assert.Equal(t, []string{"user-1"}, sessions.revokedFor)
}

func TestDeleteUserNotFound(t *testing.T) {
	repo := &mockUserRepo{deleteErr: sql.ErrNoRows}
	svc := NewUserService(repo, &mockSessionRevoker{}, nil, zap.NewNop())

	err := svc.Delete(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}
