package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reservapp/reserva-api/internal/models"
	appErrors "github.com/reservapp/reserva-api/pkg/errors"
)

type mockBusinessRepo struct {
	byID      *models.Business
	findErr   error
	listed    []models.Business
	listCalls int
	updated   *models.Business
}

func (m *mockBusinessRepo) FindByID(ctx context.Context, id string) (*models.Business, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.byID, nil
}

func (m *mockBusinessRepo) Create(ctx context.Context, business *models.Business) error {
	business.ID = "biz-1"
	return nil
}

func (m *mockBusinessRepo) Update(ctx context.Context, business *models.Business) error {
	m.updated = business
	return nil
}

func (m *mockBusinessRepo) Deactivate(ctx context.Context, id string) error {
	return nil
}

func (m *mockBusinessRepo) List(ctx context.Context, filter models.BusinessFilter) ([]models.Business, int, error) {
	m.listCalls++
	return m.listed, len(m.listed), nil
}

func (m *mockBusinessRepo) ListByOwner(ctx context.Context, ownerID string) ([]models.Business, error) {
	out := make([]models.Business, 0, len(m.listed))
	for _, b := range m.listed {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	return out, nil
}

type memoryCache struct {
	entries  map[string][]byte
	patterns []string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string][]byte)}
}

func (c *memoryCache) Get(ctx context.Context, key string, dest interface{}) error {
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func (c *memoryCache) DeleteByPattern(ctx context.Context, pattern string) error {
	c.patterns = append(c.patterns, pattern)
	c.entries = make(map[string][]byte)
	return nil
}

func TestBusinessListServedFromCacheOnRepeat(t *testing.T) {
	repo := &mockBusinessRepo{listed: []models.Business{{ID: "biz-1", Name: "Sharp Cuts"}}}
	cache := newMemoryCache()
	svc := NewBusinessService(repo, cache, 5*time.Minute, nil, zap.NewNop())

	filter := models.BusinessFilter{Page: 1, PageSize: 20}

	first, total, err := svc.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, first, 1)

	second, _, err := svc.List(context.Background(), filter)
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 1, repo.listCalls)
}

func TestBusinessWriteInvalidatesCache(t *testing.T) {
	repo := &mockBusinessRepo{
		byID:   &models.Business{ID: "biz-1", OwnerID: "owner-1", Name: "Sharp Cuts", IsActive: true},
		listed: []models.Business{{ID: "biz-1", Name: "Sharp Cuts"}},
	}
	cache := newMemoryCache()
	svc := NewBusinessService(repo, cache, 5*time.Minute, nil, zap.NewNop())

	_, _, err := svc.List(context.Background(), models.BusinessFilter{Page: 1, PageSize: 20})
	require.NoError(t, err)

	name := "Sharper Cuts"
	_, err = svc.Update(context.Background(), models.Principal{UserID: "owner-1", Role: models.RoleOwner}, "biz-1", models.UpdateBusinessRequest{Name: &name})
	require.NoError(t, err)

	assert.Contains(t, cache.patterns, "businesses:*")
	assert.Empty(t, cache.entries)
}

func TestBusinessUpdateForbiddenForNonOwner(t *testing.T) {
	repo := &mockBusinessRepo{byID: &models.Business{ID: "biz-1", OwnerID: "owner-1"}}
	svc := NewBusinessService(repo, nil, 0, nil, zap.NewNop())

	name := "Hijacked"
	_, err := svc.Update(context.Background(), models.Principal{UserID: "other", Role: models.RoleOwner}, "biz-1", models.UpdateBusinessRequest{Name: &name})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestBusinessListMineReturnsOwnOnly(t *testing.T) {
	repo := &mockBusinessRepo{listed: []models.Business{
		{ID: "biz-1", OwnerID: "owner-1", Name: "Sharp Cuts"},
		{ID: "biz-2", OwnerID: "owner-2", Name: "Other Shop"},
	}}
	svc := NewBusinessService(repo, nil, 0, nil, zap.NewNop())

	businesses, err := svc.ListMine(context.Background(), models.Principal{UserID: "owner-1", Role: models.RoleOwner})
	require.NoError(t, err)
	require.Len(t, businesses, 1)
	assert.Equal(t, "biz-1", businesses[0].ID)
}

func TestBusinessAdminMayUpdateAny(t *testing.T) {
	repo := &mockBusinessRepo{byID: &models.Business{ID: "biz-1", OwnerID: "owner-1"}}
	svc := NewBusinessService(repo, nil, 0, nil, zap.NewNop())

	active := false
	_, err := svc.Update(context.Background(), models.Principal{UserID: "admin-1", Role: models.RoleAdmin}, "biz-1", models.UpdateBusinessRequest{IsActive: &active})
	require.NoError(t, err)
	require.NotNil(t, repo.updated)
	assert.False(t, repo.updated.IsActive)
}
