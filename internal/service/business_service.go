package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/reservapp/reserva-api/internal/models"
	appErrors "github.com/reservapp/reserva-api/pkg/errors"
)

type businessRepository interface {
	FindByID(ctx context.Context, id string) (*models.Business, error)
	Create(ctx context.Context, business *models.Business) error
	Update(ctx context.Context, business *models.Business) error
	Deactivate(ctx context.Context, id string) error
	List(ctx context.Context, filter models.BusinessFilter) ([]models.Business, int, error)
	ListByOwner(ctx context.Context, ownerID string) ([]models.Business, error)
}

type catalogCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// BusinessService manages business profiles. Listings are cached; any
// write invalidates the listing cache.
type BusinessService struct {
	repo      businessRepository
	cache     catalogCache
	cacheTTL  time.Duration
	validator *validator.Validate
	logger    *zap.Logger
}

type cachedBusinessList struct {
	Businesses []models.Business `json:"businesses"`
	Total      int               `json:"total"`
}

// NewBusinessService constructs a BusinessService instance. cache may be
// nil, in which case all reads go to the database.
func NewBusinessService(repo businessRepository, cache catalogCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *BusinessService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &BusinessService{repo: repo, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// Create registers a business owned by the requesting principal.
func (s *BusinessService) Create(ctx context.Context, principal models.Principal, req models.CreateBusinessRequest) (*models.Business, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid business payload")
	}

	business := &models.Business{
		OwnerID:  principal.UserID,
		Name:     req.Name,
		Address:  req.Address,
		Phone:    req.Phone,
		IsActive: true,
	}
	if err := s.repo.Create(ctx, business); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create business")
	}

	s.invalidateCache(ctx)
	s.logger.Info("business created", zap.String("business_id", business.ID), zap.String("owner_id", principal.UserID))
	return business, nil
}

// GetByID returns one business.
func (s *BusinessService) GetByID(ctx context.Context, id string) (*models.Business, error) {
	business, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "business not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load business")
	}
	return business, nil
}

// Update mutates profile fields, restricted to the owner or admin.
func (s *BusinessService) Update(ctx context.Context, principal models.Principal, id string, req models.UpdateBusinessRequest) (*models.Business, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid business payload")
	}

	business, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if business.OwnerID != principal.UserID && !principal.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you are not the owner of this business")
	}

	if req.Name != nil {
		business.Name = *req.Name
	}
	if req.Address != nil {
		business.Address = *req.Address
	}
	if req.Phone != nil {
		business.Phone = *req.Phone
	}
	if req.IsActive != nil {
		business.IsActive = *req.IsActive
	}

	if err := s.repo.Update(ctx, business); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update business")
	}

	s.invalidateCache(ctx)
	return business, nil
}

// Deactivate flips the active flag off. Existing bookings survive, but
// no new bookings can be placed against an inactive business.
func (s *BusinessService) Deactivate(ctx context.Context, principal models.Principal, id string) error {
	business, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if business.OwnerID != principal.UserID && !principal.IsAdmin() {
		return appErrors.Clone(appErrors.ErrForbidden, "you are not the owner of this business")
	}

	if err := s.repo.Deactivate(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to deactivate business")
	}

	s.invalidateCache(ctx)
	s.logger.Info("business deactivated", zap.String("business_id", id))
	return nil
}

// List searches businesses, serving repeated queries from cache.
func (s *BusinessService) List(ctx context.Context, filter models.BusinessFilter) ([]models.Business, int, error) {
	key := businessListCacheKey(filter)
	if s.cache != nil {
		var cached cachedBusinessList
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached.Businesses, cached.Total, nil
		} else if !appErrors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("business list cache read failed", zap.Error(err))
		}
	}

	businesses, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list businesses")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, cachedBusinessList{Businesses: businesses, Total: total}, s.cacheTTL); err != nil {
			s.logger.Warn("business list cache write failed", zap.Error(err))
		}
	}

	return businesses, total, nil
}

// ListMine returns the caller's own active businesses. Not cached; the
// shared listing cache is keyed on public filters only.
func (s *BusinessService) ListMine(ctx context.Context, principal models.Principal) ([]models.Business, error) {
	businesses, err := s.repo.ListByOwner(ctx, principal.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list businesses")
	}
	return businesses, nil
}

func (s *BusinessService) invalidateCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, "businesses:*"); err != nil {
		s.logger.Warn("business cache invalidation failed", zap.Error(err))
	}
}

func businessListCacheKey(filter models.BusinessFilter) string {
	active := "any"
	if filter.Active != nil {
		active = fmt.Sprintf("%t", *filter.Active)
	}
	return fmt.Sprintf("businesses:%s:%s:%d:%d", filter.Search, active, filter.Page, filter.PageSize)
}
