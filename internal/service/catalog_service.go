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

type serviceRepository interface {
	FindByID(ctx context.Context, id string) (*models.ServiceDetail, error)
	Create(ctx context.Context, service *models.Service) error
	Update(ctx context.Context, service *models.Service) error
	Delete(ctx context.Context, id string) error
	ListByBusiness(ctx context.Context, businessID string, filter models.ServiceFilter) ([]models.Service, int, error)
}

type cachedServiceList struct {
	Services []models.Service `json:"services"`
	Total    int              `json:"total"`
}

// CatalogService manages the bookable services offered by businesses.
type CatalogService struct {
	repo       serviceRepository
	businesses businessRepository
	cache      catalogCache
	cacheTTL   time.Duration
	validator  *validator.Validate
	logger     *zap.Logger
}

// NewCatalogService constructs a CatalogService instance. cache may be nil.
func NewCatalogService(repo serviceRepository, businesses businessRepository, cache catalogCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *CatalogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CatalogService{repo: repo, businesses: businesses, cache: cache, cacheTTL: cacheTTL, validator: validate, logger: logger}
}

// Create adds a service to a business, restricted to its owner or admin.
func (s *CatalogService) Create(ctx context.Context, principal models.Principal, businessID string, req models.CreateServiceRequest) (*models.Service, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid service payload")
	}

	business, err := s.businesses.FindByID(ctx, businessID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "business not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load business")
	}
	if business.OwnerID != principal.UserID && !principal.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you are not the owner of this business")
	}

	service := &models.Service{
		BusinessID:  businessID,
		Name:        req.Name,
		Description: req.Description,
		Duration:    req.Duration,
		Price:       req.Price,
	}
	if err := s.repo.Create(ctx, service); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create service")
	}

	s.invalidateCache(ctx, businessID)
	s.logger.Info("service created", zap.String("service_id", service.ID), zap.String("business_id", businessID))
	return service, nil
}

// GetByID returns one service with its business context.
func (s *CatalogService) GetByID(ctx context.Context, id string) (*models.ServiceDetail, error) {
	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "service not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load service")
	}
	return detail, nil
}

// Update mutates service fields, restricted to the business owner or admin.
func (s *CatalogService) Update(ctx context.Context, principal models.Principal, id string, req models.UpdateServiceRequest) (*models.Service, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid service payload")
	}

	detail, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if detail.BusinessOwner != principal.UserID && !principal.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "you are not the owner of this business")
	}

	service := detail.Service
	if req.Name != nil {
		service.Name = *req.Name
	}
	if req.Description != nil {
		service.Description = *req.Description
	}
	if req.Duration != nil {
		service.Duration = *req.Duration
	}
	if req.Price != nil {
		service.Price = *req.Price
	}

	if err := s.repo.Update(ctx, &service); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update service")
	}

	s.invalidateCache(ctx, service.BusinessID)
	return &service, nil
}

// Delete removes a service from the catalog, restricted to the business
// owner or admin. Existing bookings keep their denormalised window.
func (s *CatalogService) Delete(ctx context.Context, principal models.Principal, id string) error {
	detail, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if detail.BusinessOwner != principal.UserID && !principal.IsAdmin() {
		return appErrors.Clone(appErrors.ErrForbidden, "you are not the owner of this business")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete service")
	}

	s.invalidateCache(ctx, detail.BusinessID)
	s.logger.Info("service deleted", zap.String("service_id", id))
	return nil
}

// ListByBusiness returns a business catalog, serving repeats from cache.
func (s *CatalogService) ListByBusiness(ctx context.Context, businessID string, filter models.ServiceFilter) ([]models.Service, int, error) {
	key := serviceListCacheKey(businessID, filter)
	if s.cache != nil {
		var cached cachedServiceList
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached.Services, cached.Total, nil
		} else if !appErrors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("service list cache read failed", zap.Error(err))
		}
	}

	services, total, err := s.repo.ListByBusiness(ctx, businessID, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list services")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, cachedServiceList{Services: services, Total: total}, s.cacheTTL); err != nil {
			s.logger.Warn("service list cache write failed", zap.Error(err))
		}
	}

	return services, total, nil
}

func (s *CatalogService) invalidateCache(ctx context.Context, businessID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf("services:%s:*", businessID)); err != nil {
		s.logger.Warn("service cache invalidation failed", zap.Error(err))
	}
}

func serviceListCacheKey(businessID string, filter models.ServiceFilter) string {
	return fmt.Sprintf("services:%s:%v:%v:%v:%d:%d",
		businessID,
		ptrOrAny(filter.MinPrice),
		ptrOrAny(filter.MaxPrice),
		ptrOrAny(filter.MaxDuration),
		filter.Page,
		filter.PageSize,
	)
}

func ptrOrAny[T any](v *T) interface{} {
	if v == nil {
		return "any"
	}
	return *v
}
