package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/reservapp/reserva-api/internal/models"
)

// ServiceRepository provides database access for bookable services.
type ServiceRepository struct {
	db *sqlx.DB
}

// NewServiceRepository creates a new instance of ServiceRepository.
func NewServiceRepository(db *sqlx.DB) *ServiceRepository {
	return &ServiceRepository{db: db}
}

// FindByID returns a service joined with owner and activity data from its
// business, which booking creation needs in a single read.
func (r *ServiceRepository) FindByID(ctx context.Context, id string) (*models.ServiceDetail, error) {
	const query = `SELECT s.id, s.business_id, s.name, s.description, s.duration, s.price, s.created_at, s.updated_at,
		b.name AS business_name, b.owner_id AS business_owner, b.is_active AS business_active
		FROM services s
		JOIN businesses b ON b.id = s.business_id
		WHERE s.id = $1 LIMIT 1`
	var detail models.ServiceDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find service by id: %w", err)
	}
	return &detail, nil
}

// Create inserts a new service.
func (r *ServiceRepository) Create(ctx context.Context, service *models.Service) error {
	if service.ID == "" {
		service.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if service.CreatedAt.IsZero() {
		service.CreatedAt = now
	}
	service.UpdatedAt = now

	const query = `INSERT INTO services (id, business_id, name, description, duration, price, created_at, updated_at) VALUES (:id, :business_id, :name, :description, :duration, :price, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, service); err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	return nil
}

// Update updates mutable service fields.
func (r *ServiceRepository) Update(ctx context.Context, service *models.Service) error {
	service.UpdatedAt = time.Now().UTC()
	const query = `UPDATE services SET name = :name, description = :description, duration = :duration, price = :price, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, service); err != nil {
		return fmt.Errorf("update service: %w", err)
	}
	return nil
}

// Delete removes a service from the catalog.
func (r *ServiceRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM services WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete service: %w", err)
	}
	return nil
}

// ListByBusiness returns the catalog of one business with total count.
func (r *ServiceRepository) ListByBusiness(ctx context.Context, businessID string, filter models.ServiceFilter) ([]models.Service, int, error) {
	baseQuery := `FROM services WHERE business_id = $1`
	args := []interface{}{businessID}
	var conditions []string

	if filter.MinPrice != nil {
		conditions = append(conditions, fmt.Sprintf("price >= $%d", len(args)+1))
		args = append(args, *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		conditions = append(conditions, fmt.Sprintf("price <= $%d", len(args)+1))
		args = append(args, *filter.MaxPrice)
	}
	if filter.MaxDuration != nil {
		conditions = append(conditions, fmt.Sprintf("duration <= $%d", len(args)+1))
		args = append(args, *filter.MaxDuration)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT id, business_id, name, description, duration, price, created_at, updated_at %s ORDER BY name ASC LIMIT %d OFFSET %d", baseQuery, pageSize, offset)

	var services []models.Service
	if err := r.db.SelectContext(ctx, &services, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list services: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count services: %w", err)
	}

	return services, total, nil
}
