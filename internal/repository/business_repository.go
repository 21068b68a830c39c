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

// BusinessRepository provides database access for businesses.
type BusinessRepository struct {
	db *sqlx.DB
}

// NewBusinessRepository creates a new instance of BusinessRepository.
func NewBusinessRepository(db *sqlx.DB) *BusinessRepository {
	return &BusinessRepository{db: db}
}

// FindByID returns a business by identifier.
func (r *BusinessRepository) FindByID(ctx context.Context, id string) (*models.Business, error) {
	const query = `SELECT id, owner_id, name, address, phone, is_active, created_at, updated_at FROM businesses WHERE id = $1 LIMIT 1`
	var business models.Business
	if err := r.db.GetContext(ctx, &business, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find business by id: %w", err)
	}
	return &business, nil
}

// Create inserts a new business.
func (r *BusinessRepository) Create(ctx context.Context, business *models.Business) error {
	if business.ID == "" {
		business.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if business.CreatedAt.IsZero() {
		business.CreatedAt = now
	}
	business.UpdatedAt = now

	const query = `INSERT INTO businesses (id, owner_id, name, address, phone, is_active, created_at, updated_at) VALUES (:id, :owner_id, :name, :address, :phone, :is_active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, business); err != nil {
		return fmt.Errorf("create business: %w", err)
	}
	return nil
}

// Update updates mutable business fields.
func (r *BusinessRepository) Update(ctx context.Context, business *models.Business) error {
	business.UpdatedAt = time.Now().UTC()
	const query = `UPDATE businesses SET name = :name, address = :address, phone = :phone, is_active = :is_active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, business); err != nil {
		return fmt.Errorf("update business: %w", err)
	}
	return nil
}

// Deactivate marks a business inactive. Existing bookings are untouched.
func (r *BusinessRepository) Deactivate(ctx context.Context, id string) error {
	const query = `UPDATE businesses SET is_active = FALSE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("deactivate business: %w", err)
	}
	return nil
}

// ListByOwner returns a user's active businesses, newest first.
func (r *BusinessRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Business, error) {
	const query = `SELECT id, owner_id, name, address, phone, is_active, created_at, updated_at FROM businesses WHERE owner_id = $1 AND is_active = TRUE ORDER BY created_at DESC`
	var businesses []models.Business
	if err := r.db.SelectContext(ctx, &businesses, query, ownerID); err != nil {
		return nil, fmt.Errorf("list businesses by owner: %w", err)
	}
	return businesses, nil
}

// List returns businesses matching the filter with total count.
func (r *BusinessRepository) List(ctx context.Context, filter models.BusinessFilter) ([]models.Business, int, error) {
	baseQuery := `FROM businesses WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(address) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if filter.Active != nil {
		conditions = append(conditions, fmt.Sprintf("is_active = $%d", len(args)+1))
		args = append(args, *filter.Active)
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

	listQuery := fmt.Sprintf("SELECT id, owner_id, name, address, phone, is_active, created_at, updated_at %s ORDER BY name ASC LIMIT %d OFFSET %d", baseQuery, pageSize, offset)

	var businesses []models.Business
	if err := r.db.SelectContext(ctx, &businesses, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list businesses: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count businesses: %w", err)
	}

	return businesses, total, nil
}
