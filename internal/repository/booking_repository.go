package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/reservapp/reserva-api/internal/models"
)

// ErrBookingOverlap is returned when a conditional write finds the window
// already taken by an active booking.
var ErrBookingOverlap = errors.New("booking window overlaps an active booking")

const bookingDetailColumns = `bk.id, bk.user_id, bk.service_id, bk.start_time, bk.end_time, bk.status, bk.notes, bk.created_at, bk.updated_at,
	s.name AS service_name, b.id AS business_id, b.name AS business_name, b.owner_id AS business_owner`

const bookingDetailJoins = `FROM bookings bk
	JOIN services s ON s.id = bk.service_id
	JOIN businesses b ON b.id = s.business_id`

// BookingRepository provides database access for bookings. The no-overlap
// invariant for active bookings is enforced here: writers on the same
// service are serialised with a transaction-scoped advisory lock, and the
// write itself re-checks overlap, so two racing requests for the same
// window cannot both commit. Under READ COMMITTED the NOT EXISTS check
// alone would not see a concurrent uncommitted insert; the lock makes the
// second writer wait until the first has committed.
type BookingRepository struct {
	db *sqlx.DB
}

const advisoryLockQuery = `SELECT pg_advisory_xact_lock(hashtext($1))`

// NewBookingRepository creates a new instance of BookingRepository.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// FindByID returns a booking joined with its service and owning business.
func (r *BookingRepository) FindByID(ctx context.Context, id string) (*models.BookingDetail, error) {
	query := fmt.Sprintf("SELECT %s %s WHERE bk.id = $1 LIMIT 1", bookingDetailColumns, bookingDetailJoins)
	var detail models.BookingDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find booking by id: %w", err)
	}
	return &detail, nil
}

// FindActiveByService returns PENDING/CONFIRMED bookings for a service,
// optionally excluding one booking id (a reschedule re-check).
func (r *BookingRepository) FindActiveByService(ctx context.Context, serviceID, excludeID string) ([]models.Booking, error) {
	query := `SELECT id, user_id, service_id, start_time, end_time, status, notes, created_at, updated_at
		FROM bookings WHERE service_id = $1 AND status IN ('PENDING', 'CONFIRMED')`
	args := []interface{}{serviceID}
	if excludeID != "" {
		query += " AND id <> $2"
		args = append(args, excludeID)
	}
	query += " ORDER BY start_time ASC"

	var bookings []models.Booking
	if err := r.db.SelectContext(ctx, &bookings, query, args...); err != nil {
		return nil, fmt.Errorf("find active bookings: %w", err)
	}
	return bookings, nil
}

// Create inserts a booking only if no active booking on the same service
// overlaps its [start, end) window. Returns ErrBookingOverlap when the
// insert is suppressed by a concurrent or existing reservation.
func (r *BookingRepository) Create(ctx context.Context, booking *models.Booking) error {
	if booking.ID == "" {
		booking.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create booking tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, advisoryLockQuery, booking.ServiceID); err != nil {
		return fmt.Errorf("create booking lock: %w", err)
	}

	const query = `INSERT INTO bookings (id, user_id, service_id, start_time, end_time, status, notes, created_at, updated_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		WHERE NOT EXISTS (
			SELECT 1 FROM bookings
			WHERE service_id = $3 AND status IN ('PENDING', 'CONFIRMED')
			AND start_time < $5 AND end_time > $4
		)`
	res, err := tx.ExecContext(ctx, query,
		booking.ID, booking.UserID, booking.ServiceID,
		booking.StartTime, booking.EndTime, booking.Status, booking.Notes,
		booking.CreatedAt, booking.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create booking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrBookingOverlap
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create booking tx: %w", err)
	}
	return nil
}

// UpdateWindow moves a booking to a new window under the same per-service
// lock and overlap guard, excluding the booking's own row from the check.
func (r *BookingRepository) UpdateWindow(ctx context.Context, id, serviceID string, start, end time.Time, notes string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update booking window tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, advisoryLockQuery, serviceID); err != nil {
		return fmt.Errorf("update booking window lock: %w", err)
	}

	const query = `UPDATE bookings SET start_time = $2, end_time = $3, notes = $4, updated_at = $5
		WHERE id = $1 AND NOT EXISTS (
			SELECT 1 FROM bookings other
			WHERE other.service_id = bookings.service_id AND other.id <> bookings.id
			AND other.status IN ('PENDING', 'CONFIRMED')
			AND other.start_time < $3 AND other.end_time > $2
		)`
	res, err := tx.ExecContext(ctx, query, id, start, end, notes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update booking window: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update booking window rows affected: %w", err)
	}
	if rows == 0 {
		return ErrBookingOverlap
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update booking window tx: %w", err)
	}
	return nil
}

// UpdateStatus persists a lifecycle transition.
func (r *BookingRepository) UpdateStatus(ctx context.Context, id string, status models.BookingStatus) error {
	const query = `UPDATE bookings SET status = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	return nil
}

// List returns bookings matching the filter with total count.
func (r *BookingRepository) List(ctx context.Context, filter models.BookingFilter) ([]models.BookingDetail, int, error) {
	return r.list(ctx, "", nil, filter)
}

// ListByUser returns one user's bookings with total count.
func (r *BookingRepository) ListByUser(ctx context.Context, userID string, filter models.BookingFilter) ([]models.BookingDetail, int, error) {
	return r.list(ctx, "bk.user_id", userID, filter)
}

// ListByBusiness returns all bookings across a business's services.
func (r *BookingRepository) ListByBusiness(ctx context.Context, businessID string, filter models.BookingFilter) ([]models.BookingDetail, int, error) {
	return r.list(ctx, "b.id", businessID, filter)
}

func (r *BookingRepository) list(ctx context.Context, scopeColumn string, scopeValue interface{}, filter models.BookingFilter) ([]models.BookingDetail, int, error) {
	baseQuery := bookingDetailJoins + " WHERE 1=1"
	var conditions []string
	var args []interface{}

	if scopeColumn != "" {
		conditions = append(conditions, fmt.Sprintf("%s = $%d", scopeColumn, len(args)+1))
		args = append(args, scopeValue)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("bk.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.StartDate != nil {
		conditions = append(conditions, fmt.Sprintf("bk.start_time >= $%d", len(args)+1))
		args = append(args, *filter.StartDate)
	}
	if filter.EndDate != nil {
		conditions = append(conditions, fmt.Sprintf("bk.start_time <= $%d", len(args)+1))
		args = append(args, *filter.EndDate)
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

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY bk.start_time ASC LIMIT %d OFFSET %d", bookingDetailColumns, baseQuery, pageSize, offset)

	var bookings []models.BookingDetail
	if err := r.db.SelectContext(ctx, &bookings, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list bookings: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count bookings: %w", err)
	}

	return bookings, total, nil
}
