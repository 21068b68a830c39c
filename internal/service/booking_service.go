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
	"github.com/reservapp/reserva-api/internal/repository"
	appErrors "github.com/reservapp/reserva-api/pkg/errors"
)

type bookingRepository interface {
	FindByID(ctx context.Context, id string) (*models.BookingDetail, error)
	FindActiveByService(ctx context.Context, serviceID, excludeID string) ([]models.Booking, error)
	Create(ctx context.Context, booking *models.Booking) error
	UpdateWindow(ctx context.Context, id, serviceID string, start, end time.Time, notes string) error
	UpdateStatus(ctx context.Context, id string, status models.BookingStatus) error
	List(ctx context.Context, filter models.BookingFilter) ([]models.BookingDetail, int, error)
	ListByUser(ctx context.Context, userID string, filter models.BookingFilter) ([]models.BookingDetail, int, error)
	ListByBusiness(ctx context.Context, businessID string, filter models.BookingFilter) ([]models.BookingDetail, int, error)
}

type bookingCatalog interface {
	FindByID(ctx context.Context, id string) (*models.ServiceDetail, error)
}

type bookingBusinessLookup interface {
	FindByID(ctx context.Context, id string) (*models.Business, error)
}

// BookingService implements slot availability checking and the booking
// lifecycle state machine.
type BookingService struct {
	repo       bookingRepository
	catalog    bookingCatalog
	businesses bookingBusinessLookup
	validator  *validator.Validate
	logger     *zap.Logger
	now        func() time.Time
}

// NewBookingService constructs a BookingService instance.
func NewBookingService(repo bookingRepository, catalog bookingCatalog, businesses bookingBusinessLookup, validate *validator.Validate, logger *zap.Logger) *BookingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &BookingService{
		repo:       repo,
		catalog:    catalog,
		businesses: businesses,
		validator:  validate,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// overlaps reports whether the half-open windows [s1, e1) and [s2, e2)
// intersect. Touching boundaries do not overlap.
func overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// CheckAvailability verifies that [start, end) is free for the service.
// excludeBookingID skips one booking from the check, used when a booking
// is being rescheduled against its own window.
func (s *BookingService) CheckAvailability(ctx context.Context, serviceID string, start, end time.Time, excludeBookingID string) error {
	if start.Before(s.now()) {
		return appErrors.ErrInvalidWindow
	}

	active, err := s.repo.FindActiveByService(ctx, serviceID, excludeBookingID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing bookings")
	}

	for i := range active {
		if overlaps(active[i].StartTime, active[i].EndTime, start, end) {
			return appErrors.Clone(appErrors.ErrSlotConflict, fmt.Sprintf(
				"time slot conflicts with an existing booking (%s to %s)",
				active[i].StartTime.Format(time.RFC3339),
				active[i].EndTime.Format(time.RFC3339),
			))
		}
	}
	return nil
}

// Create places a new PENDING reservation for the requesting user. The
// end time is derived from the service duration. The repository insert
// re-checks overlap atomically, so two racing requests for the same
// window cannot both succeed.
func (s *BookingService) Create(ctx context.Context, principal models.Principal, req models.CreateBookingRequest) (*models.BookingDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}

	svc, err := s.catalog.FindByID(ctx, req.ServiceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "service not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load service")
	}

	if !svc.BusinessActive {
		return nil, appErrors.ErrBusinessInactive
	}

	start := req.StartTime.UTC()
	end := start.Add(time.Duration(svc.Duration) * time.Minute)

	if err := s.CheckAvailability(ctx, svc.ID, start, end, ""); err != nil {
		return nil, err
	}

	booking := &models.Booking{
		UserID:    principal.UserID,
		ServiceID: svc.ID,
		StartTime: start,
		EndTime:   end,
		Status:    models.BookingPending,
		Notes:     req.Notes,
	}

	if err := s.repo.Create(ctx, booking); err != nil {
		if errors.Is(err, repository.ErrBookingOverlap) {
			return nil, appErrors.ErrSlotConflict
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create booking")
	}

	s.logger.Info("booking created",
		zap.String("booking_id", booking.ID),
		zap.String("service_id", svc.ID),
		zap.Time("start", start),
		zap.Time("end", end),
	)

	return s.repo.FindByID(ctx, booking.ID)
}

// GetByID returns one booking for its owner, the business owner or admin.
func (s *BookingService) GetByID(ctx context.Context, principal models.Principal, id string) (*models.BookingDetail, error) {
	booking, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.UserID != principal.UserID && booking.BusinessOwner != principal.UserID && !principal.IsAdmin() {
		return nil, appErrors.ErrForbidden
	}
	return booking, nil
}

// List returns bookings matching the filter. Exposed to admins only.
func (s *BookingService) List(ctx context.Context, filter models.BookingFilter) ([]models.BookingDetail, int, error) {
	bookings, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bookings")
	}
	return bookings, total, nil
}

// ListMine returns the requesting user's bookings.
func (s *BookingService) ListMine(ctx context.Context, principal models.Principal, filter models.BookingFilter) ([]models.BookingDetail, int, error) {
	bookings, total, err := s.repo.ListByUser(ctx, principal.UserID, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bookings")
	}
	return bookings, total, nil
}

// ListForBusiness returns all bookings across a business's services,
// restricted to its owner or admin.
func (s *BookingService) ListForBusiness(ctx context.Context, principal models.Principal, businessID string, filter models.BookingFilter) ([]models.BookingDetail, int, error) {
	business, err := s.businesses.FindByID(ctx, businessID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, appErrors.Clone(appErrors.ErrNotFound, "business not found")
		}
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load business")
	}
	if business.OwnerID != principal.UserID && !principal.IsAdmin() {
		return nil, 0, appErrors.Clone(appErrors.ErrForbidden, "you are not the owner of this business")
	}

	bookings, total, err := s.repo.ListByBusiness(ctx, businessID, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list bookings")
	}
	return bookings, total, nil
}

// ChangeStatus drives a lifecycle transition. Authorization is checked
// before transition validity: an unauthorized actor gets forbidden even
// for a transition that would otherwise be legal.
func (s *BookingService) ChangeStatus(ctx context.Context, principal models.Principal, id string, newStatus models.BookingStatus) (*models.BookingDetail, error) {
	booking, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if !s.mayTransition(principal, booking, newStatus) {
		return nil, appErrors.ErrForbidden
	}

	if booking.Status.IsTerminal() {
		return nil, appErrors.Clone(appErrors.ErrTerminalState, fmt.Sprintf("cannot change status from %s", booking.Status))
	}

	if !transitionAllowed(booking.Status, newStatus) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("invalid status transition from %s to %s", booking.Status, newStatus))
	}

	if err := s.repo.UpdateStatus(ctx, id, newStatus); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update booking status")
	}

	s.logger.Info("booking status changed",
		zap.String("booking_id", id),
		zap.String("from", string(booking.Status)),
		zap.String("to", string(newStatus)),
	)

	return s.repo.FindByID(ctx, id)
}

// Cancel is the CANCELLED transition under the same lifecycle rules.
func (s *BookingService) Cancel(ctx context.Context, principal models.Principal, id string) (*models.BookingDetail, error) {
	return s.ChangeStatus(ctx, principal, id, models.BookingCancelled)
}

// Reschedule moves a PENDING booking owned by the requester to a new
// window, re-deriving the end time from the service duration and
// re-checking availability against everything but the booking itself.
func (s *BookingService) Reschedule(ctx context.Context, principal models.Principal, id string, req models.RescheduleBookingRequest) (*models.BookingDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reschedule payload")
	}

	booking, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if booking.UserID != principal.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the booking owner can reschedule")
	}
	if booking.Status != models.BookingPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only PENDING bookings can be rescheduled")
	}

	notes := booking.Notes
	if req.Notes != nil {
		notes = *req.Notes
	}

	if req.StartTime == nil {
		// Notes-only update keeps the existing window.
		if err := s.repo.UpdateWindow(ctx, id, booking.ServiceID, booking.StartTime, booking.EndTime, notes); err != nil {
			if errors.Is(err, repository.ErrBookingOverlap) {
				return nil, appErrors.ErrSlotConflict
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update booking")
		}
		return s.repo.FindByID(ctx, id)
	}

	svc, err := s.catalog.FindByID(ctx, booking.ServiceID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load service")
	}

	start := req.StartTime.UTC()
	end := start.Add(time.Duration(svc.Duration) * time.Minute)

	if err := s.CheckAvailability(ctx, booking.ServiceID, start, end, id); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateWindow(ctx, id, booking.ServiceID, start, end, notes); err != nil {
		if errors.Is(err, repository.ErrBookingOverlap) {
			return nil, appErrors.ErrSlotConflict
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reschedule booking")
	}

	s.logger.Info("booking rescheduled",
		zap.String("booking_id", id),
		zap.Time("start", start),
		zap.Time("end", end),
	)

	return s.repo.FindByID(ctx, id)
}

func (s *BookingService) load(ctx context.Context, id string) (*models.BookingDetail, error) {
	booking, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking")
	}
	return booking, nil
}

// mayTransition applies the actor rules of the state machine: cancelling
// is open to the booking owner, the business owner and admin; every other
// transition is reserved to the business owner and admin.
func (s *BookingService) mayTransition(principal models.Principal, booking *models.BookingDetail, newStatus models.BookingStatus) bool {
	if principal.IsAdmin() || booking.BusinessOwner == principal.UserID {
		return true
	}
	if newStatus == models.BookingCancelled {
		return booking.UserID == principal.UserID
	}
	return false
}

func transitionAllowed(from, to models.BookingStatus) bool {
	switch from {
	case models.BookingPending:
		return to == models.BookingConfirmed || to == models.BookingCancelled
	case models.BookingConfirmed:
		return to == models.BookingCompleted || to == models.BookingCancelled
	default:
		return false
	}
}
