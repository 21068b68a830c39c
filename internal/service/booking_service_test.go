package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/reservapp/reserva-api/internal/models"
	"github.com/reservapp/reserva-api/internal/repository"
	appErrors "github.com/reservapp/reserva-api/pkg/errors"
)

type mockBookingRepo struct {
	byID          *models.BookingDetail
	findByIDErr   error
	active        []models.Booking
	activeErr     error
	createErr     error
	created       *models.Booking
	updateWindErr error
	updatedStatus models.BookingStatus
	updatedStart  time.Time
	updatedEnd    time.Time
	updatedNotes  string
	excludeSeen   string
}

func (m *mockBookingRepo) FindByID(ctx context.Context, id string) (*models.BookingDetail, error) {
	if m.findByIDErr != nil {
		return nil, m.findByIDErr
	}
	return m.byID, nil
}

func (m *mockBookingRepo) FindActiveByService(ctx context.Context, serviceID, excludeID string) ([]models.Booking, error) {
	m.excludeSeen = excludeID
	if m.activeErr != nil {
		return nil, m.activeErr
	}
	out := make([]models.Booking, 0, len(m.active))
	for _, b := range m.active {
		if excludeID != "" && b.ID == excludeID {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (m *mockBookingRepo) Create(ctx context.Context, booking *models.Booking) error {
	if m.createErr != nil {
		return m.createErr
	}
	booking.ID = "booking-1"
	m.created = booking
	return nil
}

func (m *mockBookingRepo) UpdateWindow(ctx context.Context, id, serviceID string, start, end time.Time, notes string) error {
	if m.updateWindErr != nil {
		return m.updateWindErr
	}
	m.updatedStart = start
	m.updatedEnd = end
	m.updatedNotes = notes
	return nil
}

func (m *mockBookingRepo) UpdateStatus(ctx context.Context, id string, status models.BookingStatus) error {
	m.updatedStatus = status
	return nil
}

func (m *mockBookingRepo) List(ctx context.Context, filter models.BookingFilter) ([]models.BookingDetail, int, error) {
	return nil, 0, nil
}

func (m *mockBookingRepo) ListByUser(ctx context.Context, userID string, filter models.BookingFilter) ([]models.BookingDetail, int, error) {
	return nil, 0, nil
}

func (m *mockBookingRepo) ListByBusiness(ctx context.Context, businessID string, filter models.BookingFilter) ([]models.BookingDetail, int, error) {
	return nil, 0, nil
}

type mockCatalog struct {
	detail *models.ServiceDetail
	err    error
}

func (m *mockCatalog) FindByID(ctx context.Context, id string) (*models.ServiceDetail, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.detail, nil
}

type mockBusinessLookup struct {
	business *models.Business
	err      error
}

func (m *mockBusinessLookup) FindByID(ctx context.Context, id string) (*models.Business, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.business, nil
}

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
}

func newBookingServiceForTest(repo *mockBookingRepo, catalog *mockCatalog, businesses *mockBusinessLookup) *BookingService {
	svc := NewBookingService(repo, catalog, businesses, nil, zap.NewNop())
	svc.now = fixedNow
	return svc
}

func serviceDetailFixture() *models.ServiceDetail {
	return &models.ServiceDetail{
		Service: models.Service{
			ID:         "11111111-1111-4111-8111-111111111111",
			BusinessID: "biz-1",
			Name:       "Haircut",
			Duration:   60,
			Price:      30,
		},
		BusinessName:   "Sharp Cuts",
		BusinessOwner:  "owner-1",
		BusinessActive: true,
	}
}

func bookingDetailFixture(status models.BookingStatus) *models.BookingDetail {
	start := fixedNow().Add(24 * time.Hour)
	return &models.BookingDetail{
		Booking: models.Booking{
			ID:        "booking-1",
			UserID:    "client-1",
			ServiceID: "11111111-1111-4111-8111-111111111111",
			StartTime: start,
			EndTime:   start.Add(time.Hour),
			Status:    status,
			Notes:     "first visit",
		},
		ServiceName:   "Haircut",
		BusinessID:    "biz-1",
		BusinessName:  "Sharp Cuts",
		BusinessOwner: "owner-1",
	}
}

func TestOverlaps(t *testing.T) {
	base := fixedNow()
	cases := []struct {
		name     string
		s1, e1   time.Time
		s2, e2   time.Time
		expected bool
	}{
		{"identical", base, base.Add(time.Hour), base, base.Add(time.Hour), true},
		{"partial", base, base.Add(time.Hour), base.Add(30 * time.Minute), base.Add(90 * time.Minute), true},
		{"contained", base, base.Add(2 * time.Hour), base.Add(30 * time.Minute), base.Add(time.Hour), true},
		{"touching end to start", base, base.Add(time.Hour), base.Add(time.Hour), base.Add(2 * time.Hour), false},
		{"touching start to end", base.Add(time.Hour), base.Add(2 * time.Hour), base, base.Add(time.Hour), false},
		{"disjoint", base, base.Add(time.Hour), base.Add(3 * time.Hour), base.Add(4 * time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, overlaps(tc.s1, tc.e1, tc.s2, tc.e2))
		})
	}
}

func TestCheckAvailabilityBoundaryTouchIsFree(t *testing.T) {
	existingStart := fixedNow().Add(24 * time.Hour)
	repo := &mockBookingRepo{active: []models.Booking{{
		ID:        "existing",
		StartTime: existingStart,
		EndTime:   existingStart.Add(time.Hour),
		Status:    models.BookingConfirmed,
	}}}
	svc := newBookingServiceForTest(repo, &mockCatalog{}, &mockBusinessLookup{})

	err := svc.CheckAvailability(context.Background(), "svc-1", existingStart.Add(time.Hour), existingStart.Add(2*time.Hour), "")
	assert.NoError(t, err)
}

func TestCheckAvailabilityConflict(t *testing.T) {
	existingStart := fixedNow().Add(24 * time.Hour)
	repo := &mockBookingRepo{active: []models.Booking{{
		ID:        "existing",
		StartTime: existingStart,
		EndTime:   existingStart.Add(time.Hour),
		Status:    models.BookingPending,
	}}}
	svc := newBookingServiceForTest(repo, &mockCatalog{}, &mockBusinessLookup{})

	err := svc.CheckAvailability(context.Background(), "svc-1", existingStart.Add(30*time.Minute), existingStart.Add(90*time.Minute), "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrSlotConflict))
}

func TestCheckAvailabilityPastWindow(t *testing.T) {
	svc := newBookingServiceForTest(&mockBookingRepo{}, &mockCatalog{}, &mockBusinessLookup{})

	start := fixedNow().Add(-time.Hour)
	err := svc.CheckAvailability(context.Background(), "svc-1", start, start.Add(time.Hour), "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidWindow))
}

func TestCreateBookingDerivesEndFromDuration(t *testing.T) {
	repo := &mockBookingRepo{byID: bookingDetailFixture(models.BookingPending)}
	catalog := &mockCatalog{detail: serviceDetailFixture()}
	svc := newBookingServiceForTest(repo, catalog, &mockBusinessLookup{})

	start := fixedNow().Add(24 * time.Hour)
	_, err := svc.Create(context.Background(), models.Principal{UserID: "client-1", Role: models.RoleClient}, models.CreateBookingRequest{
		ServiceID: catalog.detail.ID,
		StartTime: start,
	})
	require.NoError(t, err)
	require.NotNil(t, repo.created)
	assert.Equal(t, start, repo.created.StartTime)
	assert.Equal(t, start.Add(time.Hour), repo.created.EndTime)
	assert.Equal(t, models.BookingPending, repo.created.Status)
	assert.Equal(t, "client-1", repo.created.UserID)
}

func TestCreateBookingInactiveBusiness(t *testing.T) {
	detail := serviceDetailFixture()
	detail.BusinessActive = false
	svc := newBookingServiceForTest(&mockBookingRepo{}, &mockCatalog{detail: detail}, &mockBusinessLookup{})

	_, err := svc.Create(context.Background(), models.Principal{UserID: "client-1", Role: models.RoleClient}, models.CreateBookingRequest{
		ServiceID: detail.ID,
		StartTime: fixedNow().Add(24 * time.Hour),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrBusinessInactive))
}

func TestCreateBookingServiceNotFound(t *testing.T) {
	svc := newBookingServiceForTest(&mockBookingRepo{}, &mockCatalog{err: sql.ErrNoRows}, &mockBusinessLookup{})

	_, err := svc.Create(context.Background(), models.Principal{UserID: "client-1", Role: models.RoleClient}, models.CreateBookingRequest{
		ServiceID: "11111111-1111-4111-8111-111111111111",
		StartTime: fixedNow().Add(24 * time.Hour),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestCreateBookingRaceMapsToConflict(t *testing.T) {
	repo := &mockBookingRepo{createErr: repository.ErrBookingOverlap}
	svc := newBookingServiceForTest(repo, &mockCatalog{detail: serviceDetailFixture()}, &mockBusinessLookup{})

	_, err := svc.Create(context.Background(), models.Principal{UserID: "client-1", Role: models.RoleClient}, models.CreateBookingRequest{
		ServiceID: "11111111-1111-4111-8111-111111111111",
		StartTime: fixedNow().Add(24 * time.Hour),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrSlotConflict))
}

func TestGetByIDForbiddenForStranger(t *testing.T) {
	repo := &mockBookingRepo{byID: bookingDetailFixture(models.BookingPending)}
	svc := newBookingServiceForTest(repo, &mockCatalog{}, &mockBusinessLookup{})

	_, err := svc.GetByID(context.Background(), models.Principal{UserID: "stranger", Role: models.RoleClient}, "booking-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestChangeStatusTransitionTable(t *testing.T) {
	owner := models.Principal{UserID: "owner-1", Role: models.RoleOwner}
	cases := []struct {
		from    models.BookingStatus
		to      models.BookingStatus
		allowed bool
	}{
		{models.BookingPending, models.BookingConfirmed, true},
		{models.BookingPending, models.BookingCancelled, true},
		{models.BookingPending, models.BookingCompleted, false},
		{models.BookingConfirmed, models.BookingCompleted, true},
		{models.BookingConfirmed, models.BookingCancelled, true},
		{models.BookingConfirmed, models.BookingPending, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			repo := &mockBookingRepo{byID: bookingDetailFixture(tc.from)}
			svc := newBookingServiceForTest(repo, &mockCatalog{}, &mockBusinessLookup{})

			_, err := svc.ChangeStatus(context.Background(), owner, "booking-1", tc.to)
			if tc.allowed {
				require.NoError(t, err)
				assert.Equal(t, tc.to, repo.updatedStatus)
			} else {
				require.Error(t, err)
				assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
			}
		})
	}
}

func TestChangeStatusTerminalState(t *testing.T) {
	for _, status := range []models.BookingStatus{models.BookingCancelled, models.BookingCompleted} {
		repo := &mockBookingRepo{byID: bookingDetailFixture(status)}
		svc := newBookingServiceForTest(repo, &mockCatalog{}, &mockBusinessLookup{})

		_, err := svc.ChangeStatus(context.Background(), models.Principal{UserID: "owner-1", Role: models.RoleOwner}, "booking-1", models.BookingConfirmed)
		require.Error(t, err)
		assert.True(t, appErrors.Is(err, appErrors.ErrTerminalState))
	}
}

func TestChangeStatusAuthorizationBeforeValidity(t *testing.T) {
	// An unauthorized actor driving an invalid transition must see
	// forbidden, not the transition error.
	repo := &mockBookingRepo{byID: bookingDetailFixture(models.BookingCompleted)}
	svc := newBookingServiceForTest(repo, &mockCatalog{}, &mockBusinessLookup{})

	_, err := svc.ChangeStatus(context.Background(), models.Principal{UserID: "stranger", Role: models.RoleClient}, "booking-1", models.BookingConfirmed)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestClientCannotConfirmOwnBooking(t *testing.T) {
	repo := &mockBookingRepo{byID: bookingDetailFixture(models.BookingPending)}
	svc := newBookingServiceForTest(repo, &mockCatalog{}, &mockBusinessLookup{})

	_, err := svc.ChangeStatus(context.Background(), models.Principal{UserID: "client-1", Role: models.RoleClient}, "booking-1", models.BookingConfirmed)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestClientCanCancelOwnBooking(t *testing.T) {
	repo := &mockBookingRepo{byID: bookingDetailFixture(models.BookingPending)}
	svc := newBookingServiceForTest(repo, &mockCatalog{}, &mockBusinessLookup{})

	_, err := svc.Cancel(context.Background(), models.Principal{UserID: "client-1", Role: models.RoleClient}, "booking-1")
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, repo.updatedStatus)
}

func TestAdminCanDriveAnyAllowedTransition(t *testing.T) {
	repo := &mockBookingRepo{byID: bookingDetailFixture(models.BookingConfirmed)}
	svc := newBookingServiceForTest(repo, &mockCatalog{}, &mockBusinessLookup{})

	_, err := svc.ChangeStatus(context.Background(), models.Principal{UserID: "admin-1", Role: models.RoleAdmin}, "booking-1", models.BookingCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, repo.updatedStatus)
}

func TestRescheduleExcludesOwnWindow(t *testing.T) {
	detail := bookingDetailFixture(models.BookingPending)
	repo := &mockBookingRepo{
		byID: detail,
		active: []models.Booking{{
			ID:        detail.ID,
			StartTime: detail.StartTime,
			EndTime:   detail.EndTime,
			Status:    models.BookingPending,
		}},
	}
	svc := newBookingServiceForTest(repo, &mockCatalog{detail: serviceDetailFixture()}, &mockBusinessLookup{})

	// Shifting by 30 minutes overlaps the booking's own current window,
	// which must not count against it.
	newStart := detail.StartTime.Add(30 * time.Minute)
	_, err := svc.Reschedule(context.Background(), models.Principal{UserID: "client-1", Role: models.RoleClient}, detail.ID, models.RescheduleBookingRequest{
		StartTime: &newStart,
	})
	require.NoError(t, err)
	assert.Equal(t, detail.ID, repo.excludeSeen)
	assert.Equal(t, newStart, repo.updatedStart)
	assert.Equal(t, newStart.Add(time.Hour), repo.updatedEnd)
}

func TestRescheduleOnlyOwner(t *testing.T) {
	repo := &mockBookingRepo{byID: bookingDetailFixture(models.BookingPending)}
	svc := newBookingServiceForTest(repo, &mockCatalog{detail: serviceDetailFixture()}, &mockBusinessLookup{})

	newStart := fixedNow().Add(48 * time.Hour)
	_, err := svc.Reschedule(context.Background(), models.Principal{UserID: "owner-1", Role: models.RoleOwner}, "booking-1", models.RescheduleBookingRequest{
		StartTime: &newStart,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestRescheduleOnlyPending(t *testing.T) {
	repo := &mockBookingRepo{byID: bookingDetailFixture(models.BookingConfirmed)}
	svc := newBookingServiceForTest(repo, &mockCatalog{detail: serviceDetailFixture()}, &mockBusinessLookup{})

	newStart := fixedNow().Add(48 * time.Hour)
	_, err := svc.Reschedule(context.Background(), models.Principal{UserID: "client-1", Role: models.RoleClient}, "booking-1", models.RescheduleBookingRequest{
		StartTime: &newStart,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestRescheduleNotesOnlyKeepsWindow(t *testing.T) {
	detail := bookingDetailFixture(models.BookingPending)
	repo := &mockBookingRepo{byID: detail}
	svc := newBookingServiceForTest(repo, &mockCatalog{detail: serviceDetailFixture()}, &mockBusinessLookup{})

	notes := "bring own towel"
	_, err := svc.Reschedule(context.Background(), models.Principal{UserID: "client-1", Role: models.RoleClient}, detail.ID, models.RescheduleBookingRequest{
		Notes: &notes,
	})
	require.NoError(t, err)
	assert.Equal(t, detail.StartTime, repo.updatedStart)
	assert.Equal(t, detail.EndTime, repo.updatedEnd)
	assert.Equal(t, notes, repo.updatedNotes)
}

func TestRescheduleNotesOnlySurfacesOverlap(t *testing.T) {
	detail := bookingDetailFixture(models.BookingPending)
	repo := &mockBookingRepo{byID: detail, updateWindErr: repository.ErrBookingOverlap}
	svc := newBookingServiceForTest(repo, &mockCatalog{detail: serviceDetailFixture()}, &mockBusinessLookup{})

	notes := "bring own towel"
	_, err := svc.Reschedule(context.Background(), models.Principal{UserID: "client-1", Role: models.RoleClient}, detail.ID, models.RescheduleBookingRequest{
		Notes: &notes,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrSlotConflict))
}

func TestListForBusinessForbidden(t *testing.T) {
	lookup := &mockBusinessLookup{business: &models.Business{ID: "biz-1", OwnerID: "owner-1"}}
	svc := newBookingServiceForTest(&mockBookingRepo{}, &mockCatalog{}, lookup)

	_, _, err := svc.ListForBusiness(context.Background(), models.Principal{UserID: "other-owner", Role: models.RoleOwner}, "biz-1", models.BookingFilter{})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}
