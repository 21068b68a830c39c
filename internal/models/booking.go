package models

import "time"

// BookingStatus enumerates the booking lifecycle states.
type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCancelled BookingStatus = "CANCELLED"
	BookingCompleted BookingStatus = "COMPLETED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s BookingStatus) IsTerminal() bool {
	return s == BookingCancelled || s == BookingCompleted
}

// IsActive reports whether the booking holds its time slot.
func (s BookingStatus) IsActive() bool {
	return s == BookingPending || s == BookingConfirmed
}

// Booking represents a reservation of a service for a time window.
// End time is always derived from the service duration; bookings are
// never deleted, cancellation is a status change.
type Booking struct {
	ID        string        `db:"id" json:"id"`
	UserID    string        `db:"user_id" json:"user_id"`
	ServiceID string        `db:"service_id" json:"service_id"`
	StartTime time.Time     `db:"start_time" json:"start_time"`
	EndTime   time.Time     `db:"end_time" json:"end_time"`
	Status    BookingStatus `db:"status" json:"status"`
	Notes     string        `db:"notes" json:"notes"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// BookingDetail joins a booking with its service and owning business.
type BookingDetail struct {
	Booking
	ServiceName   string `db:"service_name" json:"service_name"`
	BusinessID    string `db:"business_id" json:"business_id"`
	BusinessName  string `db:"business_name" json:"business_name"`
	BusinessOwner string `db:"business_owner" json:"-"`
}

// CreateBookingRequest is the payload for requesting a reservation.
type CreateBookingRequest struct {
	ServiceID string    `json:"service_id" validate:"required,uuid4"`
	StartTime time.Time `json:"start_time" validate:"required"`
	Notes     string    `json:"notes" validate:"omitempty,max=500"`
}

// RescheduleBookingRequest moves a pending booking to a new window.
type RescheduleBookingRequest struct {
	StartTime *time.Time `json:"start_time"`
	Notes     *string    `json:"notes" validate:"omitempty,max=500"`
}

// ChangeStatusRequest drives a lifecycle transition.
type ChangeStatusRequest struct {
	Status BookingStatus `json:"status" validate:"required,oneof=CONFIRMED CANCELLED COMPLETED"`
}

// BookingFilter captures listing criteria.
type BookingFilter struct {
	Status    *BookingStatus
	StartDate *time.Time
	EndDate   *time.Time
	Page      int
	PageSize  int
}
