package models

import "time"

// Service represents a bookable offering of a business. Its duration,
// read at booking-creation time, determines the booking window.
type Service struct {
	ID          string    `db:"id" json:"id"`
	BusinessID  string    `db:"business_id" json:"business_id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	Duration    int       `db:"duration" json:"duration"`
	Price       float64   `db:"price" json:"price"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ServiceDetail joins a service with owner/activity data from its business.
type ServiceDetail struct {
	Service
	BusinessName   string `db:"business_name" json:"business_name"`
	BusinessOwner  string `db:"business_owner" json:"-"`
	BusinessActive bool   `db:"business_active" json:"business_active"`
}

// CreateServiceRequest is the payload for adding a service to a business.
type CreateServiceRequest struct {
	Name        string  `json:"name" validate:"required,min=2,max=120"`
	Description string  `json:"description" validate:"omitempty,max=500"`
	Duration    int     `json:"duration" validate:"required,min=1,max=240"`
	Price       float64 `json:"price" validate:"gte=0"`
}

// UpdateServiceRequest mutates service fields.
type UpdateServiceRequest struct {
	Name        *string  `json:"name" validate:"omitempty,min=2,max=120"`
	Description *string  `json:"description" validate:"omitempty,max=500"`
	Duration    *int     `json:"duration" validate:"omitempty,min=1,max=240"`
	Price       *float64 `json:"price" validate:"omitempty,gte=0"`
}

// ServiceFilter captures filter criteria for a business catalog listing.
type ServiceFilter struct {
	MinPrice    *float64
	MaxPrice    *float64
	MaxDuration *int
	Page        int
	PageSize    int
}
