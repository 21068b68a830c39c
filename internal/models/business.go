package models

import "time"

// Business represents a bookable establishment owned by a user.
type Business struct {
	ID        string    `db:"id" json:"id"`
	OwnerID   string    `db:"owner_id" json:"owner_id"`
	Name      string    `db:"name" json:"name"`
	Address   string    `db:"address" json:"address"`
	Phone     string    `db:"phone" json:"phone"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// CreateBusinessRequest is the payload for registering a business.
type CreateBusinessRequest struct {
	Name    string `json:"name" validate:"required,min=2,max=120"`
	Address string `json:"address" validate:"required,max=255"`
	Phone   string `json:"phone" validate:"omitempty,max=32"`
}

// UpdateBusinessRequest mutates business profile fields.
type UpdateBusinessRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=2,max=120"`
	Address  *string `json:"address" validate:"omitempty,max=255"`
	Phone    *string `json:"phone" validate:"omitempty,max=32"`
	IsActive *bool   `json:"is_active"`
}

// BusinessFilter captures search criteria for listing businesses.
type BusinessFilter struct {
	Search   string
	Active   *bool
	Page     int
	PageSize int
}
