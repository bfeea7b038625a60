package domain

import (
	"time"

	"github.com/google/uuid"
)

// Client is a message destination owned by a tenant. Phone numbers are stored
// in canonical international form and are unique per tenant, not globally.
type Client struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	Name       string
	Phone      string
	CategoryID *uuid.UUID
	TagIDs     []uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Tag labels clients for recipient filtering.
type Tag struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
}

// Category groups clients; a client belongs to at most one category.
type Category struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Name     string
}
