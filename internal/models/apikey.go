package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey authenticates an organization's API traffic.
type APIKey struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	OrganizationID  uuid.UUID  `json:"organization_id" db:"organization_id"`
	Name            string     `json:"name" db:"name"`
	KeyHash         string     `json:"-" db:"key_hash"`
	IsActive        bool       `json:"is_active" db:"is_active"`
	RateLimitPerMin int        `json:"rate_limit_per_min" db:"rate_limit_per_min"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}
