package models

import (
	"time"

	"github.com/google/uuid"
)

// AnafToken is an OAuth2 credential pair registered for an organization.
// One organization may hold several tokens (one per certificate); each
// token caches the CIFs it was already accepted for.
type AnafToken struct {
	ID             uuid.UUID  `json:"id" db:"id"`
	OrganizationID uuid.UUID  `json:"organization_id" db:"organization_id"`
	Label          string     `json:"label" db:"label"`
	AccessToken    string     `json:"-" db:"access_token"`
	RefreshToken   *string    `json:"-" db:"refresh_token"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	ValidatedCIFs  []int64    `json:"validated_cifs" db:"-"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// HasValidatedCIF reports whether the token was already accepted for cif.
func (t *AnafToken) HasValidatedCIF(cif int64) bool {
	for _, v := range t.ValidatedCIFs {
		if v == cif {
			return true
		}
	}
	return false
}

// AddValidatedCIF records cif in the token's validated set.
func (t *AnafToken) AddValidatedCIF(cif int64) {
	if !t.HasValidatedCIF(cif) {
		t.ValidatedCIFs = append(t.ValidatedCIFs, cif)
	}
}

// RemoveValidatedCIF drops cif from the token's validated set.
func (t *AnafToken) RemoveValidatedCIF(cif int64) {
	out := t.ValidatedCIFs[:0]
	for _, v := range t.ValidatedCIFs {
		if v != cif {
			out = append(out, v)
		}
	}
	t.ValidatedCIFs = out
}
