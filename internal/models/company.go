package models

import (
	"time"

	"github.com/google/uuid"
)

// Company is the tenant owning documents, parties and rate budgets.
type Company struct {
	ID             uuid.UUID `json:"id" db:"id"`
	OrganizationID uuid.UUID `json:"organization_id" db:"organization_id"`
	CIF            string    `json:"cif" db:"cif"`
	Name           string    `json:"name" db:"name"`
	Address        string    `json:"address" db:"address"`
	City           string    `json:"city" db:"city"`
	County         string    `json:"county" db:"county"`
	Country        string    `json:"country" db:"country"`

	// VAT rates the tenant issues documents with, as fixed-point strings.
	VATRates []string `json:"vat_rates" db:"-"`

	DefaultSeries string     `json:"default_series" db:"default_series"`
	SyncDaysBack  int        `json:"sync_days_back" db:"sync_days_back"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty" db:"last_synced_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Series is a document numbering sequence owned by a company.
type Series struct {
	ID         uuid.UUID    `json:"id" db:"id"`
	CompanyID  uuid.UUID    `json:"company_id" db:"company_id"`
	Prefix     string       `json:"prefix" db:"prefix"`
	DocType    DocumentType `json:"doc_type" db:"doc_type"`
	NextNumber int          `json:"next_number" db:"next_number"`
	IsDefault  bool         `json:"is_default" db:"is_default"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
}
