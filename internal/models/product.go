package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Product is a catalog item discovered on or attached to documents.
type Product struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	CompanyID   uuid.UUID       `json:"company_id" db:"company_id"`
	Name        string          `json:"name" db:"name"`
	Unit        string          `json:"unit" db:"unit"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate" db:"vat_rate"`
	VATCategory string          `json:"vat_category" db:"vat_category"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}
