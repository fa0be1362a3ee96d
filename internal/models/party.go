package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Party is a buyer, seller or transport partner on a document.
type Party struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CompanyID uuid.UUID `json:"company_id" db:"company_id"`

	// Tax identifier stored without its country prefix.
	CIF         string  `json:"cif" db:"cif"`
	Name        string  `json:"name" db:"name"`
	Address     string  `json:"address" db:"address"`
	City        string  `json:"city" db:"city"`
	County      string  `json:"county" db:"county"`
	Country     string  `json:"country" db:"country"`
	BankAccount *string `json:"bank_account,omitempty" db:"bank_account"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsIndividual reports whether the identifier looks like a personal code
// rather than a company registration. Detection is pattern based: a
// 13-digit code starting 1-9 is a personal numeric code.
func (p *Party) IsIndividual() bool {
	return IsPersonalCode(p.CIF) || IsPlaceholderCIF(p.CIF)
}

// IsPersonalCode reports whether id is a 13-digit personal numeric code.
func IsPersonalCode(id string) bool {
	id = NormalizeCIF(id)
	if len(id) != 13 {
		return false
	}
	if id[0] < '1' || id[0] > '9' {
		return false
	}
	for i := 1; i < len(id); i++ {
		if id[i] < '0' || id[i] > '9' {
			return false
		}
	}
	return true
}

// IsPlaceholderCIF reports whether id is the all-zero identifier used for
// consumers without a registration number.
func IsPlaceholderCIF(id string) bool {
	id = NormalizeCIF(id)
	if id == "" {
		return false
	}
	for _, r := range id {
		if r != '0' {
			return false
		}
	}
	return true
}

// NormalizeCIF strips the RO country prefix and surrounding whitespace.
func NormalizeCIF(cif string) string {
	cif = strings.TrimSpace(cif)
	upper := strings.ToUpper(cif)
	if strings.HasPrefix(upper, "RO") {
		rest := cif[2:]
		if rest != "" && allDigits(rest) {
			return rest
		}
	}
	return cif
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
