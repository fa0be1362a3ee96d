package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/anaf-service/internal/models"
	"github.com/sirupsen/logrus"
)

// PartyRepository handles database operations for trading parties.
type PartyRepository struct {
	db     *DB
	logger *logrus.Logger
}

// NewPartyRepository creates a new repository instance.
func NewPartyRepository(db *DB, logger *logrus.Logger) *PartyRepository {
	return &PartyRepository{
		db:     db,
		logger: logger,
	}
}

const partyColumns = `
	id, company_id, cif, name, address, city, county, country, bank_account,
	created_at, updated_at
`

// Create inserts a party.
func (r *PartyRepository) Create(party *models.Party) error {
	query := `
		INSERT INTO parties (` + partyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecWithTimeout(query,
		party.ID, party.CompanyID, party.CIF, party.Name, party.Address,
		party.City, party.County, party.Country, party.BankAccount,
		party.CreatedAt, party.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("error inserting party: %w", err)
	}
	return nil
}

// GetByID returns a party by id.
func (r *PartyRepository) GetByID(id uuid.UUID) (*models.Party, error) {
	query := `SELECT ` + partyColumns + ` FROM parties WHERE id = $1`

	party, err := scanParty(r.db.QueryRowWithTimeout(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("party not found: %s", id)
		}
		return nil, fmt.Errorf("error querying party: %w", err)
	}
	return party, nil
}

// GetByCIF returns the tenant's party with the given tax identifier.
func (r *PartyRepository) GetByCIF(companyID uuid.UUID, cif string) (*models.Party, error) {
	query := `SELECT ` + partyColumns + ` FROM parties WHERE company_id = $1 AND cif = $2 LIMIT 1`

	party, err := scanParty(r.db.QueryRowWithTimeout(query, companyID, models.NormalizeCIF(cif)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying party by cif: %w", err)
	}
	return party, nil
}

// GetByName returns the tenant's party with the given name. Fallback used
// for consumers carrying the placeholder identifier.
func (r *PartyRepository) GetByName(companyID uuid.UUID, name string) (*models.Party, error) {
	query := `SELECT ` + partyColumns + ` FROM parties WHERE company_id = $1 AND name = $2 LIMIT 1`

	party, err := scanParty(r.db.QueryRowWithTimeout(query, companyID, name))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying party by name: %w", err)
	}
	return party, nil
}

// Update stores the party's mutable fields.
func (r *PartyRepository) Update(party *models.Party) error {
	query := `
		UPDATE parties
		SET name = $1, address = $2, city = $3, county = $4, country = $5,
			bank_account = $6, updated_at = $7
		WHERE id = $8
	`

	result, err := r.db.ExecWithTimeout(query,
		party.Name, party.Address, party.City, party.County, party.Country,
		party.BankAccount, time.Now(), party.ID,
	)
	if err != nil {
		return fmt.Errorf("error updating party: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("party not found: %s", party.ID)
	}
	return nil
}

func scanParty(row rowScanner) (*models.Party, error) {
	var party models.Party
	err := row.Scan(
		&party.ID, &party.CompanyID, &party.CIF, &party.Name, &party.Address,
		&party.City, &party.County, &party.Country, &party.BankAccount,
		&party.CreatedAt, &party.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &party, nil
}
