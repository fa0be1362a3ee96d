package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hypernova-labs/anaf-service/internal/models"
	"github.com/sirupsen/logrus"
)

// CompanyRepository handles database operations for tenants.
type CompanyRepository struct {
	db     *DB
	logger *logrus.Logger
}

// NewCompanyRepository creates a new repository instance.
func NewCompanyRepository(db *DB, logger *logrus.Logger) *CompanyRepository {
	return &CompanyRepository{
		db:     db,
		logger: logger,
	}
}

const companyColumns = `
	id, organization_id, cif, name, address, city, county, country,
	vat_rates, default_series, sync_days_back, last_synced_at,
	created_at, updated_at
`

// GetByID returns a tenant by id.
func (r *CompanyRepository) GetByID(id uuid.UUID) (*models.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE id = $1`

	company, err := r.scan(r.db.QueryRowWithTimeout(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("company not found: %s", id)
		}
		return nil, fmt.Errorf("error querying company: %w", err)
	}
	return company, nil
}

// GetByCIF returns the tenant registered under a tax identifier.
func (r *CompanyRepository) GetByCIF(cif string) (*models.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE cif = $1`

	company, err := r.scan(r.db.QueryRowWithTimeout(query, models.NormalizeCIF(cif)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying company by cif: %w", err)
	}
	return company, nil
}

// ListByOrganization returns all tenants of an organization.
func (r *CompanyRepository) ListByOrganization(orgID uuid.UUID) ([]models.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE organization_id = $1 ORDER BY name`

	rows, err := r.db.QueryWithTimeout(query, orgID)
	if err != nil {
		return nil, fmt.Errorf("error querying companies: %w", err)
	}
	defer rows.Close()

	var companies []models.Company
	for rows.Next() {
		company, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning company: %w", err)
		}
		companies = append(companies, *company)
	}

	return companies, nil
}

// ListAll returns every registered tenant. Used by the nightly sync
// scheduler.
func (r *CompanyRepository) ListAll() ([]models.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies ORDER BY name`

	rows, err := r.db.QueryWithTimeout(query)
	if err != nil {
		return nil, fmt.Errorf("error querying companies: %w", err)
	}
	defer rows.Close()

	var companies []models.Company
	for rows.Next() {
		company, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning company: %w", err)
		}
		companies = append(companies, *company)
	}

	return companies, nil
}

// UpdateLastSyncedAt stamps a successful reconciliation run.
func (r *CompanyRepository) UpdateLastSyncedAt(id uuid.UUID, at time.Time) error {
	query := `UPDATE companies SET last_synced_at = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecWithTimeout(query, at, time.Now(), id)
	if err != nil {
		return fmt.Errorf("error updating last synced timestamp: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("company not found: %s", id)
	}
	return nil
}

// GetDefaultSeries returns the tenant's default series for a document
// type, or nil when none exists.
func (r *CompanyRepository) GetDefaultSeries(companyID uuid.UUID, docType models.DocumentType) (*models.Series, error) {
	query := `
		SELECT id, company_id, prefix, doc_type, next_number, is_default, created_at
		FROM series
		WHERE company_id = $1 AND doc_type = $2 AND is_default = true
		LIMIT 1
	`

	var series models.Series
	err := r.db.QueryRowWithTimeout(query, companyID, docType).Scan(
		&series.ID, &series.CompanyID, &series.Prefix, &series.DocType,
		&series.NextNumber, &series.IsDefault, &series.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying default series: %w", err)
	}
	return &series, nil
}

// GetSeriesByPrefix returns the tenant's series with the given prefix
// and document type, or nil when none exists.
func (r *CompanyRepository) GetSeriesByPrefix(companyID uuid.UUID, prefix string, docType models.DocumentType) (*models.Series, error) {
	query := `
		SELECT id, company_id, prefix, doc_type, next_number, is_default, created_at
		FROM series
		WHERE company_id = $1 AND prefix = $2 AND doc_type = $3
		LIMIT 1
	`

	var series models.Series
	err := r.db.QueryRowWithTimeout(query, companyID, prefix, docType).Scan(
		&series.ID, &series.CompanyID, &series.Prefix, &series.DocType,
		&series.NextNumber, &series.IsDefault, &series.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying series by prefix: %w", err)
	}
	return &series, nil
}

// CreateSeries inserts a numbering series.
func (r *CompanyRepository) CreateSeries(series *models.Series) error {
	query := `
		INSERT INTO series (id, company_id, prefix, doc_type, next_number, is_default, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecWithTimeout(query,
		series.ID, series.CompanyID, series.Prefix, series.DocType,
		series.NextNumber, series.IsDefault, series.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error inserting series: %w", err)
	}
	return nil
}

func (r *CompanyRepository) scan(row rowScanner) (*models.Company, error) {
	var company models.Company
	err := row.Scan(
		&company.ID, &company.OrganizationID, &company.CIF, &company.Name,
		&company.Address, &company.City, &company.County, &company.Country,
		pq.Array(&company.VATRates), &company.DefaultSeries, &company.SyncDaysBack,
		&company.LastSyncedAt, &company.CreatedAt, &company.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &company, nil
}
