package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/anaf-service/internal/models"
	"github.com/sirupsen/logrus"
)

// ProductRepository handles database operations for catalog items.
type ProductRepository struct {
	db     *DB
	logger *logrus.Logger
}

// NewProductRepository creates a new repository instance.
func NewProductRepository(db *DB, logger *logrus.Logger) *ProductRepository {
	return &ProductRepository{
		db:     db,
		logger: logger,
	}
}

const productColumns = `
	id, company_id, name, unit, unit_price, vat_rate, vat_category, is_active,
	created_at, updated_at
`

// Create inserts a catalog item.
func (r *ProductRepository) Create(product *models.Product) error {
	query := `
		INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecWithTimeout(query,
		product.ID, product.CompanyID, product.Name, product.Unit, product.UnitPrice,
		product.VATRate, product.VATCategory, product.IsActive,
		product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("error inserting product: %w", err)
	}
	return nil
}

// GetByName returns the tenant's catalog item with the given name.
func (r *ProductRepository) GetByName(companyID uuid.UUID, name string) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE company_id = $1 AND name = $2 LIMIT 1`

	var product models.Product
	err := r.db.QueryRowWithTimeout(query, companyID, name).Scan(
		&product.ID, &product.CompanyID, &product.Name, &product.Unit, &product.UnitPrice,
		&product.VATRate, &product.VATCategory, &product.IsActive,
		&product.CreatedAt, &product.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying product: %w", err)
	}
	return &product, nil
}

// ListByCompany returns the tenant's active catalog items.
func (r *ProductRepository) ListByCompany(companyID uuid.UUID) ([]models.Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE company_id = $1 AND is_active = true
		ORDER BY name
	`

	rows, err := r.db.QueryWithTimeout(query, companyID)
	if err != nil {
		return nil, fmt.Errorf("error querying products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var product models.Product
		err := rows.Scan(
			&product.ID, &product.CompanyID, &product.Name, &product.Unit, &product.UnitPrice,
			&product.VATRate, &product.VATCategory, &product.IsActive,
			&product.CreatedAt, &product.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning product: %w", err)
		}
		products = append(products, product)
	}

	return products, nil
}

// Deactivate soft-deletes a catalog item.
func (r *ProductRepository) Deactivate(id uuid.UUID) error {
	query := `UPDATE products SET is_active = false, updated_at = $1 WHERE id = $2`

	result, err := r.db.ExecWithTimeout(query, time.Now(), id)
	if err != nil {
		return fmt.Errorf("error deactivating product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("product not found: %s", id)
	}
	return nil
}
