package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/anaf-service/internal/models"
	"github.com/sirupsen/logrus"
)

// DocumentRepository handles database operations for documents.
type DocumentRepository struct {
	db     *DB
	logger *logrus.Logger
}

// NewDocumentRepository creates a new repository instance.
func NewDocumentRepository(db *DB, logger *logrus.Logger) *DocumentRepository {
	return &DocumentRepository{
		db:     db,
		logger: logger,
	}
}

const documentColumns = `
	id, company_id, doc_type, direction, series, number, status,
	issue_date, due_date, currency, parent_document_id,
	subtotal, vat_total, total,
	anaf_upload_id, anaf_message_id, anaf_download_id, anaf_status, anaf_error_message,
	storage_key, has_signature, is_duplicate, is_late_submitted, synced_at,
	supplier_party_id, customer_party_id, created_at, updated_at
`

// Create inserts a document with its lines in one transaction.
func (r *DocumentRepository) Create(doc *models.Document) error {
	return r.db.WithTransaction(func(tx *sql.Tx) error {
		query := `
			INSERT INTO documents (` + documentColumns + `) VALUES (
				$1, $2, $3, $4, $5, $6, $7,
				$8, $9, $10, $11,
				$12, $13, $14,
				$15, $16, $17, $18, $19,
				$20, $21, $22, $23, $24,
				$25, $26, $27, $28
			)
		`

		_, err := tx.Exec(query,
			doc.ID, doc.CompanyID, doc.Type, doc.Direction, doc.Series, doc.Number, doc.Status,
			doc.IssueDate, doc.DueDate, doc.Currency, doc.ParentDocumentID,
			doc.Subtotal, doc.VATTotal, doc.Total,
			doc.AnafUploadID, doc.AnafMessageID, doc.AnafDownloadID, doc.AnafStatus, doc.AnafErrorMessage,
			doc.StorageKey, doc.HasSignature, doc.IsDuplicate, doc.IsLateSubmitted, doc.SyncedAt,
			partyID(doc.Supplier), partyID(doc.Customer), doc.CreatedAt, doc.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("error inserting document: %w", err)
		}

		return insertLines(tx, doc.ID, doc.Lines)
	})
}

func insertLines(tx *sql.Tx, documentID uuid.UUID, lines []models.Line) error {
	query := `
		INSERT INTO document_lines (
			id, document_id, line_no, description, quantity, unit, unit_price,
			discount, vat_rate, vat_category, vat_amount, line_total, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	for _, line := range lines {
		_, err := tx.Exec(query,
			line.ID, documentID, line.LineNo, line.Description, line.Quantity, line.Unit,
			line.UnitPrice, line.Discount, line.VATRate, line.VATCategory,
			line.VATAmount, line.LineTotal, line.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("error inserting document line: %w", err)
		}
	}
	return nil
}

func partyID(p *models.Party) uuid.NullUUID {
	if p == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: p.ID, Valid: true}
}

// GetByID returns a document with its parties and lines.
func (r *DocumentRepository) GetByID(id uuid.UUID) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	doc, err := scanDocument(r.db.QueryRowWithTimeout(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("document not found: %s", id)
		}
		return nil, fmt.Errorf("error querying document: %w", err)
	}

	if err := r.loadRelations(doc); err != nil {
		r.logger.Warnf("Error loading relations for document %s: %v", id, err)
	}

	return doc, nil
}

// GetByUploadID finds the tenant's document holding a correlation id.
func (r *DocumentRepository) GetByUploadID(companyID uuid.UUID, uploadID string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE company_id = $1 AND anaf_upload_id = $2`

	doc, err := scanDocument(r.db.QueryRowWithTimeout(query, companyID, uploadID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying document by upload id: %w", err)
	}
	return doc, nil
}

// FindByNumber finds the tenant's document by full number and direction.
// Matching fallback for inbox messages carrying no correlation id.
func (r *DocumentRepository) FindByNumber(companyID uuid.UUID, fullNumber string, direction models.DocumentDirection) (*models.Document, error) {
	query := `
		SELECT ` + documentColumns + `
		FROM documents
		WHERE company_id = $1 AND (series || number) = $2 AND direction = $3
		ORDER BY created_at DESC
		LIMIT 1
	`

	doc, err := scanDocument(r.db.QueryRowWithTimeout(query, companyID, fullNumber, direction))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying document by number: %w", err)
	}
	return doc, nil
}

// List returns the tenant's documents with optional filters, newest first.
func (r *DocumentRepository) List(companyID uuid.UUID, filters map[string]interface{}, page, pageSize int) ([]models.Document, int, error) {
	whereClauses := []string{"company_id = $1"}
	args := []interface{}{companyID}
	argIndex := 2

	for key, value := range filters {
		switch key {
		case "doc_type", "direction", "status", "anaf_status":
			whereClauses = append(whereClauses, fmt.Sprintf("%s = $%d", key, argIndex))
			args = append(args, value)
			argIndex++
		case "date_from":
			whereClauses = append(whereClauses, fmt.Sprintf("issue_date >= $%d", argIndex))
			args = append(args, value)
			argIndex++
		case "date_to":
			whereClauses = append(whereClauses, fmt.Sprintf("issue_date <= $%d", argIndex))
			args = append(args, value)
			argIndex++
		}
	}

	whereClause := strings.Join(whereClauses, " AND ")

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM documents WHERE %s", whereClause)
	var total int
	if err := r.db.QueryRowWithTimeout(countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting documents: %w", err)
	}

	offset := (page - 1) * pageSize
	query := fmt.Sprintf(`
		SELECT `+documentColumns+`
		FROM documents
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argIndex, argIndex+1)
	args = append(args, pageSize, offset)

	rows, err := r.db.QueryWithTimeout(query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("error querying documents: %w", err)
	}
	defer rows.Close()

	var documents []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("error scanning document: %w", err)
		}
		documents = append(documents, *doc)
	}

	return documents, total, nil
}

// UpdateAnafStatus stores a new submission state and error message.
func (r *DocumentRepository) UpdateAnafStatus(id uuid.UUID, status models.AnafStatus, errorMessage *string) error {
	query := `
		UPDATE documents
		SET anaf_status = $1, anaf_error_message = $2, updated_at = $3
		WHERE id = $4
	`

	result, err := r.db.ExecWithTimeout(query, status, errorMessage, time.Now(), id)
	if err != nil {
		return fmt.Errorf("error updating document status: %w", err)
	}
	return requireRow(result, id)
}

// TransitionAnafStatus moves a document between submission states only if
// it still holds the expected one. Returns false when another worker got
// there first.
func (r *DocumentRepository) TransitionAnafStatus(id uuid.UUID, from, to models.AnafStatus) (bool, error) {
	query := `
		UPDATE documents
		SET anaf_status = $1, updated_at = $2
		WHERE id = $3 AND anaf_status = $4
	`

	result, err := r.db.ExecWithTimeout(query, to, time.Now(), id, from)
	if err != nil {
		return false, fmt.Errorf("error transitioning document status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error getting rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// SetUploadID records the correlation id returned by the authority.
func (r *DocumentRepository) SetUploadID(id uuid.UUID, uploadID string) error {
	query := `
		UPDATE documents
		SET anaf_upload_id = $1, anaf_status = $2, updated_at = $3
		WHERE id = $4
	`

	result, err := r.db.ExecWithTimeout(query, uploadID, models.AnafStatusUploaded, time.Now(), id)
	if err != nil {
		return fmt.Errorf("error storing upload id: %w", err)
	}
	return requireRow(result, id)
}

// SetDownloadID records the final correlation artifact of a confirmed
// submission.
func (r *DocumentRepository) SetDownloadID(id uuid.UUID, downloadID string) error {
	query := `
		UPDATE documents
		SET anaf_download_id = $1, anaf_status = $2, updated_at = $3
		WHERE id = $4
	`

	result, err := r.db.ExecWithTimeout(query, downloadID, models.AnafStatusOK, time.Now(), id)
	if err != nil {
		return fmt.Errorf("error storing download id: %w", err)
	}
	return requireRow(result, id)
}

// SetStorageKey records where the archived XML lives.
func (r *DocumentRepository) SetStorageKey(id uuid.UUID, key string) error {
	query := `UPDATE documents SET storage_key = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecWithTimeout(query, key, time.Now(), id)
	if err != nil {
		return fmt.Errorf("error storing storage key: %w", err)
	}
	return requireRow(result, id)
}

// UpdateStatus stores a new lifecycle status.
func (r *DocumentRepository) UpdateStatus(id uuid.UUID, status models.DocumentStatus) error {
	query := `UPDATE documents SET status = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecWithTimeout(query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("error updating document lifecycle status: %w", err)
	}
	return requireRow(result, id)
}

// MarkSynced stamps the document as reconciled with the authority.
func (r *DocumentRepository) MarkSynced(id uuid.UUID, messageID string) error {
	query := `
		UPDATE documents
		SET anaf_message_id = $1, status = $2, synced_at = $3, updated_at = $3
		WHERE id = $4
	`

	result, err := r.db.ExecWithTimeout(query, messageID, models.DocumentStatusSynced, time.Now(), id)
	if err != nil {
		return fmt.Errorf("error marking document synced: %w", err)
	}
	return requireRow(result, id)
}

func requireRow(result sql.Result, id uuid.UUID) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("document not found: %s", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var supplierID, customerID uuid.NullUUID

	err := row.Scan(
		&doc.ID, &doc.CompanyID, &doc.Type, &doc.Direction, &doc.Series, &doc.Number, &doc.Status,
		&doc.IssueDate, &doc.DueDate, &doc.Currency, &doc.ParentDocumentID,
		&doc.Subtotal, &doc.VATTotal, &doc.Total,
		&doc.AnafUploadID, &doc.AnafMessageID, &doc.AnafDownloadID, &doc.AnafStatus, &doc.AnafErrorMessage,
		&doc.StorageKey, &doc.HasSignature, &doc.IsDuplicate, &doc.IsLateSubmitted, &doc.SyncedAt,
		&supplierID, &customerID, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if supplierID.Valid {
		doc.Supplier = &models.Party{ID: supplierID.UUID}
	}
	if customerID.Valid {
		doc.Customer = &models.Party{ID: customerID.UUID}
	}

	return &doc, nil
}

func (r *DocumentRepository) loadRelations(doc *models.Document) error {
	lines, err := r.getLines(doc.ID)
	if err != nil {
		return err
	}
	doc.Lines = lines

	partyRepo := NewPartyRepository(r.db, r.logger)
	if doc.Supplier != nil {
		if p, err := partyRepo.GetByID(doc.Supplier.ID); err == nil {
			doc.Supplier = p
		}
	}
	if doc.Customer != nil {
		if p, err := partyRepo.GetByID(doc.Customer.ID); err == nil {
			doc.Customer = p
		}
	}

	return nil
}

func (r *DocumentRepository) getLines(documentID uuid.UUID) ([]models.Line, error) {
	query := `
		SELECT id, document_id, line_no, description, quantity, unit, unit_price,
			   discount, vat_rate, vat_category, vat_amount, line_total, created_at
		FROM document_lines
		WHERE document_id = $1
		ORDER BY line_no
	`

	rows, err := r.db.QueryWithTimeout(query, documentID)
	if err != nil {
		return nil, fmt.Errorf("error querying document lines: %w", err)
	}
	defer rows.Close()

	var lines []models.Line
	for rows.Next() {
		var line models.Line
		err := rows.Scan(
			&line.ID, &line.DocumentID, &line.LineNo, &line.Description, &line.Quantity,
			&line.Unit, &line.UnitPrice, &line.Discount, &line.VATRate, &line.VATCategory,
			&line.VATAmount, &line.LineTotal, &line.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning document line: %w", err)
		}
		lines = append(lines, line)
	}

	return lines, nil
}
