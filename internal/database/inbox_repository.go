package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hypernova-labs/anaf-service/internal/models"
	"github.com/sirupsen/logrus"
)

// InboxRepository handles database operations for authority inbox
// messages. Rows are append-only; they are the audit trail of everything
// the authority ever reported.
type InboxRepository struct {
	db     *DB
	logger *logrus.Logger
}

// NewInboxRepository creates a new repository instance.
func NewInboxRepository(db *DB, logger *logrus.Logger) *InboxRepository {
	return &InboxRepository{
		db:     db,
		logger: logger,
	}
}

const inboxColumns = `
	id, company_id, anaf_message_id, message_type, raw_type, detail, cif,
	upload_id, message_date, status, error_message, document_id, created_at
`

// Create inserts an inbox message.
func (r *InboxRepository) Create(msg *models.InboxMessage) error {
	query := `
		INSERT INTO inbox_messages (` + inboxColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecWithTimeout(query,
		msg.ID, msg.CompanyID, msg.AnafMessageID, msg.Type, msg.RawType, msg.Detail,
		msg.CIF, msg.UploadID, msg.MessageDate, msg.Status, msg.ErrorMessage,
		msg.DocumentID, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("error inserting inbox message: %w", err)
	}
	return nil
}

// ExistingMessageIDs returns which of the given external ids are already
// known for the tenant. One query, used as the idempotency preload before
// a sync run.
func (r *InboxRepository) ExistingMessageIDs(companyID uuid.UUID, ids []string) (map[string]bool, error) {
	known := make(map[string]bool)
	if len(ids) == 0 {
		return known, nil
	}

	query := `
		SELECT anaf_message_id
		FROM inbox_messages
		WHERE company_id = $1 AND anaf_message_id = ANY($2)
	`

	rows, err := r.db.QueryWithTimeout(query, companyID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("error querying known message ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning message id: %w", err)
		}
		known[id] = true
	}

	return known, nil
}

// MarkProcessed links the message to the document it produced.
func (r *InboxRepository) MarkProcessed(id uuid.UUID, documentID *uuid.UUID) error {
	query := `
		UPDATE inbox_messages
		SET status = $1, document_id = $2
		WHERE id = $3
	`

	_, err := r.db.ExecWithTimeout(query, models.MessageStatusProcessed, documentID, id)
	if err != nil {
		return fmt.Errorf("error marking inbox message processed: %w", err)
	}
	return nil
}

// MarkError records a processing failure on the message.
func (r *InboxRepository) MarkError(id uuid.UUID, message string) error {
	query := `
		UPDATE inbox_messages
		SET status = $1, error_message = $2
		WHERE id = $3
	`

	_, err := r.db.ExecWithTimeout(query, models.MessageStatusError, message, id)
	if err != nil {
		return fmt.Errorf("error marking inbox message errored: %w", err)
	}
	return nil
}

// ListByCompany returns the tenant's inbox messages, newest first.
func (r *InboxRepository) ListByCompany(companyID uuid.UUID, page, pageSize int) ([]models.InboxMessage, int, error) {
	countQuery := `SELECT COUNT(*) FROM inbox_messages WHERE company_id = $1`
	var total int
	if err := r.db.QueryRowWithTimeout(countQuery, companyID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("error counting inbox messages: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + inboxColumns + `
		FROM inbox_messages
		WHERE company_id = $1
		ORDER BY message_date DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryWithTimeout(query, companyID, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("error querying inbox messages: %w", err)
	}
	defer rows.Close()

	var messages []models.InboxMessage
	for rows.Next() {
		var msg models.InboxMessage
		err := rows.Scan(
			&msg.ID, &msg.CompanyID, &msg.AnafMessageID, &msg.Type, &msg.RawType, &msg.Detail,
			&msg.CIF, &msg.UploadID, &msg.MessageDate, &msg.Status, &msg.ErrorMessage,
			&msg.DocumentID, &msg.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("error scanning inbox message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, total, nil
}

// LastMessageDate returns the newest message date for a tenant, used to
// sanity-check lookback windows.
func (r *InboxRepository) LastMessageDate(companyID uuid.UUID) (*time.Time, error) {
	query := `SELECT MAX(message_date) FROM inbox_messages WHERE company_id = $1`

	var last *time.Time
	if err := r.db.QueryRowWithTimeout(query, companyID).Scan(&last); err != nil {
		return nil, fmt.Errorf("error querying last message date: %w", err)
	}
	return last, nil
}
