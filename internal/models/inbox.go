package models

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageType classifies an inbox message once, at ingestion.
type MessageType string

const (
	MessageTypeIncoming    MessageType = "incoming"
	MessageTypeOutgoing    MessageType = "outgoing"
	MessageTypeErrorNotice MessageType = "error_notice"
	MessageTypeOther       MessageType = "other"
)

// ResolveMessageType maps the authority's free-text type tag onto the
// closed enum. Unknown tags become MessageTypeOther.
func ResolveMessageType(tag string) MessageType {
	switch strings.ToUpper(strings.TrimSpace(tag)) {
	case "FACTURA PRIMITA":
		return MessageTypeIncoming
	case "FACTURA TRIMISA":
		return MessageTypeOutgoing
	case "ERORI FACTURA":
		return MessageTypeErrorNotice
	}
	return MessageTypeOther
}

// MessageStatus is the processing state of an inbox message.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusProcessed MessageStatus = "processed"
	MessageStatusError     MessageStatus = "error"
)

// InboxMessage is one row per message the authority reported for a tenant.
// Rows are append-only; they are the audit trail of everything the
// authority ever said.
type InboxMessage struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	CompanyID     uuid.UUID     `json:"company_id" db:"company_id"`
	AnafMessageID string        `json:"anaf_message_id" db:"anaf_message_id"`
	Type          MessageType   `json:"type" db:"msg_type"`
	RawType       string        `json:"raw_type" db:"raw_type"`
	Detail        string        `json:"detail" db:"detail"`
	CIF           string        `json:"cif" db:"cif"`
	UploadID      *string       `json:"upload_id,omitempty" db:"upload_id"`
	MessageDate   *time.Time    `json:"message_date,omitempty" db:"message_date"`
	Status        MessageStatus `json:"status" db:"status"`
	ErrorMessage  *string       `json:"error_message,omitempty" db:"error_message"`
	DocumentID    *uuid.UUID    `json:"document_id,omitempty" db:"document_id"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

var uploadIDPattern = regexp.MustCompile(`id_incarcare=(\d+)`)

// ExtractUploadID pulls the upload correlation id out of a message detail
// string, or returns empty when absent.
func ExtractUploadID(detail string) string {
	m := uploadIDPattern.FindStringSubmatch(detail)
	if len(m) == 2 {
		return m[1]
	}
	return ""
}
