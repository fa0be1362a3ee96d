package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DocumentType is the kind of fiscal document.
type DocumentType string

const (
	DocumentTypeInvoice    DocumentType = "invoice"
	DocumentTypeCreditNote DocumentType = "credit_note"
	DocumentTypeTransport  DocumentType = "transport"
)

// DocumentDirection tells whether the document was issued or received.
type DocumentDirection string

const (
	DirectionOutgoing DocumentDirection = "outgoing"
	DirectionIncoming DocumentDirection = "incoming"
)

// DocumentStatus is the local lifecycle state of a document.
type DocumentStatus string

const (
	DocumentStatusDraft    DocumentStatus = "DRAFT"
	DocumentStatusIssued   DocumentStatus = "ISSUED"
	DocumentStatusSent     DocumentStatus = "SENT_TO_PROVIDER"
	DocumentStatusSynced   DocumentStatus = "SYNCED"
	DocumentStatusRejected DocumentStatus = "REJECTED"
)

// AnafStatus is the submission state reported against the tax authority.
type AnafStatus string

const (
	AnafStatusPending          AnafStatus = "pending"
	AnafStatusUploaded         AnafStatus = "uploaded"
	AnafStatusOK               AnafStatus = "ok"
	AnafStatusNOK              AnafStatus = "nok"
	AnafStatusValidationFailed AnafStatus = "validation_failed"
	AnafStatusUploadFailed     AnafStatus = "upload_failed"
	AnafStatusPendingTimeout   AnafStatus = "pending_timeout"
)

// IsTerminal reports whether no further submission transitions are allowed.
func (s AnafStatus) IsTerminal() bool {
	switch s {
	case AnafStatusOK, AnafStatusNOK, AnafStatusValidationFailed, AnafStatusUploadFailed, AnafStatusPendingTimeout:
		return true
	}
	return false
}

// Document is a fiscal document (invoice, credit note or transport declaration).
type Document struct {
	ID        uuid.UUID         `json:"id" db:"id"`
	CompanyID uuid.UUID         `json:"company_id" db:"company_id"`
	Type      DocumentType      `json:"type" db:"doc_type"`
	Direction DocumentDirection `json:"direction" db:"direction"`
	Series    string            `json:"series" db:"series"`
	Number    string            `json:"number" db:"number"`
	Status    DocumentStatus    `json:"status" db:"status"`

	IssueDate time.Time  `json:"issue_date" db:"issue_date"`
	DueDate   *time.Time `json:"due_date,omitempty" db:"due_date"`
	Currency  string     `json:"currency" db:"currency"`

	// Reference to the invoice a credit note corrects.
	ParentDocumentID *uuid.UUID `json:"parent_document_id,omitempty" db:"parent_document_id"`

	Subtotal decimal.Decimal `json:"subtotal" db:"subtotal"`
	VATTotal decimal.Decimal `json:"vat_total" db:"vat_total"`
	Total    decimal.Decimal `json:"total" db:"total"`

	// Authority correlation fields.
	AnafUploadID     *string    `json:"anaf_upload_id,omitempty" db:"anaf_upload_id"`
	AnafMessageID    *string    `json:"anaf_message_id,omitempty" db:"anaf_message_id"`
	AnafDownloadID   *string    `json:"anaf_download_id,omitempty" db:"anaf_download_id"`
	AnafStatus       AnafStatus `json:"anaf_status" db:"anaf_status"`
	AnafErrorMessage *string    `json:"anaf_error_message,omitempty" db:"anaf_error_message"`

	StorageKey      *string    `json:"storage_key,omitempty" db:"storage_key"`
	HasSignature    bool       `json:"has_signature" db:"has_signature"`
	IsDuplicate     bool       `json:"is_duplicate" db:"is_duplicate"`
	IsLateSubmitted bool       `json:"is_late_submitted" db:"is_late_submitted"`
	SyncedAt        *time.Time `json:"synced_at,omitempty" db:"synced_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	// Relations populated on reads.
	Supplier *Party `json:"supplier,omitempty"`
	Customer *Party `json:"customer,omitempty"`
	Lines    []Line `json:"lines,omitempty"`
}

// IsRefund reports whether the document corrects another one.
func (d *Document) IsRefund() bool {
	return d.Type == DocumentTypeCreditNote || d.ParentDocumentID != nil
}

// FullNumber returns the series-prefixed document number.
func (d *Document) FullNumber() string {
	if d.Series == "" {
		return d.Number
	}
	return d.Series + d.Number
}

// Line is one billable row of a document.
type Line struct {
	ID          uuid.UUID `json:"id" db:"id"`
	DocumentID  uuid.UUID `json:"document_id" db:"document_id"`
	LineNo      int       `json:"line_no" db:"line_no"`
	Description string    `json:"description" db:"description"`

	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	Unit      string          `json:"unit" db:"unit"`
	UnitPrice decimal.Decimal `json:"unit_price" db:"unit_price"`
	Discount  decimal.Decimal `json:"discount" db:"discount"`

	VATRate     decimal.Decimal `json:"vat_rate" db:"vat_rate"`
	VATCategory string          `json:"vat_category" db:"vat_category"`
	VATAmount   decimal.Decimal `json:"vat_amount" db:"vat_amount"`
	LineTotal   decimal.Decimal `json:"line_total" db:"line_total"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ComputeTotals fills LineTotal and VATAmount from the other fields,
// rounded to two decimals.
func (l *Line) ComputeTotals() {
	l.LineTotal = l.Quantity.Mul(l.UnitPrice).Sub(l.Discount).Round(2)
	l.VATAmount = l.LineTotal.Mul(l.VATRate).Div(decimal.NewFromInt(100)).Round(2)
}

// Attachment is a file embedded in or downloaded with a document.
type Attachment struct {
	ID         uuid.UUID `json:"id" db:"id"`
	DocumentID uuid.UUID `json:"document_id" db:"document_id"`
	FileName   string    `json:"file_name" db:"file_name"`
	MimeType   string    `json:"mime_type" db:"mime_type"`
	Content    []byte    `json:"-" db:"content"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// SubmitResponse is returned when a submission is accepted for processing.
type SubmitResponse struct {
	ID     uuid.UUID  `json:"id"`
	Status AnafStatus `json:"anaf_status"`
}

// DocumentListResponse is a paginated document listing.
type DocumentListResponse struct {
	Items    []Document `json:"items"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
	Total    int        `json:"total"`
}
