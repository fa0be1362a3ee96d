package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/anaf-service/internal/anaf"
	"github.com/hypernova-labs/anaf-service/internal/models"
	"github.com/hypernova-labs/anaf-service/internal/validation"
)

// DocumentStore is the document persistence surface the services consume.
// *database.DocumentRepository satisfies it.
type DocumentStore interface {
	Create(doc *models.Document) error
	GetByID(id uuid.UUID) (*models.Document, error)
	GetByUploadID(companyID uuid.UUID, uploadID string) (*models.Document, error)
	FindByNumber(companyID uuid.UUID, fullNumber string, direction models.DocumentDirection) (*models.Document, error)
	UpdateAnafStatus(id uuid.UUID, status models.AnafStatus, errorMessage *string) error
	TransitionAnafStatus(id uuid.UUID, from, to models.AnafStatus) (bool, error)
	SetUploadID(id uuid.UUID, uploadID string) error
	SetDownloadID(id uuid.UUID, downloadID string) error
	SetStorageKey(id uuid.UUID, key string) error
	MarkSynced(id uuid.UUID, messageID string) error
}

// InboxStore persists the append-only message trail.
type InboxStore interface {
	Create(msg *models.InboxMessage) error
	ExistingMessageIDs(companyID uuid.UUID, ids []string) (map[string]bool, error)
	MarkProcessed(id uuid.UUID, documentID *uuid.UUID) error
	MarkError(id uuid.UUID, message string) error
}

// PartyStore resolves and creates trading partners.
type PartyStore interface {
	Create(party *models.Party) error
	GetByCIF(companyID uuid.UUID, cif string) (*models.Party, error)
	GetByName(companyID uuid.UUID, name string) (*models.Party, error)
}

// ProductStore resolves and creates catalog items.
type ProductStore interface {
	Create(product *models.Product) error
	GetByName(companyID uuid.UUID, name string) (*models.Product, error)
}

// CompanyStore reads tenants and maintains their sync bookkeeping.
type CompanyStore interface {
	GetByID(id uuid.UUID) (*models.Company, error)
	UpdateLastSyncedAt(id uuid.UUID, at time.Time) error
	GetDefaultSeries(companyID uuid.UUID, docType models.DocumentType) (*models.Series, error)
	GetSeriesByPrefix(companyID uuid.UUID, prefix string, docType models.DocumentType) (*models.Series, error)
	CreateSeries(series *models.Series) error
}

// TokenResolver picks a working OAuth credential for a tenant.
// *anaf.TokenResolver satisfies it.
type TokenResolver interface {
	Resolve(ctx context.Context, company *models.Company) (string, error)
	InvalidateCIF(ctx context.Context, company *models.Company) error
}

// AuthorityAPI is the outbound surface toward the tax authority.
// *anaf.Client satisfies it.
type AuthorityAPI interface {
	Upload(ctx context.Context, xmlPayload []byte, cif, token string) (*anaf.UploadResult, error)
	CheckStatus(ctx context.Context, uploadID, token string) (*anaf.StatusResult, error)
	ListMessages(ctx context.Context, cif, token string, days int) ([]anaf.RawMessage, error)
	Download(ctx context.Context, id, token string) ([]byte, error)
}

// Validator runs the pre-submission pipeline. *validation.Pipeline
// satisfies it.
type Validator interface {
	Validate(ctx context.Context, doc *models.Document, company *models.Company) (*validation.Result, []byte)
}

// Archiver stores document payloads in durable object storage.
type Archiver interface {
	StoreDocumentXML(ctx context.Context, cif string, documentID uuid.UUID, issueDate time.Time, payload []byte) (string, error)
}

// Events publishes workflow events. *workflows.InngestClient satisfies it.
type Events interface {
	Publish(ctx context.Context, name string, data map[string]interface{}) error
}

// Notifier delivers human-facing reports after a reconciliation run.
type Notifier interface {
	SyncCompleted(company *models.Company, result *models.SyncResult) error
}
