package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hypernova-labs/anaf-service/internal/models"
	"github.com/hypernova-labs/anaf-service/internal/ratelimit"
	"github.com/sirupsen/logrus"
)

// Event names published by the services and consumed by the workflows.
const (
	EventDocumentSubmitRequested = "anaf/document.submit.requested"
	EventDocumentStatusCheck     = "anaf/document.status.check"
	EventCompanySyncRequested    = "anaf/company.sync.requested"
	EventSyncStarted             = "anaf/sync.started"
	EventSyncProgress            = "anaf/sync.progress"
	EventSyncCompleted           = "anaf/sync.completed"
	EventSyncError               = "anaf/sync.error"
)

// SubmissionService drives a document through validation, archival and
// upload to the authority.
type SubmissionService struct {
	documents DocumentStore
	companies CompanyStore
	validator Validator
	archiver  Archiver
	tokens    TokenResolver
	authority AuthorityAPI
	events    Events
	logger    *logrus.Logger
}

// NewSubmissionService creates a new instance of the service.
func NewSubmissionService(documents DocumentStore, companies CompanyStore, validator Validator, archiver Archiver, tokens TokenResolver, authority AuthorityAPI, events Events, logger *logrus.Logger) *SubmissionService {
	return &SubmissionService{
		documents: documents,
		companies: companies,
		validator: validator,
		archiver:  archiver,
		tokens:    tokens,
		authority: authority,
		events:    events,
		logger:    logger,
	}
}

// Submit validates and uploads a document. Validation and upload failures
// are recorded on the document rather than returned as errors; errors are
// reserved for conditions worth retrying (storage, rate limits, lookups).
func (s *SubmissionService) Submit(ctx context.Context, documentID uuid.UUID) (*models.SubmitResponse, error) {
	doc, err := s.documents.GetByID(documentID)
	if err != nil {
		return nil, err
	}

	if doc.Direction != models.DirectionOutgoing {
		return nil, fmt.Errorf("document %s is not an outgoing document", documentID)
	}

	switch doc.AnafStatus {
	case models.AnafStatusUploaded:
		return nil, fmt.Errorf("document %s already has a submission in progress", documentID)
	case models.AnafStatusOK:
		return nil, fmt.Errorf("document %s is already confirmed", documentID)
	}

	company, err := s.companies.GetByID(doc.CompanyID)
	if err != nil {
		return nil, err
	}

	result, payload := s.validator.Validate(ctx, doc, company)
	if !result.Valid {
		message := strings.Join(result.Messages(), "; ")
		if err := s.documents.UpdateAnafStatus(doc.ID, models.AnafStatusValidationFailed, &message); err != nil {
			return nil, err
		}
		s.logger.WithFields(logrus.Fields{
			"document_id": doc.ID,
			"errors":      len(result.Errors),
		}).Warn("Document failed validation")
		return &models.SubmitResponse{ID: doc.ID, Status: models.AnafStatusValidationFailed}, nil
	}

	// Archive the exact payload before any upload attempt.
	key, err := s.archiver.StoreDocumentXML(ctx, company.CIF, doc.ID, doc.IssueDate, payload)
	if err != nil {
		return nil, err
	}
	if err := s.documents.SetStorageKey(doc.ID, key); err != nil {
		return nil, err
	}

	token, err := s.tokens.Resolve(ctx, company)
	if err != nil {
		return nil, err
	}
	if token == "" {
		message := "no usable authority token for this tenant"
		if err := s.documents.UpdateAnafStatus(doc.ID, models.AnafStatusUploadFailed, &message); err != nil {
			return nil, err
		}
		return &models.SubmitResponse{ID: doc.ID, Status: models.AnafStatusUploadFailed}, nil
	}

	upload, err := s.authority.Upload(ctx, payload, company.CIF, token)
	if err != nil {
		var limitErr *ratelimit.Error
		if errors.As(err, &limitErr) {
			// Retryable: leave the document untouched for the caller.
			return nil, err
		}
		message := err.Error()
		if updErr := s.documents.UpdateAnafStatus(doc.ID, models.AnafStatusUploadFailed, &message); updErr != nil {
			return nil, updErr
		}
		s.logger.WithFields(logrus.Fields{
			"document_id": doc.ID,
			"error":       message,
		}).Warn("Upload rejected by the authority")
		return &models.SubmitResponse{ID: doc.ID, Status: models.AnafStatusUploadFailed}, nil
	}

	if err := s.documents.SetUploadID(doc.ID, upload.UploadID); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"upload_id":   upload.UploadID,
	}).Info("Document uploaded to the authority")

	if s.events != nil {
		if err := s.events.Publish(ctx, EventDocumentStatusCheck, map[string]interface{}{
			"document_id": doc.ID.String(),
			"attempt":     0,
		}); err != nil {
			s.logger.Warnf("Could not schedule status check for %s: %v", doc.ID, err)
		}
	}

	return &models.SubmitResponse{ID: doc.ID, Status: models.AnafStatusUploaded}, nil
}
