package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/anaf-service/internal/database"
	"github.com/sirupsen/logrus"
)

// ArchiveService stores raw document XML in object storage. Payloads are
// archived before any upload attempt so the exact submitted bytes can be
// replayed during audits.
type ArchiveService struct {
	storage *database.SupabaseClient
	logger  *logrus.Logger
}

// NewArchiveService creates a new instance of the service.
func NewArchiveService(storage *database.SupabaseClient, logger *logrus.Logger) *ArchiveService {
	return &ArchiveService{
		storage: storage,
		logger:  logger,
	}
}

// StoreDocumentXML uploads a payload under {cif}/{year}/{month}/{id}.xml
// and returns the storage key.
func (s *ArchiveService) StoreDocumentXML(ctx context.Context, cif string, documentID uuid.UUID, issueDate time.Time, payload []byte) (string, error) {
	if s.storage == nil {
		return "", fmt.Errorf("object storage not configured")
	}
	key := fmt.Sprintf("%s/%04d/%02d/%s.xml", cif, issueDate.Year(), int(issueDate.Month()), documentID)

	if _, err := s.storage.UploadFile(ctx, s.storage.Bucket(), key, payload); err != nil {
		return "", fmt.Errorf("error archiving document XML: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"document_id": documentID,
		"storage_key": key,
		"size":        len(payload),
	}).Info("Document XML archived")

	return key, nil
}

// FetchDocumentXML reads an archived payload back by its storage key.
func (s *ArchiveService) FetchDocumentXML(ctx context.Context, key string) ([]byte, error) {
	if s.storage == nil {
		return nil, fmt.Errorf("object storage not configured")
	}
	data, err := s.storage.DownloadFile(ctx, s.storage.Bucket(), key)
	if err != nil {
		return nil, fmt.Errorf("error fetching archived XML: %w", err)
	}
	return data, nil
}
