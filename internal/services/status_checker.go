package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hypernova-labs/anaf-service/internal/anaf"
	"github.com/hypernova-labs/anaf-service/internal/models"
	"github.com/sirupsen/logrus"
)

// statusBackoff spaces successive status polls for one submission.
var statusBackoff = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	30 * time.Minute,
	time.Hour,
	2 * time.Hour,
}

const timeoutMessage = "authority did not reach a verdict within the polling window"

// BackoffDelay returns the wait before poll number attempt (zero based),
// clamped to the last step.
func BackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= len(statusBackoff) {
		attempt = len(statusBackoff) - 1
	}
	return statusBackoff[attempt]
}

// CheckOutcome is the result of one status poll.
type CheckOutcome struct {
	Done        bool
	Status      models.AnafStatus
	NextAttempt int
	NextDelay   time.Duration
}

// StatusChecker polls the authority for submission verdicts and settles
// documents into their terminal states.
type StatusChecker struct {
	documents   DocumentStore
	companies   CompanyStore
	tokens      TokenResolver
	authority   AuthorityAPI
	maxAttempts int
	logger      *logrus.Logger
}

// NewStatusChecker creates a new instance of the checker.
func NewStatusChecker(documents DocumentStore, companies CompanyStore, tokens TokenResolver, authority AuthorityAPI, maxAttempts int, logger *logrus.Logger) *StatusChecker {
	if maxAttempts <= 0 {
		maxAttempts = len(statusBackoff)
	}
	return &StatusChecker{
		documents:   documents,
		companies:   companies,
		tokens:      tokens,
		authority:   authority,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Check performs poll number attempt for a document. Errors are retryable
// conditions (rate limits, transport failures); verdicts land on the
// document itself.
func (c *StatusChecker) Check(ctx context.Context, documentID uuid.UUID, attempt int) (*CheckOutcome, error) {
	doc, err := c.documents.GetByID(documentID)
	if err != nil {
		return nil, err
	}

	// A concurrent poll may already have settled the document.
	if doc.AnafStatus.IsTerminal() {
		return &CheckOutcome{Done: true, Status: doc.AnafStatus}, nil
	}

	if doc.AnafUploadID == nil {
		return nil, fmt.Errorf("document %s has no upload id to poll", documentID)
	}

	company, err := c.companies.GetByID(doc.CompanyID)
	if err != nil {
		return nil, err
	}

	token, err := c.tokens.Resolve(ctx, company)
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, fmt.Errorf("no usable authority token for company %s", company.ID)
	}

	status, err := c.authority.CheckStatus(ctx, *doc.AnafUploadID, token)
	if err != nil {
		return nil, err
	}

	switch status.State {
	case anaf.StatusOK:
		moved, err := c.documents.TransitionAnafStatus(doc.ID, models.AnafStatusUploaded, models.AnafStatusOK)
		if err != nil {
			return nil, err
		}
		if moved && status.DownloadID != "" {
			if err := c.documents.SetDownloadID(doc.ID, status.DownloadID); err != nil {
				return nil, err
			}
		}
		c.logger.WithFields(logrus.Fields{
			"document_id": doc.ID,
			"upload_id":   *doc.AnafUploadID,
		}).Info("Submission confirmed by the authority")
		return &CheckOutcome{Done: true, Status: models.AnafStatusOK}, nil

	case anaf.StatusNOK:
		message := status.ErrorMessage
		if message == "" {
			message = "submission rejected by the authority"
		}
		if err := c.documents.UpdateAnafStatus(doc.ID, models.AnafStatusNOK, &message); err != nil {
			return nil, err
		}
		c.logger.WithFields(logrus.Fields{
			"document_id": doc.ID,
			"reason":      message,
		}).Warn("Submission rejected by the authority")
		return &CheckOutcome{Done: true, Status: models.AnafStatusNOK}, nil
	}

	next := attempt + 1
	if next >= c.maxAttempts {
		message := timeoutMessage
		if err := c.documents.UpdateAnafStatus(doc.ID, models.AnafStatusPendingTimeout, &message); err != nil {
			return nil, err
		}
		c.logger.WithFields(logrus.Fields{
			"document_id": doc.ID,
			"attempts":    next,
		}).Warn("Submission polling timed out")
		return &CheckOutcome{Done: true, Status: models.AnafStatusPendingTimeout}, nil
	}

	return &CheckOutcome{
		Status:      models.AnafStatusUploaded,
		NextAttempt: next,
		NextDelay:   BackoffDelay(next),
	}, nil
}
