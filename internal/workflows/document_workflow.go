package workflows

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hypernova-labs/anaf-service/internal/models"
	"github.com/hypernova-labs/anaf-service/internal/services"
	"github.com/inngest/inngestgo"
	"github.com/inngest/inngestgo/step"
	"github.com/sirupsen/logrus"
)

// SubmitRequestedData is the payload of a submission request event.
type SubmitRequestedData struct {
	DocumentID string `json:"document_id"`
}

// StatusCheckData is the payload of a status poll event.
type StatusCheckData struct {
	DocumentID string `json:"document_id"`
	Attempt    int    `json:"attempt"`
}

// DocumentWorkflow runs submissions and status polls as durable Inngest
// functions.
type DocumentWorkflow struct {
	inngest    *InngestClient
	submission *services.SubmissionService
	checker    *services.StatusChecker
	logger     *logrus.Logger
}

// NewDocumentWorkflow creates a new instance of the workflow.
func NewDocumentWorkflow(inngest *InngestClient, submission *services.SubmissionService, checker *services.StatusChecker, logger *logrus.Logger) *DocumentWorkflow {
	return &DocumentWorkflow{
		inngest:    inngest,
		submission: submission,
		checker:    checker,
		logger:     logger,
	}
}

// SubmitDocument handles a submission request end to end. Polling is
// handed off to the status check function through an event.
func (w *DocumentWorkflow) SubmitDocument(ctx context.Context, input inngestgo.Input[SubmitRequestedData]) (any, error) {
	documentID, err := uuid.Parse(input.Event.Data.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("invalid document id %q: %w", input.Event.Data.DocumentID, err)
	}

	resp, err := step.Run(ctx, "submit-document", func(ctx context.Context) (*models.SubmitResponse, error) {
		return w.submission.Submit(ctx, documentID)
	})
	if err != nil {
		return nil, err
	}

	w.logger.WithFields(logrus.Fields{
		"document_id": documentID,
		"status":      resp.Status,
	}).Info("Submission workflow finished")

	return resp, nil
}

// CheckStatus performs one poll after its backoff wait and re-schedules
// itself while the authority has no verdict yet.
func (w *DocumentWorkflow) CheckStatus(ctx context.Context, input inngestgo.Input[StatusCheckData]) (any, error) {
	data := input.Event.Data
	documentID, err := uuid.Parse(data.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("invalid document id %q: %w", data.DocumentID, err)
	}

	step.Sleep(ctx, "wait-before-poll", services.BackoffDelay(data.Attempt))

	outcome, err := step.Run(ctx, "poll-status", func(ctx context.Context) (*services.CheckOutcome, error) {
		return w.checker.Check(ctx, documentID, data.Attempt)
	})
	if err != nil {
		return nil, err
	}

	if !outcome.Done {
		_, err := step.Run(ctx, "schedule-next-poll", func(ctx context.Context) (bool, error) {
			err := w.inngest.Publish(ctx, services.EventDocumentStatusCheck, map[string]interface{}{
				"document_id": documentID.String(),
				"attempt":     outcome.NextAttempt,
			})
			return err == nil, err
		})
		if err != nil {
			return nil, err
		}
	}

	return outcome, nil
}
