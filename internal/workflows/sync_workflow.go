package workflows

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hypernova-labs/anaf-service/internal/database"
	"github.com/hypernova-labs/anaf-service/internal/models"
	"github.com/hypernova-labs/anaf-service/internal/services"
	"github.com/inngest/inngestgo"
	"github.com/inngest/inngestgo/step"
	"github.com/sirupsen/logrus"
)

// SyncRequestedData is the payload of a reconciliation request event.
type SyncRequestedData struct {
	CompanyID string `json:"company_id"`
}

// SyncWorkflow runs inbox reconciliation on demand and on a nightly
// schedule.
type SyncWorkflow struct {
	inngest   *InngestClient
	sync      *services.SyncService
	companies *database.CompanyRepository
	logger    *logrus.Logger
}

// NewSyncWorkflow creates a new instance of the workflow.
func NewSyncWorkflow(inngest *InngestClient, sync *services.SyncService, companies *database.CompanyRepository, logger *logrus.Logger) *SyncWorkflow {
	return &SyncWorkflow{
		inngest:   inngest,
		sync:      sync,
		companies: companies,
		logger:    logger,
	}
}

// SyncCompany reconciles one tenant's inbox.
func (w *SyncWorkflow) SyncCompany(ctx context.Context, input inngestgo.Input[SyncRequestedData]) (any, error) {
	companyID, err := uuid.Parse(input.Event.Data.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("invalid company id %q: %w", input.Event.Data.CompanyID, err)
	}

	result, err := step.Run(ctx, "run-sync", func(ctx context.Context) (*models.SyncResult, error) {
		return w.sync.Run(ctx, companyID)
	})
	if err != nil {
		return nil, err
	}

	w.logger.WithFields(logrus.Fields{
		"company_id":   companyID,
		"new_invoices": result.NewInvoices,
		"errors":       len(result.Errors),
	}).Info("Sync workflow finished")

	return result, nil
}

// NightlySync fans one sync request out per tenant.
func (w *SyncWorkflow) NightlySync(ctx context.Context, input inngestgo.Input[any]) (any, error) {
	companies, err := step.Run(ctx, "list-companies", func(ctx context.Context) ([]models.Company, error) {
		return w.companies.ListAll()
	})
	if err != nil {
		return nil, err
	}

	scheduled, err := step.Run(ctx, "schedule-syncs", func(ctx context.Context) (int, error) {
		count := 0
		for _, company := range companies {
			err := w.inngest.Publish(ctx, services.EventCompanySyncRequested, map[string]interface{}{
				"company_id": company.ID.String(),
			})
			if err != nil {
				w.logger.Warnf("Could not schedule sync for %s: %v", company.ID, err)
				continue
			}
			count++
		}
		return count, nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.WithField("companies", scheduled).Info("Nightly sync scheduled")
	return scheduled, nil
}
