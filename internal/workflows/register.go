package workflows

import (
	"fmt"

	"github.com/hypernova-labs/anaf-service/internal/services"
	"github.com/inngest/inngestgo"
)

// nightlySyncCron runs after the authority's own nightly processing.
const nightlySyncCron = "TZ=Europe/Bucharest 0 3 * * *"

// RegisterWorkflows binds every workflow function to its trigger.
func (c *InngestClient) RegisterWorkflows(documents *DocumentWorkflow, sync *SyncWorkflow) error {
	_, err := inngestgo.CreateFunction(
		c.client,
		inngestgo.FunctionOpts{ID: "document-submit", Name: "Submit document"},
		inngestgo.EventTrigger(services.EventDocumentSubmitRequested, nil),
		documents.SubmitDocument,
	)
	if err != nil {
		return fmt.Errorf("error registering submit function: %w", err)
	}

	_, err = inngestgo.CreateFunction(
		c.client,
		inngestgo.FunctionOpts{ID: "document-status-check", Name: "Check submission status"},
		inngestgo.EventTrigger(services.EventDocumentStatusCheck, nil),
		documents.CheckStatus,
	)
	if err != nil {
		return fmt.Errorf("error registering status check function: %w", err)
	}

	_, err = inngestgo.CreateFunction(
		c.client,
		inngestgo.FunctionOpts{ID: "company-sync", Name: "Sync company inbox"},
		inngestgo.EventTrigger(services.EventCompanySyncRequested, nil),
		sync.SyncCompany,
	)
	if err != nil {
		return fmt.Errorf("error registering sync function: %w", err)
	}

	_, err = inngestgo.CreateFunction(
		c.client,
		inngestgo.FunctionOpts{ID: "nightly-sync", Name: "Nightly inbox sync"},
		inngestgo.CronTrigger(nightlySyncCron),
		sync.NightlySync,
	)
	if err != nil {
		return fmt.Errorf("error registering nightly sync function: %w", err)
	}

	c.logger.Info("Workflows registered with Inngest")
	return nil
}
