package workflows

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hypernova-labs/anaf-service/internal/config"
	"github.com/inngest/inngestgo"
	"github.com/sirupsen/logrus"
)

// InngestClient wraps the Inngest SDK client: it publishes events and
// serves the registered workflow functions.
type InngestClient struct {
	client inngestgo.Client
	logger *logrus.Logger
}

// NewInngestClient creates a new instance of the client.
func NewInngestClient(cfg *config.Config, logger *logrus.Logger) (*InngestClient, error) {
	if !cfg.Inngest.Dev {
		if cfg.Inngest.EventKey == "" {
			return nil, fmt.Errorf("INNGEST_EVENT_KEY not configured")
		}
		if cfg.Inngest.SigningKey == "" {
			return nil, fmt.Errorf("INNGEST_SIGNING_KEY not configured")
		}
	}

	opts := inngestgo.ClientOpts{
		AppID: cfg.Inngest.AppID,
	}
	if cfg.Inngest.EventKey != "" {
		opts.EventKey = &cfg.Inngest.EventKey
	}
	if cfg.Inngest.SigningKey != "" {
		opts.SigningKey = &cfg.Inngest.SigningKey
	}
	if cfg.Inngest.Dev {
		opts.Dev = inngestgo.BoolPtr(true)
	}

	client, err := inngestgo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("error creating Inngest client: %w", err)
	}

	return &InngestClient{
		client: client,
		logger: logger,
	}, nil
}

// Publish sends one event to Inngest.
func (c *InngestClient) Publish(ctx context.Context, name string, data map[string]interface{}) error {
	_, err := c.client.Send(ctx, inngestgo.Event{
		Name: name,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("error sending event %s: %w", name, err)
	}
	return nil
}

// Handler returns the HTTP handler serving the registered functions.
func (c *InngestClient) Handler() http.Handler {
	return c.client.Serve()
}

// GetClient returns the underlying Inngest client.
func (c *InngestClient) GetClient() inngestgo.Client {
	return c.client
}
