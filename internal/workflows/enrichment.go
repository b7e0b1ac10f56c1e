package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// EnrichFixInput identifies a stored fix that still lacks an address.
type EnrichFixInput struct {
	FixID     string
	EntityID  string
	Latitude  float64
	Longitude float64
}

// EnrichFixWorkflow resolves the address of a stored fix and writes it back.
// Geocoder outages are absorbed by the retry policy; the fix itself is never
// touched beyond its address.
func EnrichFixWorkflow(ctx workflow.Context, input EnrichFixInput) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting enrichment workflow", "fixID", input.FixID, "entityID", input.EntityID)

	actOpts := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Minute,
			MaximumAttempts:    10,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, actOpts)

	var address string
	err := workflow.ExecuteActivity(ctx, "ReverseGeocode", input.Latitude, input.Longitude).Get(ctx, &address)
	if err != nil {
		return err
	}
	if address == "" {
		logger.Info("No address for coordinate", "fixID", input.FixID)
		return nil
	}

	if err := workflow.ExecuteActivity(ctx, "SaveAddress", input.FixID, address).Get(ctx, nil); err != nil {
		return err
	}

	logger.Info("Fix enriched", "fixID", input.FixID)
	return nil
}
