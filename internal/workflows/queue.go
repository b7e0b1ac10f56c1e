package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"

	"github.com/samirrijal/pathkeeper/internal/core/domain"
)

// Queue implements ports.EnrichmentQueue by starting EnrichFixWorkflow runs.
type Queue struct {
	client    client.Client
	taskQueue string
}

func NewQueue(c client.Client, taskQueue string) *Queue {
	return &Queue{client: c, taskQueue: taskQueue}
}

// EnqueueEnrichment starts one workflow per fix; the workflow ID makes
// repeated requests for the same fix collapse into one run.
func (q *Queue) EnqueueEnrichment(ctx context.Context, fix domain.Fix) error {
	opts := client.StartWorkflowOptions{
		ID:        "enrich-" + fix.ID,
		TaskQueue: q.taskQueue,
	}
	input := EnrichFixInput{
		FixID:     fix.ID,
		EntityID:  fix.EntityID,
		Latitude:  fix.Latitude,
		Longitude: fix.Longitude,
	}
	if _, err := q.client.ExecuteWorkflow(ctx, opts, EnrichFixWorkflow, input); err != nil {
		return fmt.Errorf("start enrichment workflow: %w", err)
	}
	return nil
}
