package transport

import (
	"context"

	"github.com/consultnet/consultnet/types"
	"github.com/consultnet/consultnet/worker"
)

// localConnector invokes an in-process worker directly. The connection step
// always succeeds and the agent is always considered healthy.
type localConnector struct {
	worker worker.Worker
}

func newLocalConnector(w worker.Worker) *localConnector {
	return &localConnector{worker: w}
}

func (c *localConnector) Connect(ctx context.Context) error { return nil }

func (c *localConnector) Execute(ctx context.Context, desc *types.TaskDescription) (*types.ExecutionResult, error) {
	return c.worker.Execute(ctx, desc)
}

func (c *localConnector) HealthCheck(ctx context.Context) error { return nil }

func (c *localConnector) Close() error { return nil }

var _ connector = (*localConnector)(nil)
