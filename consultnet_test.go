package consultnet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/consultnet/consultnet/network"
	"github.com/consultnet/consultnet/types"
	"github.com/consultnet/consultnet/worker"
)

func TestCore_EndToEnd(t *testing.T) {
	core := New(WithLogger(zap.NewNop()))
	defer core.Stop()

	core.Registry.Register(&worker.FuncWorker{
		WorkerName: "tax",
		Run: func(ctx context.Context, desc *types.TaskDescription) (*types.ExecutionResult, error) {
			return &types.ExecutionResult{
				Success:     true,
				Enrichments: []types.Enrichment{{Kind: "answer", Content: "42"}},
			}, nil
		},
	})

	require.NoError(t, core.Coordinator.RegisterAgent(
		mustGet(t, core.Registry, "tax"), []string{"tax"}, 5))

	// Inline consultation through the registry.
	inline := core.Registry.RunInline(context.Background(), &types.TaskDescription{Question: "q"})
	require.Empty(t, inline.Errors)
	assert.Len(t, inline.Enrichments, 1)

	// Routed execution through the coordinator.
	res, err := core.Coordinator.ExecuteTask(context.Background(),
		&types.TaskDescription{Question: "q"}, network.ExecuteOptions{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "42", res.Enrichments[0].Content)
}

func mustGet(t *testing.T, r *worker.Registry, name string) worker.Worker {
	t.Helper()
	w, ok := r.Get(name)
	require.True(t, ok)
	return w
}

func TestCore_QueueRoundTrip(t *testing.T) {
	core := New()
	defer core.Stop()

	core.Registry.Register(&worker.FuncWorker{
		WorkerName: "echo",
		Run: func(ctx context.Context, desc *types.TaskDescription) (*types.ExecutionResult, error) {
			return &types.ExecutionResult{Success: true}, nil
		},
	})

	ctx := context.Background()
	id, err := core.Queue.Enqueue(ctx, "echo", &types.TaskDescription{Question: "q"})
	require.NoError(t, err)

	core.Queue.ProcessNext(ctx)

	task, err := core.Queue.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, task.Status)
	assert.NotNil(t, task.CompletedAt)
	assert.Less(t, task.Duration(), time.Second)
}
