package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/consultnet/consultnet/network"
	"github.com/consultnet/consultnet/types"
	"github.com/consultnet/consultnet/worker"
)

func TestClient_WorkerUnknownAgent(t *testing.T) {
	c := newTestClient(t, DefaultClientConfig())

	_, err := c.Worker("ghost")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.GetErrorCode(err))
}

func TestClient_WorkerDelegatesToLocalAgent(t *testing.T) {
	c := newTestClient(t, DefaultClientConfig())

	cfg := localAgent("tax", &worker.FuncWorker{
		WorkerName: "tax",
		Handles: func(desc *types.TaskDescription) bool {
			return desc.Question != "quantum"
		},
		Run: func(ctx context.Context, desc *types.TaskDescription) (*types.ExecutionResult, error) {
			return &types.ExecutionResult{Success: true}, nil
		},
		Cost: func(desc *types.TaskDescription) float64 { return 1.5 },
	})
	require.NoError(t, c.RegisterAgent(context.Background(), cfg))

	w, err := c.Worker("tax")
	require.NoError(t, err)

	assert.Equal(t, "tax", w.Name())
	assert.True(t, w.CanHandle(&types.TaskDescription{Question: "vat"}))
	assert.False(t, w.CanHandle(&types.TaskDescription{Question: "quantum"}))
	assert.Equal(t, 1.5, w.EstimateCost(&types.TaskDescription{Question: "vat"}))

	require.NoError(t, c.DisconnectAgent("tax"))
	assert.False(t, w.CanHandle(&types.TaskDescription{Question: "vat"}))
	assert.Equal(t, 0.0, w.EstimateCost(&types.TaskDescription{Question: "vat"}))
}

func TestCoordinator_RoutesToTransportAgent(t *testing.T) {
	srv := specialistServer(t, func(req executeRequest) any {
		return executeResponse{
			Success:     true,
			Cost:        0.4,
			Enrichments: []types.Enrichment{{Kind: "answer", Title: "remote", Content: "answer to " + req.Question}},
		}
	})

	c := newTestClient(t, DefaultClientConfig())
	require.NoError(t, c.RegisterAgent(context.Background(), AgentConfig{
		Name:         "remote",
		Kind:         KindHTTP,
		Endpoint:     srv.URL,
		Capabilities: []string{"tax"},
	}))

	w, err := c.Worker("remote")
	require.NoError(t, err)

	coord := network.NewCoordinator(worker.NewRegistry(zap.NewNop()), network.DefaultConfig(), nil, zap.NewNop())
	t.Cleanup(coord.Stop)
	require.NoError(t, coord.RegisterAgent(w, []string{"tax"}, 5))

	res, err := coord.ExecuteTask(context.Background(), &types.TaskDescription{Question: "vat rate"},
		network.ExecuteOptions{RequiredCapabilities: []string{"tax"}})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "answer to vat rate", res.Enrichments[0].Content)
	assert.Equal(t, 0.4, res.Cost)

	// The coordinator's node bookkeeping saw the remote execution.
	node, ok := coord.Node("remote")
	require.True(t, ok)
	assert.Equal(t, int64(1), node.Performance().TotalExecutions)
}
