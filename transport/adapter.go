package transport

import (
	"context"

	"github.com/consultnet/consultnet/types"
	"github.com/consultnet/consultnet/worker"
)

// remoteWorker presents one registered agent as a worker.Worker, so a host
// can enroll a transport-backed agent in a coordinator's routing alongside
// in-process workers.
type remoteWorker struct {
	client *Client
	name   string
}

// Worker returns a worker.Worker view of the named agent. Execute pins the
// task to that agent, so a routing decision made upstream carries through
// to the transport layer. Returns NOT_FOUND when the agent is not
// registered.
func (c *Client) Worker(name string) (worker.Worker, error) {
	c.mu.RLock()
	_, ok := c.nodes[name]
	c.mu.RUnlock()
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "agent not registered").WithWorker(name)
	}
	return &remoteWorker{client: c, name: name}, nil
}

func (w *remoteWorker) node() (*agentNode, bool) {
	w.client.mu.RLock()
	defer w.client.mu.RUnlock()
	node, ok := w.client.nodes[w.name]
	return node, ok
}

// Name implements worker.Worker.
func (w *remoteWorker) Name() string { return w.name }

// CanHandle consults the agent's own predicate for local agents. A remote
// agent's predicate is only reachable over the wire, so it stays capable
// while registered. A disconnected or removed agent handles nothing.
func (w *remoteWorker) CanHandle(desc *types.TaskDescription) bool {
	node, ok := w.node()
	if !ok {
		return false
	}
	return node.canHandle(desc)
}

// Execute implements worker.Worker by delegating to the client with the
// wrapped agent preferred, keeping the backoff re-enqueue and completion
// channel semantics of direct client calls.
func (w *remoteWorker) Execute(ctx context.Context, desc *types.TaskDescription) (*types.ExecutionResult, error) {
	return w.client.ExecuteTask(ctx, desc, Options{PreferredAgent: w.name})
}

// EstimateCost asks the wrapped worker when one exists. Remote agents only
// report cost with the execution result.
func (w *remoteWorker) EstimateCost(desc *types.TaskDescription) float64 {
	node, ok := w.node()
	if !ok || node.cfg.Worker == nil {
		return 0
	}
	return node.cfg.Worker.EstimateCost(desc)
}

var _ worker.Worker = (*remoteWorker)(nil)
