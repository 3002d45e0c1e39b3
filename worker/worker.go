// Package worker maintains the authoritative set of specialist workers and
// runs consultation tasks either inline or through a best-effort background
// queue.
package worker

import (
	"context"

	"github.com/consultnet/consultnet/types"
)

// Worker is the contract every specialist honors. The core treats workers
// as opaque capability-holders; how a worker computes its answer is its own
// business.
type Worker interface {
	// Name returns the worker's unique name within a registry.
	Name() string

	// CanHandle reports whether the worker can process the task.
	CanHandle(desc *types.TaskDescription) bool

	// Execute processes the task and returns enrichment data.
	Execute(ctx context.Context, desc *types.TaskDescription) (*types.ExecutionResult, error)

	// EstimateCost estimates the execution cost without executing.
	EstimateCost(desc *types.TaskDescription) float64
}

// FuncWorker adapts plain functions to the Worker interface. Nil fields get
// permissive defaults: handle everything, estimate zero cost.
type FuncWorker struct {
	// WorkerName is the unique worker name. Required.
	WorkerName string

	// Handles is the capability predicate. Nil accepts every task.
	Handles func(desc *types.TaskDescription) bool

	// Run is the execution function. Required.
	Run func(ctx context.Context, desc *types.TaskDescription) (*types.ExecutionResult, error)

	// Cost is the cost estimator. Nil estimates zero.
	Cost func(desc *types.TaskDescription) float64
}

// Name implements Worker.
func (w *FuncWorker) Name() string { return w.WorkerName }

// CanHandle implements Worker.
func (w *FuncWorker) CanHandle(desc *types.TaskDescription) bool {
	if w.Handles == nil {
		return true
	}
	return w.Handles(desc)
}

// Execute implements Worker.
func (w *FuncWorker) Execute(ctx context.Context, desc *types.TaskDescription) (*types.ExecutionResult, error) {
	return w.Run(ctx, desc)
}

// EstimateCost implements Worker.
func (w *FuncWorker) EstimateCost(desc *types.TaskDescription) float64 {
	if w.Cost == nil {
		return 0
	}
	return w.Cost(desc)
}

// Ensure FuncWorker implements Worker
var _ Worker = (*FuncWorker)(nil)
