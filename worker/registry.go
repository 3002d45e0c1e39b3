package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/consultnet/consultnet/types"
)

// Registry holds the authoritative list of registered workers.
// Registration order is preserved so inline runs are deterministic.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]Worker
	order   []string
	logger  *zap.Logger
}

// NewRegistry creates a new worker registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		workers: make(map[string]Worker),
		logger:  logger.With(zap.String("component", "worker_registry")),
	}
}

// Register adds or replaces a worker by name. Re-registering an existing
// name overwrites the previous worker and keeps its position.
func (r *Registry) Register(w Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[w.Name()]; !exists {
		r.order = append(r.order, w.Name())
	}
	r.workers[w.Name()] = w

	r.logger.Info("worker registered", zap.String("worker", w.Name()))
}

// Unregister removes a worker. Absent names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[name]; !exists {
		return
	}

	delete(r.workers, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	r.logger.Info("worker unregistered", zap.String("worker", name))
}

// Get returns the worker with the given name.
func (r *Registry) Get(name string) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	w, ok := r.workers[name]
	return w, ok
}

// List returns all workers in registration order.
func (r *Registry) List() []Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	workers := make([]Worker, 0, len(r.order))
	for _, name := range r.order {
		workers = append(workers, r.workers[name])
	}
	return workers
}

// Count returns the number of registered workers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}

// FindCapable filters registered workers by their capability predicate,
// in registration order.
func (r *Registry) FindCapable(desc *types.TaskDescription) []Worker {
	capable := make([]Worker, 0)
	for _, w := range r.List() {
		if w.CanHandle(desc) {
			capable = append(capable, w)
		}
	}
	return capable
}

// InlineResult aggregates the outcome of an inline run across workers.
type InlineResult struct {
	// Enrichments accumulates every worker's enrichments in execution order.
	Enrichments []types.Enrichment `json:"enrichments"`

	// TotalCost sums the reported cost across workers.
	TotalCost float64 `json:"total_cost"`

	// Errors maps worker name to its failure message. A failing worker
	// never aborts its siblings.
	Errors map[string]string `json:"errors,omitempty"`
}

// selectWorkers resolves an explicit name list, or falls back to capability
// filtering when the list is empty. Unknown names are skipped.
func (r *Registry) selectWorkers(desc *types.TaskDescription, names []string) []Worker {
	if len(names) == 0 {
		return r.FindCapable(desc)
	}

	selected := make([]Worker, 0, len(names))
	for _, name := range names {
		if w, ok := r.Get(name); ok {
			selected = append(selected, w)
		}
	}
	return selected
}

// RunInline executes every selected worker sequentially, in selection order,
// collecting enrichments and cost. Workers run one at a time on purpose:
// the accumulation order of enrichments is part of the contract.
func (r *Registry) RunInline(ctx context.Context, desc *types.TaskDescription, names ...string) *InlineResult {
	result := &InlineResult{Errors: make(map[string]string)}

	for _, w := range r.selectWorkers(desc, names) {
		res, err := w.Execute(ctx, desc)
		if err != nil {
			r.logger.Warn("inline worker failed",
				zap.String("worker", w.Name()),
				zap.Error(err),
			)
			result.Errors[w.Name()] = err.Error()
			continue
		}
		if !res.Success {
			result.Errors[w.Name()] = res.Error
			continue
		}

		result.Enrichments = append(result.Enrichments, res.Enrichments...)
		result.TotalCost += res.Cost
	}

	return result
}

// EstimateCost sums EstimateCost over the selected workers without
// executing them.
func (r *Registry) EstimateCost(desc *types.TaskDescription, names ...string) float64 {
	var total float64
	for _, w := range r.selectWorkers(desc, names) {
		total += w.EstimateCost(desc)
	}
	return total
}
