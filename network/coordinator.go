// Package network layers load-aware routing, health supervision, and an
// internal audit message bus on top of the worker registry.
package network

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/consultnet/consultnet/internal/metrics"
	"github.com/consultnet/consultnet/types"
	"github.com/consultnet/consultnet/worker"
)

// Config configures the coordinator.
type Config struct {
	// DefaultMaxLoad is the load ceiling for nodes registered without one
	// (default: 10).
	DefaultMaxLoad int `yaml:"default_max_load" json:"default_max_load"`

	// HealthCheckInterval is the health monitor tick (default: 5s).
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`

	// StaleThreshold is how long a node may go without a health check
	// before it is marked unhealthy (default: 60s).
	StaleThreshold time.Duration `yaml:"stale_threshold" json:"stale_threshold"`

	// DispatchInterval is the message dispatcher tick (default: 100ms).
	DispatchInterval time.Duration `yaml:"dispatch_interval" json:"dispatch_interval"`

	// DrainTimeout bounds the wait for in-flight load during
	// unregistration (default: 30s).
	DrainTimeout time.Duration `yaml:"drain_timeout" json:"drain_timeout"`
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		DefaultMaxLoad:      10,
		HealthCheckInterval: 5 * time.Second,
		StaleThreshold:      60 * time.Second,
		DispatchInterval:    100 * time.Millisecond,
		DrainTimeout:        30 * time.Second,
	}
}

// ExecuteOptions tunes a single ExecuteTask call.
type ExecuteOptions struct {
	// PreferredWorker is selected outright when present with spare
	// capacity, bypassing scoring.
	PreferredWorker string

	// RequiredCapabilities restricts candidates to nodes carrying every
	// listed tag.
	RequiredCapabilities []string

	// MaxRetries is the number of re-routed attempts after the first
	// failure.
	MaxRetries int

	// Timeout bounds each execution attempt. Zero means no bound.
	Timeout time.Duration
}

// TaskRoute is an append-only audit entry for one routing decision.
type TaskRoute struct {
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// NetworkStats aggregates coordinator state, computed on demand.
type NetworkStats struct {
	TotalWorkers    int     `json:"total_workers"`
	ActiveWorkers   int     `json:"active_workers"`
	TotalLoad       int     `json:"total_load"`
	TotalCapacity   int     `json:"total_capacity"`
	AvgSuccessRate  float64 `json:"avg_success_rate"`
	PendingMessages int     `json:"pending_messages"`
}

// Coordinator routes tasks to the best available worker node, supervises
// node health, and keeps an audit trail of routing decisions.
type Coordinator struct {
	registry  *worker.Registry
	bus       *EventBus
	config    Config
	logger    *zap.Logger
	collector *metrics.Collector

	mu    sync.RWMutex
	nodes map[string]*AgentNode

	msgMu    sync.Mutex
	messages []*Message

	routeMu sync.Mutex
	routes  map[string][]TaskRoute

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewCoordinator creates a coordinator over the given registry.
// The collector may be nil when metrics are not wanted.
func NewCoordinator(registry *worker.Registry, config Config, collector *metrics.Collector, logger *zap.Logger) *Coordinator {
	if config.DefaultMaxLoad <= 0 {
		config.DefaultMaxLoad = 10
	}
	if config.HealthCheckInterval <= 0 {
		config.HealthCheckInterval = 5 * time.Second
	}
	if config.StaleThreshold <= 0 {
		config.StaleThreshold = 60 * time.Second
	}
	if config.DispatchInterval <= 0 {
		config.DispatchInterval = 100 * time.Millisecond
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Coordinator{
		registry:  registry,
		bus:       NewEventBus(logger),
		config:    config,
		logger:    logger.With(zap.String("component", "network_coordinator")),
		collector: collector,
		nodes:     make(map[string]*AgentNode),
		routes:    make(map[string][]TaskRoute),
		stopCh:    make(chan struct{}),
	}
}

// Events returns the coordinator's event bus for host subscriptions.
func (c *Coordinator) Events() *EventBus { return c.bus }

// Start launches the health monitor and message dispatcher loops.
func (c *Coordinator) Start() {
	go c.healthLoop()
	go c.dispatchLoop()
	c.logger.Info("coordinator started",
		zap.Duration("health_interval", c.config.HealthCheckInterval),
		zap.Duration("dispatch_interval", c.config.DispatchInterval),
	)
}

// Stop terminates the background loops and announces shutdown.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		c.bus.Publish(Event{Type: EventNetworkShutdown})
		c.logger.Info("coordinator stopped")
	})
}

// RegisterAgent creates a worker node, forwards registration to the
// registry, and announces the new agent with a discovery broadcast.
func (c *Coordinator) RegisterAgent(w worker.Worker, capabilities []string, maxLoad int) error {
	if w == nil || w.Name() == "" {
		return types.NewError(types.ErrInvalidConfig, "worker must have a name")
	}
	if maxLoad <= 0 {
		maxLoad = c.config.DefaultMaxLoad
	}

	node := NewAgentNode(w, capabilities, maxLoad)

	c.mu.Lock()
	c.nodes[w.Name()] = node
	c.mu.Unlock()

	c.registry.Register(w)

	c.enqueueMessage(NewMessage(w.Name(), BroadcastRecipient, MessageTypeDiscovery, map[string]any{
		"capabilities": capabilities,
		"max_load":     maxLoad,
	}))

	c.bus.Publish(Event{Type: EventAgentRegistered, Worker: w.Name()})

	if c.collector != nil {
		c.collector.SetWorkerLoad(w.Name(), 0, maxLoad)
	}

	c.logger.Info("agent registered",
		zap.String("worker", w.Name()),
		zap.Strings("capabilities", capabilities),
		zap.Int("max_load", maxLoad),
	)

	return nil
}

// UnregisterAgent marks the node inactive, waits for in-flight load to
// drain, then removes it. Exceeding the drain timeout returns TIMEOUT and
// leaves the node inactive.
func (c *Coordinator) UnregisterAgent(name string) error {
	c.mu.RLock()
	node, ok := c.nodes[name]
	c.mu.RUnlock()
	if !ok {
		return types.NewError(types.ErrNotFound, "agent not registered").WithWorker(name)
	}

	node.SetStatus(NodeStatusInactive)

	if !node.WaitForDrain(c.config.DrainTimeout) {
		return types.NewError(types.ErrTimeout,
			fmt.Sprintf("agent still has %d in-flight tasks after drain timeout", node.CurrentLoad()),
		).WithWorker(name)
	}

	c.mu.Lock()
	delete(c.nodes, name)
	c.mu.Unlock()

	c.registry.Unregister(name)
	c.bus.Publish(Event{Type: EventAgentUnregistered, Worker: name})

	c.logger.Info("agent unregistered", zap.String("worker", name))
	return nil
}

// Node returns the node for a worker name.
func (c *Coordinator) Node(name string) (*AgentNode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	node, ok := c.nodes[name]
	return node, ok
}

func (c *Coordinator) nodeList() []*AgentNode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nodes := make([]*AgentNode, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}
	return nodes
}

// ExecuteTask routes the task to the best candidate node and executes it.
// Failures are retried up to opts.MaxRetries times; each retry re-enters
// the full selection algorithm, so a retry may fail over to a different
// node. Expected failures come back as a typed error alongside a failure
// result, never as a panic.
func (c *Coordinator) ExecuteTask(ctx context.Context, desc *types.TaskDescription, opts ExecuteOptions) (*types.ExecutionResult, error) {
	taskID := uuid.New().String()
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		node, reason, err := c.selectAndAcquire(desc, opts)
		if err != nil {
			c.bus.Publish(Event{Type: EventTaskFailed, TaskID: taskID, Error: err.Error()})
			return &types.ExecutionResult{Success: false, Error: err.Error()}, err
		}

		if attempt > 0 {
			reason = fmt.Sprintf("retry %d: %s", attempt, reason)
		}
		c.recordRoute(taskID, "coordinator", node.Name(), reason)

		res, err := c.executeOnce(ctx, node, desc, opts.Timeout)
		if err == nil {
			c.bus.Publish(Event{Type: EventTaskCompleted, Worker: node.Name(), TaskID: taskID})
			return res, nil
		}

		lastErr = err
		c.logger.Warn("task attempt failed",
			zap.String("task_id", taskID),
			zap.String("worker", node.Name()),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	c.bus.Publish(Event{Type: EventTaskFailed, TaskID: taskID, Error: lastErr.Error()})
	return &types.ExecutionResult{Success: false, Error: lastErr.Error()}, lastErr
}

// selectAndAcquire computes the candidate set, scores it, and reserves a
// load slot on the chosen node. The acquire happens inside selection so two
// concurrent callers cannot both claim the last slot.
func (c *Coordinator) selectAndAcquire(desc *types.TaskDescription, opts ExecuteOptions) (*AgentNode, string, error) {
	candidates := make([]*AgentNode, 0)
	for _, node := range c.nodeList() {
		status := node.Status()
		if status != NodeStatusActive && status != NodeStatusBusy {
			continue
		}
		if !node.Worker().CanHandle(desc) {
			continue
		}
		if !node.HasCapabilities(opts.RequiredCapabilities) {
			continue
		}
		candidates = append(candidates, node)
	}

	if len(candidates) == 0 {
		return nil, "", types.NewError(types.ErrNoCapableWorker, "no suitable agents for task")
	}

	// A preferred worker with spare capacity bypasses scoring.
	if opts.PreferredWorker != "" {
		for _, node := range candidates {
			if node.Name() == opts.PreferredWorker && node.Acquire() {
				return node, "preferred worker", nil
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score() < candidates[j].Score()
	})

	for _, node := range candidates {
		score := node.Score()
		if node.Acquire() {
			return node, fmt.Sprintf("score %.4f", score), nil
		}
	}

	return nil, "", types.NewError(types.ErrAtCapacity, "all capable agents at capacity")
}

// executeOnce runs one attempt against an acquired node. The load slot is
// released on every exit path, including timeout.
func (c *Coordinator) executeOnce(ctx context.Context, node *AgentNode, desc *types.TaskDescription, timeout time.Duration) (*types.ExecutionResult, error) {
	defer func() {
		node.Release()
		if c.collector != nil {
			c.collector.SetWorkerLoad(node.Name(), node.CurrentLoad(), node.MaxLoad())
		}
	}()

	if c.collector != nil {
		c.collector.SetWorkerLoad(node.Name(), node.CurrentLoad(), node.MaxLoad())
	}

	execCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type outcome struct {
		res *types.ExecutionResult
		err error
	}
	start := time.Now()
	ch := make(chan outcome, 1)
	go func() {
		res, err := node.Worker().Execute(execCtx, desc)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case out := <-ch:
		duration := time.Since(start)
		success := out.err == nil && out.res != nil && out.res.Success
		node.RecordExecution(duration, success)
		if c.collector != nil {
			status := "success"
			if !success {
				status = "error"
			}
			var cost float64
			if out.res != nil {
				cost = out.res.Cost
			}
			c.collector.RecordExecution(node.Name(), status, duration, cost)
		}

		if out.err != nil {
			return nil, types.NewError(types.ErrExecution, "worker execution failed").
				WithCause(out.err).WithWorker(node.Name()).WithRetryable(true)
		}
		if !out.res.Success {
			return out.res, types.NewError(types.ErrExecution, out.res.Error).
				WithWorker(node.Name()).WithRetryable(true)
		}
		return out.res, nil

	case <-execCtx.Done():
		// The transport call may still be running; the slot is freed
		// regardless so the node is not leaked into permanent busy.
		duration := time.Since(start)
		node.RecordExecution(duration, false)
		if c.collector != nil {
			c.collector.RecordExecution(node.Name(), "timeout", duration, 0)
		}
		return nil, types.NewError(types.ErrTimeout, "execution timed out").
			WithWorker(node.Name()).WithRetryable(true)
	}
}

// recordRoute appends an audit entry for a routing decision. Routes are
// never pruned automatically.
func (c *Coordinator) recordRoute(taskID, source, target, reason string) {
	c.routeMu.Lock()
	defer c.routeMu.Unlock()
	c.routes[taskID] = append(c.routes[taskID], TaskRoute{
		Source:    source,
		Target:    target,
		Reason:    reason,
		Timestamp: time.Now(),
	})
}

// Routes returns the routing audit trail for a task.
func (c *Coordinator) Routes(taskID string) []TaskRoute {
	c.routeMu.Lock()
	defer c.routeMu.Unlock()
	routes := make([]TaskRoute, len(c.routes[taskID]))
	copy(routes, c.routes[taskID])
	return routes
}

// ClearRoutes drops the audit trail for a task, or every trail when
// taskID is empty.
func (c *Coordinator) ClearRoutes(taskID string) {
	c.routeMu.Lock()
	defer c.routeMu.Unlock()
	if taskID == "" {
		c.routes = make(map[string][]TaskRoute)
		return
	}
	delete(c.routes, taskID)
}

// Stats aggregates coordinator state. Everything is computed on demand.
func (c *Coordinator) Stats() NetworkStats {
	stats := NetworkStats{PendingMessages: c.PendingMessages()}

	var rateSum float64
	for _, node := range c.nodeList() {
		stats.TotalWorkers++
		status := node.Status()
		if status == NodeStatusActive || status == NodeStatusBusy {
			stats.ActiveWorkers++
		}
		stats.TotalLoad += node.CurrentLoad()
		stats.TotalCapacity += node.MaxLoad()
		rateSum += node.Performance().SuccessRate
	}
	if stats.TotalWorkers > 0 {
		stats.AvgSuccessRate = rateSum / float64(stats.TotalWorkers)
	}
	return stats
}
