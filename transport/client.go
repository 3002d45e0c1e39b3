package transport

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/consultnet/consultnet/network"
	"github.com/consultnet/consultnet/retry"
	"github.com/consultnet/consultnet/types"
)

// Config configures the transport client.
type Config struct {
	// DefaultTimeout bounds ExecuteTask calls that pass no timeout
	// (default: 50s).
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout"`

	// DrainTimeout bounds the in-flight wait during DisconnectAgent
	// (default: 30s).
	DrainTimeout time.Duration `yaml:"drain_timeout" json:"drain_timeout"`

	// Backoff is the retry schedule for failed executions. Nil uses the
	// default 1s, 2s, 4s... ladder capped at 10s.
	Backoff *retry.Policy `yaml:"-" json:"-"`
}

// DefaultClientConfig returns the default client configuration.
func DefaultClientConfig() Config {
	return Config{
		DefaultTimeout: 50 * time.Second,
		DrainTimeout:   30 * time.Second,
	}
}

// Options tunes a single ExecuteTask call.
type Options struct {
	PreferredAgent       string
	RequiredCapabilities []string
	Timeout              time.Duration
	MaxRetries           int
}

// Client routes tasks to configured agents over their transports. Failed
// executions are re-enqueued with exponential backoff instead of retried
// inline, so a waiting caller is never blocked by the backoff window.
type Client struct {
	config  Config
	backoff *retry.Policy
	logger  *zap.Logger
	bus     *network.EventBus

	mu    sync.RWMutex
	nodes map[string]*agentNode
}

// NewClient creates a transport client.
func NewClient(config Config, logger *zap.Logger) *Client {
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 50 * time.Second
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = 30 * time.Second
	}
	backoff := config.Backoff
	if backoff == nil {
		backoff = retry.DefaultPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		config:  config,
		backoff: backoff,
		logger:  logger.With(zap.String("component", "transport_client")),
		bus:     network.NewEventBus(logger),
		nodes:   make(map[string]*agentNode),
	}
}

// Events returns the client's event bus for host subscriptions.
func (c *Client) Events() *network.EventBus { return c.bus }

// RegisterAgent stores the agent and attempts to connect it. A failed
// connection leaves the agent in the error state and emits agent:error;
// it never fails the registration call itself.
func (c *Client) RegisterAgent(ctx context.Context, cfg AgentConfig) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	cfg.applyDefaults()

	var conn connector
	switch cfg.Kind {
	case KindLocal:
		conn = newLocalConnector(cfg.Worker)
	case KindHTTP:
		conn = newHTTPConnector(cfg)
	case KindSocket:
		conn = newSocketConnector(cfg)
	}

	node := newAgentNode(cfg, conn)

	c.mu.Lock()
	if old, ok := c.nodes[cfg.Name]; ok {
		old.stop()
		old.conn.Close()
	}
	c.nodes[cfg.Name] = node
	c.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := conn.Connect(connectCtx); err != nil {
		node.setStatus(NodeStatusError)
		c.bus.Publish(network.Event{
			Type:   network.EventAgentError,
			Worker: cfg.Name,
			Error:  err.Error(),
		})
		c.logger.Warn("agent connection failed",
			zap.String("agent", cfg.Name),
			zap.String("kind", string(cfg.Kind)),
			zap.Error(err),
		)
	} else {
		node.setStatus(NodeStatusConnected)
		node.touchHealth()
		c.bus.Publish(network.Event{Type: network.EventAgentRegistered, Worker: cfg.Name})
		c.logger.Info("agent connected",
			zap.String("agent", cfg.Name),
			zap.String("kind", string(cfg.Kind)),
		)
	}

	go c.healthLoop(node)
	return nil
}

// DisconnectAgent waits for the agent's in-flight load to drain, closes the
// transport, and removes the agent. Exceeding the drain timeout returns
// TIMEOUT and leaves the agent registered.
func (c *Client) DisconnectAgent(name string) error {
	c.mu.RLock()
	node, ok := c.nodes[name]
	c.mu.RUnlock()
	if !ok {
		return types.NewError(types.ErrNotFound, "agent not registered").WithWorker(name)
	}

	if !node.waitForDrain(c.config.DrainTimeout) {
		return types.NewError(types.ErrTimeout, "agent did not drain before timeout").WithWorker(name)
	}

	node.stop()
	node.conn.Close()

	c.mu.Lock()
	delete(c.nodes, name)
	c.mu.Unlock()

	c.bus.Publish(network.Event{Type: network.EventAgentUnregistered, Worker: name})
	c.logger.Info("agent disconnected", zap.String("agent", name))
	return nil
}

// AgentStatus reports the connection status of an agent.
func (c *Client) AgentStatus(name string) (NodeStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	node, ok := c.nodes[name]
	if !ok {
		return "", false
	}
	return node.Status(), true
}

// Agents returns the configured agent names.
func (c *Client) Agents() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.nodes))
	for name := range c.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close disconnects every agent without waiting for load to drain.
func (c *Client) Close() {
	c.mu.Lock()
	nodes := c.nodes
	c.nodes = make(map[string]*agentNode)
	c.mu.Unlock()

	for _, node := range nodes {
		node.stop()
		node.conn.Close()
	}
	c.bus.Stop()
}

// taskOutcome is the terminal result of one submitted task.
type taskOutcome struct {
	res *types.ExecutionResult
	err error
}

// pendingExec tracks a task across backoff re-enqueues. The done channel is
// buffered so a late completion never blocks after the caller timed out.
type pendingExec struct {
	desc *types.TaskDescription
	opts Options
	done chan taskOutcome
	once sync.Once
}

func (p *pendingExec) complete(res *types.ExecutionResult, err error) {
	p.once.Do(func() {
		p.done <- taskOutcome{res: res, err: err}
	})
}

// ExecuteTask routes the task to the best connected agent. The caller waits
// on a completion channel bounded by the timeout; retries happen in the
// background on the backoff schedule and complete the same channel.
func (c *Client) ExecuteTask(ctx context.Context, desc *types.TaskDescription, opts Options) (*types.ExecutionResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.config.DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	task := &pendingExec{desc: desc, opts: opts, done: make(chan taskOutcome, 1)}
	go c.runAttempt(task, 0)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-task.done:
		return out.res, out.err
	case <-timer.C:
		err := types.NewError(types.ErrTimeout, "task did not complete before timeout")
		return &types.ExecutionResult{Success: false, Error: err.Error()}, err
	case <-ctx.Done():
		err := types.NewError(types.ErrTimeout, "task cancelled").WithCause(ctx.Err())
		return &types.ExecutionResult{Success: false, Error: err.Error()}, err
	}
}

func (c *Client) runAttempt(task *pendingExec, attempt int) {
	node, err := c.selectAndAcquire(task.desc, task.opts)
	if err != nil {
		task.complete(&types.ExecutionResult{Success: false, Error: err.Error()}, err)
		return
	}

	res, execErr := c.execute(node, task.desc)
	if execErr == nil {
		task.complete(res, nil)
		return
	}

	if attempt >= task.opts.MaxRetries {
		c.bus.Publish(network.Event{Type: network.EventTaskFailed, Worker: node.Name(), Error: execErr.Error()})
		failure := res
		if failure == nil {
			failure = &types.ExecutionResult{Success: false, Error: execErr.Error()}
		}
		task.complete(failure, execErr)
		return
	}

	// Re-enqueue on the backoff schedule rather than sleeping inline.
	delay := c.backoff.Delay(attempt + 1)
	c.logger.Debug("re-enqueueing failed task",
		zap.String("agent", node.Name()),
		zap.Int("attempt", attempt+1),
		zap.Duration("delay", delay),
		zap.Error(execErr),
	)
	time.AfterFunc(delay, func() {
		c.runAttempt(task, attempt+1)
	})
}

// execute runs one attempt against an acquired node. The load slot is
// released on every exit path.
func (c *Client) execute(node *agentNode, desc *types.TaskDescription) (*types.ExecutionResult, error) {
	defer node.release()

	callCtx, cancel := context.WithTimeout(context.Background(), node.cfg.Timeout)
	defer cancel()

	start := time.Now()
	res, err := node.conn.Execute(callCtx, desc)
	duration := time.Since(start)

	success := err == nil && res != nil && res.Success
	node.recordExecution(duration, success)

	if err != nil {
		return nil, types.NewError(types.ErrTransport, "transport execution failed").
			WithCause(err).WithWorker(node.Name()).WithRetryable(true)
	}
	if !res.Success {
		return res, types.NewError(types.ErrExecution, res.Error).
			WithWorker(node.Name()).WithRetryable(true)
	}
	return res, nil
}

// selectAndAcquire filters to connected capable agents, scores them, and
// reserves a load slot on the winner.
func (c *Client) selectAndAcquire(desc *types.TaskDescription, opts Options) (*agentNode, error) {
	c.mu.RLock()
	all := make([]*agentNode, 0, len(c.nodes))
	for _, node := range c.nodes {
		all = append(all, node)
	}
	c.mu.RUnlock()

	candidates := make([]*agentNode, 0, len(all))
	for _, node := range all {
		if node.Status() != NodeStatusConnected {
			continue
		}
		if !node.canHandle(desc) {
			continue
		}
		if !node.hasCapabilities(opts.RequiredCapabilities) {
			continue
		}
		candidates = append(candidates, node)
	}

	if len(candidates) == 0 {
		return nil, types.NewError(types.ErrNoCapableWorker, "no connected agents for task")
	}

	if opts.PreferredAgent != "" {
		for _, node := range candidates {
			if node.Name() == opts.PreferredAgent && node.acquire() {
				return node, nil
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].score() < candidates[j].score()
	})

	for _, node := range candidates {
		if node.acquire() {
			return node, nil
		}
	}

	return nil, types.NewError(types.ErrAtCapacity, "all connected agents at capacity")
}

// HealthCheckAll probes every registered agent concurrently and returns the
// per-agent outcome. Hosts use this for readiness checks; it does not change
// agent status, the per-agent health loops own that.
func (c *Client) HealthCheckAll(ctx context.Context) map[string]error {
	c.mu.RLock()
	nodes := make([]*agentNode, 0, len(c.nodes))
	for _, node := range c.nodes {
		nodes = append(nodes, node)
	}
	c.mu.RUnlock()

	var resMu sync.Mutex
	results := make(map[string]error, len(nodes))

	g, probeCtx := errgroup.WithContext(ctx)
	for _, node := range nodes {
		n := node
		g.Go(func() error {
			err := n.conn.HealthCheck(probeCtx)
			resMu.Lock()
			results[n.Name()] = err
			resMu.Unlock()
			// Individual failures are reported, not propagated.
			return nil
		})
	}
	g.Wait()
	return results
}

// healthLoop probes one agent on its configured interval. An errored agent
// gets a reconnect attempt before the next probe.
func (c *Client) healthLoop(node *agentNode) {
	ticker := time.NewTicker(node.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.probe(node)
		case <-node.stopHealth:
			return
		}
	}
}

func (c *Client) probe(node *agentNode) {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if node.Status() == NodeStatusError {
		if err := node.conn.Connect(ctx); err != nil {
			return
		}
		node.setStatus(NodeStatusConnected)
		node.touchHealth()
		c.bus.Publish(network.Event{Type: network.EventAgentRecovered, Worker: node.Name()})
		c.logger.Info("agent reconnected", zap.String("agent", node.Name()))
		return
	}

	if err := node.conn.HealthCheck(ctx); err != nil {
		node.setStatus(NodeStatusError)
		c.bus.Publish(network.Event{
			Type:   network.EventAgentUnhealthy,
			Worker: node.Name(),
			Error:  err.Error(),
		})
		c.logger.Warn("agent health check failed",
			zap.String("agent", node.Name()),
			zap.Error(err),
		)
		return
	}
	node.touchHealth()
}
