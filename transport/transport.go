// Package transport lets a specialist worker be reached over in-process
// invocation, HTTP request/response, or a persistent websocket, while
// presenting the coordinator's execution contract for all three.
package transport

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/consultnet/consultnet/types"
	"github.com/consultnet/consultnet/worker"
)

// Kind selects the physical transport for an agent.
type Kind string

const (
	// KindLocal invokes the worker's execute function directly.
	KindLocal Kind = "local"
	// KindHTTP probes a health path and posts tasks to an execute path.
	KindHTTP Kind = "http"
	// KindSocket keeps a persistent bidirectional websocket open.
	KindSocket Kind = "socket"
)

// NodeStatus is the connection lifecycle of a transport-held agent.
type NodeStatus string

const (
	NodeStatusDisconnected NodeStatus = "disconnected"
	NodeStatusConnected    NodeStatus = "connected"
	NodeStatusError        NodeStatus = "error"
)

// AgentConfig describes one remote or in-process agent.
type AgentConfig struct {
	// Name is the unique agent name. Required.
	Name string `yaml:"name" json:"name"`

	// Kind selects the transport. Required.
	Kind Kind `yaml:"kind" json:"kind"`

	// Worker is the in-process implementation. Required for KindLocal.
	Worker worker.Worker `yaml:"-" json:"-"`

	// Endpoint is the base URL (http) or websocket URL (socket).
	// Required for KindHTTP and KindSocket.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Headers are attached to every outbound request.
	Headers map[string]string `yaml:"headers" json:"headers,omitempty"`

	// Capabilities are the agent's advertised capability tags.
	Capabilities []string `yaml:"capabilities" json:"capabilities,omitempty"`

	// MaxLoad is the concurrent task ceiling (default: 10).
	MaxLoad int `yaml:"max_load" json:"max_load"`

	// Timeout bounds each transport call (default: 50s).
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// HealthInterval is the per-agent health probe interval (default: 30s).
	HealthInterval time.Duration `yaml:"health_interval" json:"health_interval"`
}

func (c *AgentConfig) applyDefaults() {
	if c.MaxLoad <= 0 {
		c.MaxLoad = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 50 * time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
}

func (c *AgentConfig) validate() error {
	if c.Name == "" {
		return types.NewError(types.ErrInvalidConfig, "agent name is required")
	}
	switch c.Kind {
	case KindLocal:
		if c.Worker == nil {
			return types.NewError(types.ErrInvalidConfig, "local agent requires a worker").WithWorker(c.Name)
		}
	case KindHTTP, KindSocket:
		if c.Endpoint == "" {
			return types.NewError(types.ErrInvalidConfig, "remote agent requires an endpoint").WithWorker(c.Name)
		}
	default:
		return types.NewError(types.ErrInvalidConfig, "unknown transport kind").WithWorker(c.Name)
	}
	return nil
}

// connector is the transport-specific half of an agent node.
type connector interface {
	// Connect establishes or verifies reachability.
	Connect(ctx context.Context) error

	// Execute runs one task over the transport.
	Execute(ctx context.Context, desc *types.TaskDescription) (*types.ExecutionResult, error)

	// HealthCheck verifies the agent is still reachable.
	HealthCheck(ctx context.Context) error

	// Close tears down the connection.
	Close() error
}

// perfRecord mirrors the coordinator's per-node performance accounting.
type perfRecord struct {
	totalExecutions int64
	errorCount      int64
	successRate     float64
	avgExecution    time.Duration
}

// agentNode is the client's bookkeeping for one configured agent.
type agentNode struct {
	cfg  AgentConfig
	conn connector

	mu          sync.Mutex
	drained     *sync.Cond
	status      NodeStatus
	currentLoad int
	lastHealth  time.Time
	perf        perfRecord

	stopHealth chan struct{}
	stopOnce   sync.Once
}

func newAgentNode(cfg AgentConfig, conn connector) *agentNode {
	n := &agentNode{
		cfg:        cfg,
		conn:       conn,
		status:     NodeStatusDisconnected,
		stopHealth: make(chan struct{}),
		perf:       perfRecord{successRate: 1.0},
	}
	n.drained = sync.NewCond(&n.mu)
	return n
}

func (n *agentNode) Name() string { return n.cfg.Name }

func (n *agentNode) Status() NodeStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *agentNode) setStatus(status NodeStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = status
}

func (n *agentNode) touchHealth() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastHealth = time.Now()
}

func (n *agentNode) CurrentLoad() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentLoad
}

func (n *agentNode) hasCapabilities(required []string) bool {
	tags := make(map[string]struct{}, len(n.cfg.Capabilities))
	for _, c := range n.cfg.Capabilities {
		tags[c] = struct{}{}
	}
	for _, r := range required {
		if _, ok := tags[r]; !ok {
			return false
		}
	}
	return true
}

// canHandle consults the wrapped worker for local agents; remote agents are
// assumed capable since their predicate is unreachable from here.
func (n *agentNode) canHandle(desc *types.TaskDescription) bool {
	if n.cfg.Kind == KindLocal && n.cfg.Worker != nil {
		return n.cfg.Worker.CanHandle(desc)
	}
	return true
}

// acquire reserves one load slot on a connected node.
func (n *agentNode) acquire() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.status != NodeStatusConnected || n.currentLoad >= n.cfg.MaxLoad {
		return false
	}
	n.currentLoad++
	return true
}

func (n *agentNode) release() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.currentLoad > 0 {
		n.currentLoad--
	}
	if n.currentLoad == 0 {
		n.drained.Broadcast()
	}
}

// waitForDrain blocks until in-flight load reaches zero or the timeout
// fires. Returns false on timeout.
func (n *agentNode) waitForDrain(timeout time.Duration) bool {
	expired := false
	timer := time.AfterFunc(timeout, func() {
		n.mu.Lock()
		expired = true
		n.mu.Unlock()
		n.drained.Broadcast()
	})
	defer timer.Stop()

	n.mu.Lock()
	defer n.mu.Unlock()
	for n.currentLoad > 0 && !expired {
		n.drained.Wait()
	}
	return n.currentLoad == 0
}

func (n *agentNode) recordExecution(duration time.Duration, success bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.perf.totalExecutions++
	if !success {
		n.perf.errorCount++
	}
	n.perf.successRate = float64(n.perf.totalExecutions-n.perf.errorCount) / float64(n.perf.totalExecutions)
	total := n.perf.totalExecutions
	n.perf.avgExecution = time.Duration(
		(int64(n.perf.avgExecution)*(total-1) + int64(duration)) / total,
	)
}

// score uses the coordinator's weighting so a host mixing both routing
// layers sees consistent preferences.
func (n *agentNode) score() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	loadFactor := float64(n.currentLoad) / float64(n.cfg.MaxLoad)
	failureFactor := 1.0 - n.perf.successRate
	timeFactor := math.Min(float64(n.perf.avgExecution.Milliseconds())/10000.0, 1e6)

	return 0.5*loadFactor + 0.3*failureFactor + 0.2*timeFactor
}

func (n *agentNode) stop() {
	n.stopOnce.Do(func() {
		close(n.stopHealth)
	})
}
