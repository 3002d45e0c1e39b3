// Package consultnet provides a top-level convenience entry point that wires
// the worker registry, background queue, and network coordinator together
// with minimal boilerplate.
//
// Usage:
//
//	import "github.com/consultnet/consultnet"
//
//	core := consultnet.New(consultnet.WithLogger(logger))
//	core.Registry.Register(myWorker)
//	core.Start()
//	defer core.Stop()
//
// Hosts needing finer control can construct the packages directly; New only
// saves the wiring.
package consultnet

import (
	"go.uber.org/zap"

	"github.com/consultnet/consultnet/internal/metrics"
	"github.com/consultnet/consultnet/network"
	"github.com/consultnet/consultnet/taskstore"
	"github.com/consultnet/consultnet/worker"
)

// Core bundles the coordination components over one shared registry.
type Core struct {
	Registry    *worker.Registry
	Queue       *worker.Queue
	Coordinator *network.Coordinator
	Store       taskstore.Store

	logger *zap.Logger
}

type options struct {
	logger     *zap.Logger
	store      taskstore.Store
	queueCfg   worker.QueueConfig
	networkCfg network.Config
	collector  *metrics.Collector
}

// Option configures the core created by [New].
type Option func(*options)

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithStore sets the task persistence backend. Defaults to in-memory.
func WithStore(store taskstore.Store) Option {
	return func(o *options) { o.store = store }
}

// WithQueueConfig overrides the background queue configuration.
func WithQueueConfig(cfg worker.QueueConfig) Option {
	return func(o *options) { o.queueCfg = cfg }
}

// WithNetworkConfig overrides the coordinator configuration.
func WithNetworkConfig(cfg network.Config) Option {
	return func(o *options) { o.networkCfg = cfg }
}

// WithMetrics sets the Prometheus collector. Nil disables metrics.
func WithMetrics(collector *metrics.Collector) Option {
	return func(o *options) { o.collector = collector }
}

// New creates a wired Core. Call Start to launch the background loops.
func New(opts ...Option) *Core {
	o := &options{
		logger:     zap.NewNop(),
		queueCfg:   worker.DefaultQueueConfig(),
		networkCfg: network.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.store == nil {
		o.store = taskstore.NewMemoryStore()
	}

	registry := worker.NewRegistry(o.logger)
	queue := worker.NewQueue(registry, o.store, o.queueCfg, o.logger)
	queue.SetCollector(o.collector)

	return &Core{
		Registry:    registry,
		Queue:       queue,
		Coordinator: network.NewCoordinator(registry, o.networkCfg, o.collector, o.logger),
		Store:       o.store,
		logger:      o.logger,
	}
}

// Start launches the queue drain loop and the coordinator's background
// loops.
func (c *Core) Start() {
	c.Queue.Start()
	c.Coordinator.Start()
}

// Stop shuts the background loops down and closes the task store.
func (c *Core) Stop() {
	c.Coordinator.Stop()
	c.Queue.Stop()
	if err := c.Store.Close(); err != nil {
		c.logger.Warn("task store close failed", zap.Error(err))
	}
}
