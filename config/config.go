// Package config loads the consultnet configuration from defaults, an
// optional YAML file, and environment variable overrides, in that order.
package config

import (
	"fmt"
	"time"
)

// Config is the complete consultnet configuration.
type Config struct {
	// Server hosts the metrics and health endpoints.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Network configures the coordinator.
	Network NetworkConfig `yaml:"network" env:"NETWORK"`

	// Queue configures the background task queue.
	Queue QueueConfig `yaml:"queue" env:"QUEUE"`

	// Transport configures the transport client.
	Transport TransportConfig `yaml:"transport" env:"TRANSPORT"`

	// Store selects and configures task persistence.
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Redis backs the redis task store.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database backs the sqlite task store.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics configures the Prometheus collector.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// ServerConfig configures the host HTTP surface.
type ServerConfig struct {
	// HTTPPort serves /healthz and /metrics.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// ReadTimeout is the HTTP read timeout.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout is the HTTP write timeout.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// NetworkConfig configures the coordinator.
type NetworkConfig struct {
	// DefaultMaxLoad is the load ceiling for agents registered without one.
	DefaultMaxLoad int `yaml:"default_max_load" env:"DEFAULT_MAX_LOAD"`
	// HealthCheckInterval is the health monitor tick.
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	// StaleThreshold marks agents unhealthy after this silence.
	StaleThreshold time.Duration `yaml:"stale_threshold" env:"STALE_THRESHOLD"`
	// DispatchInterval is the message dispatcher tick.
	DispatchInterval time.Duration `yaml:"dispatch_interval" env:"DISPATCH_INTERVAL"`
	// DrainTimeout bounds unregistration drain waits.
	DrainTimeout time.Duration `yaml:"drain_timeout" env:"DRAIN_TIMEOUT"`
}

// QueueConfig configures the background task queue.
type QueueConfig struct {
	// MaxRetries is the retry budget per queued task.
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// TickInterval is the queue drain tick.
	TickInterval time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
}

// TransportConfig configures the transport client.
type TransportConfig struct {
	// DefaultTimeout bounds task execution calls without an explicit timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// DrainTimeout bounds agent disconnect drain waits.
	DrainTimeout time.Duration `yaml:"drain_timeout" env:"DRAIN_TIMEOUT"`
	// HealthInterval is the default per-agent health probe interval.
	HealthInterval time.Duration `yaml:"health_interval" env:"HEALTH_INTERVAL"`
}

// StoreConfig selects the task persistence backend.
type StoreConfig struct {
	// Backend: memory, redis, sqlite
	Backend string `yaml:"backend" env:"BACKEND"`
}

// RedisConfig configures the redis task store.
type RedisConfig struct {
	// Addr is host:port.
	Addr string `yaml:"addr" env:"ADDR"`
	// Password is optional.
	Password string `yaml:"password" env:"PASSWORD"`
	// DB is the database number.
	DB int `yaml:"db" env:"DB"`
	// KeyPrefix namespaces all keys.
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// PoolSize is the connection pool size.
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
}

// DatabaseConfig configures the sqlite task store.
type DatabaseConfig struct {
	// Path is the sqlite database file.
	Path string `yaml:"path" env:"PATH"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths are zap output sinks.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// MetricsConfig configures the Prometheus collector.
type MetricsConfig struct {
	// Enabled toggles metric collection.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Network: NetworkConfig{
			DefaultMaxLoad:      10,
			HealthCheckInterval: 5 * time.Second,
			StaleThreshold:      60 * time.Second,
			DispatchInterval:    100 * time.Millisecond,
			DrainTimeout:        30 * time.Second,
		},
		Queue: QueueConfig{
			MaxRetries:   3,
			TickInterval: time.Second,
		},
		Transport: TransportConfig{
			DefaultTimeout: 50 * time.Second,
			DrainTimeout:   30 * time.Second,
			HealthInterval: 30 * time.Second,
		},
		Store: StoreConfig{
			Backend: "memory",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			DB:        0,
			KeyPrefix: "consultnet:",
			PoolSize:  10,
		},
		Database: DatabaseConfig{
			Path: "consultnet.db",
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "json",
			OutputPaths: []string{"stdout"},
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "consultnet",
		},
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("unknown store backend: %q (supported: memory, redis, sqlite)", c.Store.Backend)
	}
	if c.Store.Backend == "redis" && c.Redis.Addr == "" {
		return fmt.Errorf("redis store requires redis.addr")
	}
	if c.Store.Backend == "sqlite" && c.Database.Path == "" {
		return fmt.Errorf("sqlite store requires database.path")
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port: %d", c.Server.HTTPPort)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level: %q", c.Log.Level)
	}
	return nil
}
