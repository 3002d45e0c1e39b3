// Package taskstore provides persistence for queued task lifecycle state.
//
// The coordination core calls the store around every status transition of a
// background task; the host picks the backend:
//   - Memory: for development and testing (default)
//   - SQLite (GORM): for single-node durable deployments
//   - Redis: for distributed deployments
package taskstore

import (
	"context"
	"errors"

	"github.com/consultnet/consultnet/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("task not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// Store is the external persistence boundary for queued tasks.
type Store interface {
	// Create persists a new task.
	Create(ctx context.Context, task *types.Task) error

	// Update persists the current state of an existing task.
	Update(ctx context.Context, task *types.Task) error

	// Get retrieves a task by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, taskID string) (*types.Task, error)

	// Ping checks if the store is reachable.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		PoolSize:  10,
		KeyPrefix: "consultnet:",
	}
}
