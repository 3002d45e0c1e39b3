package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/consultnet/consultnet/types"
)

// RedisStore is a Redis-based implementation of Store.
// Suitable for distributed deployments. Tasks are stored as JSON values
// with a per-status index set for operational inspection.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a new Redis-based task store
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "consultnet:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "task:",
	}, nil
}

// NewRedisStoreWithClient wraps an existing Redis client. Used by tests
// and hosts that manage the client lifecycle themselves.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "consultnet:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "task:",
	}
}

// Close closes the store
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) taskKey(taskID string) string {
	return s.keyPrefix + "data:" + taskID
}

func (s *RedisStore) statusKey(status types.TaskStatus) string {
	return s.keyPrefix + "status:" + string(status)
}

// Create persists a new task
func (s *RedisStore) Create(ctx context.Context, task *types.Task) error {
	if task == nil {
		return ErrInvalidInput
	}

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	return s.save(ctx, task, "")
}

// Update persists the current state of an existing task
func (s *RedisStore) Update(ctx context.Context, task *types.Task) error {
	if task == nil || task.ID == "" {
		return ErrInvalidInput
	}

	prev, err := s.Get(ctx, task.ID)
	if err != nil {
		return err
	}

	return s.save(ctx, task, prev.Status)
}

// save writes the task value and moves it between status index sets.
func (s *RedisStore) save(ctx context.Context, task *types.Task, prevStatus types.TaskStatus) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.taskKey(task.ID), data, 0)
	if prevStatus != "" && prevStatus != task.Status {
		pipe.SRem(ctx, s.statusKey(prevStatus), task.ID)
	}
	pipe.SAdd(ctx, s.statusKey(task.Status), task.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}

	return nil
}

// Get retrieves a task by ID
func (s *RedisStore) Get(ctx context.Context, taskID string) (*types.Task, error) {
	data, err := s.client.Get(ctx, s.taskKey(taskID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	var task types.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	return &task, nil
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
