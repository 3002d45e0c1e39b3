package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/consultnet/consultnet/internal/metrics"
	"github.com/consultnet/consultnet/taskstore"
	"github.com/consultnet/consultnet/types"
)

// QueueConfig configures the background task queue.
type QueueConfig struct {
	// MaxRetries is the retry budget per task (default: 3).
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// TickInterval is the drain loop interval (default: 1s).
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval"`
}

// DefaultQueueConfig returns the default queue configuration.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxRetries:   3,
		TickInterval: 1 * time.Second,
	}
}

// Queue runs tasks in the background with bounded retries. The drain loop is
// single-threaded: one task per tick, FIFO, with failed tasks reinserted at
// the tail until their retry budget runs out. Tail reinsertion is this
// layer's retry policy; the transport client uses exponential backoff as its
// own (see package retry).
type Queue struct {
	registry  *Registry
	store     taskstore.Store
	config    QueueConfig
	logger    *zap.Logger
	collector *metrics.Collector

	mu      sync.Mutex
	pending []*types.Task

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewQueue creates a background task queue. Call Start to begin draining.
func NewQueue(registry *Registry, store taskstore.Store, config QueueConfig, logger *zap.Logger) *Queue {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.TickInterval <= 0 {
		config.TickInterval = 1 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Queue{
		registry: registry,
		store:    store,
		config:   config,
		logger:   logger.With(zap.String("component", "task_queue")),
		stopCh:   make(chan struct{}),
	}
}

// SetCollector attaches a metrics collector. Nil disables queue metrics.
func (q *Queue) SetCollector(c *metrics.Collector) {
	q.collector = c
}

func (q *Queue) reportDepth() {
	if q.collector == nil {
		return
	}
	q.mu.Lock()
	depth := len(q.pending)
	q.mu.Unlock()
	q.collector.SetQueueDepth(depth)
}

// Enqueue persists a new pending task and appends it to the queue.
// Returns NOT_FOUND if the worker name is unknown.
func (q *Queue) Enqueue(ctx context.Context, workerName string, desc *types.TaskDescription) (string, error) {
	if _, ok := q.registry.Get(workerName); !ok {
		return "", types.NewError(types.ErrNotFound, "worker not registered").WithWorker(workerName)
	}

	task := &types.Task{
		ID:          uuid.New().String(),
		WorkerName:  workerName,
		Description: desc,
		Status:      types.TaskStatusPending,
		MaxRetries:  q.config.MaxRetries,
		CreatedAt:   time.Now(),
	}

	if err := q.store.Create(ctx, task); err != nil {
		return "", types.NewError(types.ErrStorage, "failed to persist task").WithCause(err)
	}

	q.mu.Lock()
	q.pending = append(q.pending, task)
	q.mu.Unlock()
	q.reportDepth()

	q.logger.Debug("task enqueued",
		zap.String("task_id", task.ID),
		zap.String("worker", workerName),
	)

	return task.ID, nil
}

// GetTask reads a task through the persistence interface.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*types.Task, error) {
	return q.store.Get(ctx, taskID)
}

// PendingCount returns the number of tasks waiting in the queue.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Start launches the background drain loop.
func (q *Queue) Start() {
	go q.drainLoop()
	q.logger.Info("task queue started",
		zap.Duration("tick", q.config.TickInterval),
		zap.Int("max_retries", q.config.MaxRetries),
	)
}

// Stop terminates the drain loop. Queued tasks stay pending in the store.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stopCh)
	})
}

func (q *Queue) drainLoop() {
	ticker := time.NewTicker(q.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			q.ProcessNext(context.Background())
		case <-q.stopCh:
			return
		}
	}
}

// ProcessNext pops and runs one task. Exposed so tests and hosts can drive
// the queue without waiting for the ticker.
func (q *Queue) ProcessNext(ctx context.Context) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	task := q.pending[0]
	q.pending = q.pending[1:]
	q.mu.Unlock()
	q.reportDepth()

	now := time.Now()
	task.Status = types.TaskStatusRunning
	if task.StartedAt == nil {
		task.StartedAt = &now
	}
	if err := q.store.Update(ctx, task); err != nil {
		q.logger.Error("failed to persist running transition",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}

	w, ok := q.registry.Get(task.WorkerName)
	if !ok {
		// Retrying cannot resurrect a missing worker.
		q.finishFailed(ctx, task, nil, "worker not registered: "+task.WorkerName)
		return
	}

	res, err := w.Execute(ctx, task.Description)
	switch {
	case err != nil:
		q.retryOrFail(ctx, task, res, err.Error())
	case !res.Success:
		q.retryOrFail(ctx, task, res, res.Error)
	default:
		q.finishCompleted(ctx, task, res)
	}
}

func (q *Queue) retryOrFail(ctx context.Context, task *types.Task, res *types.ExecutionResult, errMsg string) {
	task.Error = errMsg

	if !task.ShouldRetry() {
		q.finishFailed(ctx, task, res, errMsg)
		return
	}

	task.RetryCount++
	task.Status = types.TaskStatusPending
	if err := q.store.Update(ctx, task); err != nil {
		q.logger.Error("failed to persist retry transition",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}

	q.mu.Lock()
	q.pending = append(q.pending, task)
	q.mu.Unlock()
	q.reportDepth()

	q.logger.Warn("task failed, reinserted at queue tail",
		zap.String("task_id", task.ID),
		zap.Int("retry", task.RetryCount),
		zap.Int("max_retries", task.MaxRetries),
		zap.String("error", errMsg),
	)
}

func (q *Queue) finishCompleted(ctx context.Context, task *types.Task, res *types.ExecutionResult) {
	now := time.Now()
	task.Status = types.TaskStatusCompleted
	task.Result = res
	task.Error = ""
	task.CompletedAt = &now

	if err := q.store.Update(ctx, task); err != nil {
		q.logger.Error("failed to persist completion",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}

	q.logger.Info("task completed",
		zap.String("task_id", task.ID),
		zap.String("worker", task.WorkerName),
		zap.Duration("duration", task.Duration()),
	)
}

func (q *Queue) finishFailed(ctx context.Context, task *types.Task, res *types.ExecutionResult, errMsg string) {
	now := time.Now()
	task.Status = types.TaskStatusFailed
	task.Result = res
	task.Error = errMsg
	task.CompletedAt = &now

	if err := q.store.Update(ctx, task); err != nil {
		q.logger.Error("failed to persist failure",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}

	q.logger.Warn("task failed terminally",
		zap.String("task_id", task.ID),
		zap.String("worker", task.WorkerName),
		zap.Int("retries", task.RetryCount),
		zap.String("error", errMsg),
	)
}
