package taskstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/consultnet/consultnet/types"
)

// taskRecord is the GORM row shape for a persisted task. The description
// and result are stored as JSON blobs since the core never queries into them.
type taskRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	WorkerName  string `gorm:"index;size:128"`
	Status      string `gorm:"index;size:16"`
	Description []byte
	Result      []byte
	Error       string
	RetryCount  int
	MaxRetries  int
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func (taskRecord) TableName() string { return "consultation_tasks" }

// GormStore is a SQL implementation of Store backed by GORM.
// Suitable for single-node deployments that need tasks to survive restarts.
type GormStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at path and runs the
// schema migration. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return NewGormStore(db)
}

// NewGormStore wraps an existing GORM handle and runs the schema migration.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.AutoMigrate(&taskRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate task schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks if the store is healthy
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Create persists a new task
func (s *GormStore) Create(ctx context.Context, task *types.Task) error {
	if task == nil {
		return ErrInvalidInput
	}

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}

	rec, err := toRecord(task)
	if err != nil {
		return err
	}

	return s.db.WithContext(ctx).Create(rec).Error
}

// Update persists the current state of an existing task
func (s *GormStore) Update(ctx context.Context, task *types.Task) error {
	if task == nil || task.ID == "" {
		return ErrInvalidInput
	}

	rec, err := toRecord(task)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).Model(&taskRecord{}).
		Where("id = ?", task.ID).
		Updates(map[string]any{
			"worker_name":  rec.WorkerName,
			"status":       rec.Status,
			"description":  rec.Description,
			"result":       rec.Result,
			"error":        rec.Error,
			"retry_count":  rec.RetryCount,
			"max_retries":  rec.MaxRetries,
			"started_at":   rec.StartedAt,
			"completed_at": rec.CompletedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves a task by ID
func (s *GormStore) Get(ctx context.Context, taskID string) (*types.Task, error) {
	var rec taskRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", taskID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec)
}

func toRecord(task *types.Task) (*taskRecord, error) {
	rec := &taskRecord{
		ID:          task.ID,
		WorkerName:  task.WorkerName,
		Status:      string(task.Status),
		Error:       task.Error,
		RetryCount:  task.RetryCount,
		MaxRetries:  task.MaxRetries,
		CreatedAt:   task.CreatedAt,
		StartedAt:   task.StartedAt,
		CompletedAt: task.CompletedAt,
	}

	if task.Description != nil {
		data, err := json.Marshal(task.Description)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal description: %w", err)
		}
		rec.Description = data
	}
	if task.Result != nil {
		data, err := json.Marshal(task.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal result: %w", err)
		}
		rec.Result = data
	}

	return rec, nil
}

func fromRecord(rec *taskRecord) (*types.Task, error) {
	task := &types.Task{
		ID:          rec.ID,
		WorkerName:  rec.WorkerName,
		Status:      types.TaskStatus(rec.Status),
		Error:       rec.Error,
		RetryCount:  rec.RetryCount,
		MaxRetries:  rec.MaxRetries,
		CreatedAt:   rec.CreatedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}

	if len(rec.Description) > 0 {
		var desc types.TaskDescription
		if err := json.Unmarshal(rec.Description, &desc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal description: %w", err)
		}
		task.Description = &desc
	}
	if len(rec.Result) > 0 {
		var result types.ExecutionResult
		if err := json.Unmarshal(rec.Result, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		task.Result = &result
	}

	return task, nil
}

// Ensure GormStore implements Store
var _ Store = (*GormStore)(nil)
