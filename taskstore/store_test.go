package taskstore

import (
	"context"
	"testing"
	"time"

	"github.com/consultnet/consultnet/types"
)

// storeFactory builds a fresh store for the shared conformance tests.
type storeFactory func(t *testing.T) Store

func testStore(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		if err := store.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("CreateAndGet", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		task := &types.Task{
			WorkerName: "legal-specialist",
			Status:     types.TaskStatusPending,
			MaxRetries: 3,
			Description: &types.TaskDescription{
				Question:    "Is a verbal contract binding?",
				RequesterID: "user-42",
				Tier:        "premium",
			},
		}

		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if task.ID == "" {
			t.Fatal("Create should assign an ID")
		}

		got, err := store.Get(ctx, task.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.WorkerName != "legal-specialist" {
			t.Errorf("WorkerName = %q, want legal-specialist", got.WorkerName)
		}
		if got.Description == nil || got.Description.Question != task.Description.Question {
			t.Error("Description round-trip mismatch")
		}
		if got.Status != types.TaskStatusPending {
			t.Errorf("Status = %q, want pending", got.Status)
		}
	})

	t.Run("UpdateLifecycle", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		task := &types.Task{
			WorkerName:  "tax-specialist",
			Status:      types.TaskStatusPending,
			Description: &types.TaskDescription{Question: "VAT on exports?"},
		}
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		now := time.Now()
		task.Status = types.TaskStatusRunning
		task.StartedAt = &now
		if err := store.Update(ctx, task); err != nil {
			t.Fatalf("Update to running failed: %v", err)
		}

		done := now.Add(50 * time.Millisecond)
		task.Status = types.TaskStatusCompleted
		task.CompletedAt = &done
		task.Result = &types.ExecutionResult{
			Success: true,
			Cost:    2.5,
			Enrichments: []types.Enrichment{
				{Kind: "summary", Content: "Zero-rated in most jurisdictions."},
			},
		}
		if err := store.Update(ctx, task); err != nil {
			t.Fatalf("Update to completed failed: %v", err)
		}

		got, err := store.Get(ctx, task.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Status != types.TaskStatusCompleted {
			t.Errorf("Status = %q, want completed", got.Status)
		}
		if got.Result == nil || !got.Result.Success {
			t.Error("Result should be a success")
		}
		if len(got.Result.Enrichments) != 1 {
			t.Errorf("Enrichments = %d, want 1", len(got.Result.Enrichments))
		}
		if got.StartedAt == nil || got.CompletedAt == nil {
			t.Error("timestamps should survive the round trip")
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		if _, err := store.Get(ctx, "no-such-task"); err != ErrNotFound {
			t.Errorf("Get missing = %v, want ErrNotFound", err)
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		task := &types.Task{ID: "ghost", Status: types.TaskStatusFailed}
		if err := store.Update(ctx, task); err != ErrNotFound {
			t.Errorf("Update missing = %v, want ErrNotFound", err)
		}
	})

	t.Run("NilTask", func(t *testing.T) {
		store := newStore(t)
		defer store.Close()

		if err := store.Create(ctx, nil); err != ErrInvalidInput {
			t.Errorf("Create nil = %v, want ErrInvalidInput", err)
		}
		if err := store.Update(ctx, nil); err != ErrInvalidInput {
			t.Errorf("Update nil = %v, want ErrInvalidInput", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	testStore(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStore_Closed(t *testing.T) {
	store := NewMemoryStore()
	store.Close()

	ctx := context.Background()
	if err := store.Ping(ctx); err != ErrStoreClosed {
		t.Errorf("Ping after close = %v, want ErrStoreClosed", err)
	}
	if err := store.Create(ctx, &types.Task{}); err != ErrStoreClosed {
		t.Errorf("Create after close = %v, want ErrStoreClosed", err)
	}
}

func TestMemoryStore_Isolation(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	ctx := context.Background()
	task := &types.Task{
		Status:      types.TaskStatusPending,
		Description: &types.TaskDescription{Question: "original"},
	}
	if err := store.Create(ctx, task); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Mutating the caller's copy must not leak into the store.
	task.Description.Question = "mutated"

	got, err := store.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Description.Question != "original" {
		t.Error("store should hold its own copy of the task")
	}
}

func TestSQLiteStore(t *testing.T) {
	testStore(t, func(t *testing.T) Store {
		store, err := NewSQLiteStore(t.TempDir() + "/tasks.db")
		if err != nil {
			t.Fatalf("NewSQLiteStore failed: %v", err)
		}
		return store
	})
}
