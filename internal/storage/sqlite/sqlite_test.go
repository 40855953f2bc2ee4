package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mifumo/pamoja/internal/coordination"
	"github.com/mifumo/pamoja/internal/engine"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "pamoja.db")}, logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestTaskRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task := &engine.Task{
		ID:                   uuid.New(),
		Objective:            "summarize findings",
		RequiredCapabilities: []string{"nlp"},
		Priority:             engine.PriorityHigh,
		Timeout:              2 * time.Minute,
		Resources:            map[string]float64{"cpu": 2},
		Status:               engine.StatusPending,
		CreatedAt:            time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := s.Tasks().CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	got, err := s.Tasks().GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Objective != task.Objective || got.Priority != engine.PriorityHigh {
		t.Fatalf("got %+v", got)
	}
	if len(got.RequiredCapabilities) != 1 || got.RequiredCapabilities[0] != "nlp" {
		t.Fatalf("capabilities = %v", got.RequiredCapabilities)
	}
	if got.Resources["cpu"] != 2 {
		t.Fatalf("resources = %v", got.Resources)
	}
	if got.Timeout != 2*time.Minute {
		t.Fatalf("timeout = %v", got.Timeout)
	}

	done := time.Now().UTC()
	got.Status = engine.StatusCompleted
	got.Progress = 100
	got.CompletedAt = &done
	got.Outcomes = []engine.AgentOutcome{{AgentID: "a1", Success: true, Output: "ok"}}
	if err := s.Tasks().UpdateTask(ctx, got); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	updated, err := s.Tasks().GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask after update: %v", err)
	}
	if updated.Status != engine.StatusCompleted || len(updated.Outcomes) != 1 {
		t.Fatalf("updated = %+v", updated)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Tasks().GetTask(context.Background(), uuid.New()); !errors.Is(err, engine.ErrTaskNotFound) {
		t.Fatalf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestListTasksByStatus(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i, st := range []engine.Status{engine.StatusPending, engine.StatusRunning, engine.StatusPending} {
		task := &engine.Task{
			ID:        uuid.New(),
			Objective: "t",
			Status:    st,
			CreatedAt: time.Now().UTC().Add(time.Duration(i) * time.Second),
		}
		if err := s.Tasks().CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}
	pending, err := s.Tasks().ListTasks(ctx, engine.StatusPending)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	all, err := s.Tasks().ListTasks(ctx, "")
	if err != nil {
		t.Fatalf("ListTasks all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all = %d, want 3", len(all))
	}
	if !all[0].CreatedAt.After(all[2].CreatedAt) {
		t.Fatal("tasks not newest first")
	}
}

func TestDeleteTerminalBefore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	old := time.Now().UTC().Add(-48 * time.Hour)
	oldDone := old.Add(time.Minute)
	fresh := time.Now().UTC()

	for _, task := range []*engine.Task{
		{ID: uuid.New(), Objective: "old done", Status: engine.StatusCompleted, CreatedAt: old, CompletedAt: &oldDone},
		{ID: uuid.New(), Objective: "old running", Status: engine.StatusRunning, CreatedAt: old},
		{ID: uuid.New(), Objective: "fresh done", Status: engine.StatusFailed, CreatedAt: fresh, CompletedAt: &fresh},
	} {
		if err := s.Tasks().CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	removed, err := s.Tasks().DeleteTerminalBefore(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteTerminalBefore: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want only the old terminal task", removed)
	}
	rest, _ := s.Tasks().ListTasks(ctx, "")
	if len(rest) != 2 {
		t.Fatalf("remaining = %d, want 2", len(rest))
	}
}

func TestCoordinationJournal(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)
	for i := 0; i < 3; i++ {
		rec := coordination.Record{
			TaskID:   uuid.New(),
			Strategy: "parallel",
			Success:  i != 1,
			Duration: time.Duration(i+1) * time.Second,
			At:       base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Journal().AppendRecord(ctx, rec); err != nil {
			t.Fatalf("AppendRecord: %v", err)
		}
	}

	recs, err := s.ListRecords(ctx, "parallel", 2)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want limit 2", len(recs))
	}
	if !recs[0].At.After(recs[1].At) {
		t.Fatal("records not newest first")
	}
	if other, _ := s.ListRecords(ctx, "consensus", 0); len(other) != 0 {
		t.Fatalf("consensus records = %d, want 0", len(other))
	}
}
