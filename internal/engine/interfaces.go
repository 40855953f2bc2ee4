package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mifumo/pamoja/internal/archgraph"
	"github.com/mifumo/pamoja/internal/coordination"
	"github.com/mifumo/pamoja/internal/perf"
	"github.com/mifumo/pamoja/internal/resource"
)

// Orchestrator is the public API consumed by the HTTP, WebSocket, and MCP
// gateways. All calls are synchronous; long-running execution is polled
// through Status.
type Orchestrator interface {
	// Submit validates and admits a task, then begins execution. On
	// rejection the returned task carries the rejected status and the
	// error names the cause.
	Submit(ctx context.Context, req *TaskRequest) (*Task, error)

	// Status returns the current state of a task.
	Status(ctx context.Context, taskID uuid.UUID) (*Task, error)

	// Cancel requests cancellation, honored at the next stage boundary.
	Cancel(ctx context.Context, taskID uuid.UUID) error

	// ListTasks returns tasks newest first, optionally filtered by status.
	ListTasks(ctx context.Context, status Status) ([]Task, error)

	// ResourceUtilization reports per-type usage from the ledger.
	ResourceUtilization() []resource.Utilization

	// PerformanceInsights combines rolling scores, alerts, and exported
	// metric summaries.
	PerformanceInsights() (*perf.Insights, error)

	// OptimizeArchitecture analyzes a component graph snapshot.
	OptimizeArchitecture(g *archgraph.Graph) (*archgraph.Report, error)
}

// CoordinationJournal is an append-only log of strategy outcomes, written
// on terminal transitions alongside the in-memory effectiveness window.
type CoordinationJournal interface {
	AppendRecord(ctx context.Context, rec coordination.Record) error
}

// TaskStore persists task records. Implementations: gorm-backed or
// in-memory. Writes on terminal transitions must be durable before the
// engine acknowledges completion.
type TaskStore interface {
	CreateTask(ctx context.Context, task *Task) error
	UpdateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*Task, error)
	ListTasks(ctx context.Context, status Status) ([]Task, error)

	// DeleteTerminalBefore removes terminal tasks whose completion time
	// is before the cutoff. Returns the number removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
