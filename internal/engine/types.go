// Package engine implements the orchestration core for Pamoja. It admits
// tasks against the resource ledger, selects a strategy, builds an
// execution plan, runs it against the agent pool with bounded parallelism,
// and feeds outcomes back into the performance and coordination layers.
package engine

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mifumo/pamoja/internal/decision"
	"github.com/mifumo/pamoja/internal/registry"
)

var (
	// ErrInvalidTaskSpec indicates a submission missing an objective or
	// carrying an invalid priority, timeout, or quorum. Never admitted.
	ErrInvalidTaskSpec = errors.New("invalid task spec")
	// ErrTaskNotFound indicates an unknown task id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskNotCancellable indicates a cancel request against a task
	// already in a terminal state.
	ErrTaskNotCancellable = errors.New("task is not cancellable")
	// ErrQuorumNotMet is the consensus-specific terminal failure.
	ErrQuorumNotMet = errors.New("consensus quorum not met")
	// ErrAgentTimeout marks an agent that did not respond before the
	// task deadline.
	ErrAgentTimeout = errors.New("agent timed out")
)

// Priority orders tasks for admission reporting. It does not preempt.
type Priority string

const (
	PriorityCritical   Priority = "critical"
	PriorityHigh       Priority = "high"
	PriorityMedium     Priority = "medium"
	PriorityLow        Priority = "low"
	PriorityBackground Priority = "background"
)

// Valid reports whether p names a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityBackground:
		return true
	}
	return false
}

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAdmitted  Status = "admitted"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether s is a final state. Terminal tasks are
// immutable and their resources have been released.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// TaskRequest is the submission input.
type TaskRequest struct {
	Objective            string             `json:"objective"`
	RequiredCapabilities []string           `json:"required_capabilities,omitempty"`
	Strategy             decision.Strategy  `json:"strategy,omitempty"` // Empty = auto-select.
	Priority             Priority           `json:"priority,omitempty"` // Default: medium.
	Timeout              time.Duration      `json:"timeout,omitempty"`  // Default from config.
	Quorum               int                `json:"quorum,omitempty"`   // Consensus override, 0 = majority.
	Resources            map[string]float64 `json:"resources,omitempty"`
	Input                map[string]any     `json:"input,omitempty"`
}

// AgentOutcome is one agent's recorded result within a task.
type AgentOutcome struct {
	AgentID string        `json:"agent_id"`
	Success bool          `json:"success"`
	Output  string        `json:"output,omitempty"`
	Error   string        `json:"error,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Task is the engine-owned record of one unit of work. Immutable once
// terminal.
type Task struct {
	ID                   uuid.UUID          `json:"id"`
	Objective            string             `json:"objective"`
	RequiredCapabilities []string           `json:"required_capabilities,omitempty"`
	RequestedStrategy    decision.Strategy  `json:"requested_strategy,omitempty"`
	Strategy             decision.Strategy  `json:"strategy,omitempty"` // Chosen by the decision engine.
	Priority             Priority           `json:"priority"`
	Timeout              time.Duration      `json:"timeout"`
	Quorum               int                `json:"quorum,omitempty"`
	Resources            map[string]float64 `json:"resources,omitempty"`
	Input                map[string]any     `json:"input,omitempty"`

	Status         Status         `json:"status"`
	Progress       int            `json:"progress"` // 0-100.
	AssignedAgents []string       `json:"assigned_agents,omitempty"`
	Outcomes       []AgentOutcome `json:"outcomes,omitempty"`
	Result         string         `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Allocations holds the ledger allocation ids granted at admission.
	Allocations []uuid.UUID `json:"allocations,omitempty"`
}

// clone returns a deep copy safe to hand to callers.
func (t *Task) clone() *Task {
	cp := *t
	if t.RequiredCapabilities != nil {
		cp.RequiredCapabilities = append([]string(nil), t.RequiredCapabilities...)
	}
	if t.AssignedAgents != nil {
		cp.AssignedAgents = append([]string(nil), t.AssignedAgents...)
	}
	if t.Outcomes != nil {
		cp.Outcomes = append([]AgentOutcome(nil), t.Outcomes...)
	}
	if t.Allocations != nil {
		cp.Allocations = append([]uuid.UUID(nil), t.Allocations...)
	}
	if t.Resources != nil {
		cp.Resources = make(map[string]float64, len(t.Resources))
		for k, v := range t.Resources {
			cp.Resources[k] = v
		}
	}
	if t.Input != nil {
		cp.Input = make(map[string]any, len(t.Input))
		for k, v := range t.Input {
			cp.Input[k] = v
		}
	}
	return &cp
}

// AgentLister supplies a snapshot of the live agent pool.
type AgentLister interface {
	ListAgents() []registry.Snapshot
}
