package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/mifumo/pamoja/internal/archgraph"
	"github.com/mifumo/pamoja/internal/coordination"
	"github.com/mifumo/pamoja/internal/decision"
	"github.com/mifumo/pamoja/internal/perf"
	"github.com/mifumo/pamoja/internal/registry"
	"github.com/mifumo/pamoja/internal/resource"
	"github.com/mifumo/pamoja/internal/workflow"
)

// Config tunes engine behavior. Zero values select defaults.
type Config struct {
	// DefaultTimeout bounds task execution when the request has none.
	// Default: 5m.
	DefaultTimeout time.Duration
	// MaxTimeout caps the per-task timeout. Default: 1h.
	MaxTimeout time.Duration
	// WorkerPoolSize bounds concurrent agent calls across all tasks,
	// independent of task count. Default: 16.
	WorkerPoolSize int
	// Retention is how long terminal tasks are kept before the sweeper
	// archives them. Default: 24h.
	Retention time.Duration
	// TieBreakMargin is forwarded to the strategy decider. Default: 0.1.
	TieBreakMargin float64
}

func (c Config) defaultTimeout() time.Duration {
	if c.DefaultTimeout > 0 {
		return c.DefaultTimeout
	}
	return 5 * time.Minute
}

func (c Config) maxTimeout() time.Duration {
	if c.MaxTimeout > 0 {
		return c.MaxTimeout
	}
	return time.Hour
}

func (c Config) workerPoolSize() int {
	if c.WorkerPoolSize > 0 {
		return c.WorkerPoolSize
	}
	return 16
}

func (c Config) retention() time.Duration {
	if c.Retention > 0 {
		return c.Retention
	}
	return 24 * time.Hour
}

// Engine implements Orchestrator. It owns its ledger, monitor, and
// coordinator; their lifecycle is tied to the engine's.
type Engine struct {
	store       TaskStore
	ledger      *resource.Ledger
	monitor     *perf.Monitor
	coordinator *coordination.Coordinator
	decider     *decision.Engine
	pool        *registry.Registry
	analyzer    *archgraph.Analyzer
	gatherer    prometheus.Gatherer
	journal     CoordinationJournal
	metrics     *Metrics
	logger      *slog.Logger
	config      Config

	// workers bounds concurrent agent calls across all tasks.
	workers *semaphore.Weighted

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu         sync.Mutex
	cancels    map[uuid.UUID]context.CancelFunc // Running task cancellation.
	lastGraph  *archgraph.Graph                 // Most recent analyzed graph.
	lastReport *archgraph.Report
}

// NewEngine wires the orchestration core together. metrics may be nil.
func NewEngine(
	store TaskStore,
	ledger *resource.Ledger,
	monitor *perf.Monitor,
	coordinator *coordination.Coordinator,
	pool *registry.Registry,
	analyzer *archgraph.Analyzer,
	metrics *Metrics,
	logger *slog.Logger,
	config Config,
) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &Engine{
		store:       store,
		ledger:      ledger,
		monitor:     monitor,
		coordinator: coordinator,
		decider:     decision.NewEngine(decision.Config{TieBreakMargin: config.TieBreakMargin}, pool, coordinator),
		pool:        pool,
		analyzer:    analyzer,
		metrics:     metrics,
		logger:      logger,
		config:      config,
		workers:     semaphore.NewWeighted(int64(config.workerPoolSize())),
		baseCtx:     baseCtx,
		stop:        stop,
		cancels:     make(map[uuid.UUID]context.CancelFunc),
	}
}

// WithGatherer attaches a metrics registry so PerformanceInsights can fold
// exported metric families into its summaries. Nil-safe.
func (e *Engine) WithGatherer(g prometheus.Gatherer) *Engine {
	e.gatherer = g
	return e
}

// WithJournal attaches an append-only coordination log written on terminal
// transitions. Nil-safe.
func (e *Engine) WithJournal(j CoordinationJournal) *Engine {
	e.journal = j
	return e
}

// Submit validates the request, runs admission control, selects a strategy,
// builds the plan, and starts execution. Rejections return the stored task
// alongside the causal error.
func (e *Engine) Submit(ctx context.Context, req *TaskRequest) (*Task, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.config.defaultTimeout()
	}
	if timeout > e.config.maxTimeout() {
		timeout = e.config.maxTimeout()
	}
	priority := req.Priority
	if priority == "" {
		priority = PriorityMedium
	}

	task := &Task{
		ID:                   uuid.New(),
		Objective:            req.Objective,
		RequiredCapabilities: req.RequiredCapabilities,
		RequestedStrategy:    req.Strategy,
		Priority:             priority,
		Timeout:              timeout,
		Quorum:               req.Quorum,
		Resources:            req.Resources,
		Input:                req.Input,
		Status:               StatusPending,
		CreatedAt:            now,
	}
	if err := e.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}

	// Strategy selection before reservation: a capability miss must not
	// touch the ledger.
	dec, err := e.decider.Decide(decision.Request{
		RequiredCapabilities: req.RequiredCapabilities,
		RequestedStrategy:    req.Strategy,
	})
	if err != nil {
		if errors.Is(err, decision.ErrCapabilityUnavailable) {
			return e.reject(ctx, task, "capability_unavailable", err)
		}
		return nil, err
	}

	allocations, err := e.ledger.ReserveAll(task.Resources, task.ID)
	if err != nil {
		if errors.Is(err, resource.ErrAdmissionRejected) || errors.Is(err, resource.ErrUnknownResource) {
			return e.reject(ctx, task, "admission_rejected", err)
		}
		return nil, err
	}
	task.Allocations = allocations
	task.Status = StatusAdmitted
	task.Strategy = dec.Strategy

	plan, err := workflow.Design(task.ID, dec.Strategy, dec.Agents, task.Quorum)
	if err != nil {
		// Plan construction failed after reservation; give it all back.
		e.releaseAll(task)
		return e.reject(ctx, task, "plan_failed", err)
	}
	for _, a := range dec.Agents {
		task.AssignedAgents = append(task.AssignedAgents, a.ID)
	}

	started := now
	task.StartedAt = &started
	task.Status = StatusRunning
	if err := e.store.UpdateTask(ctx, task); err != nil {
		e.releaseAll(task)
		return nil, fmt.Errorf("updating task: %w", err)
	}

	runCtx, cancel := context.WithCancel(e.baseCtx)
	e.mu.Lock()
	e.cancels[task.ID] = cancel
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.ActiveTasks.Inc()
	}
	e.logger.InfoContext(ctx, "task admitted",
		slog.String("task_id", task.ID.String()),
		slog.String("strategy", string(dec.Strategy)),
		slog.Int("agents", len(dec.Agents)),
		slog.String("reason", dec.Reason))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(runCtx, task.clone(), plan, dec.Agents)
	}()

	return task.clone(), nil
}

// reject marks the task rejected, records the cause, and returns the
// causal error. The task holds no resources at this point.
func (e *Engine) reject(ctx context.Context, task *Task, cause string, cerr error) (*Task, error) {
	now := time.Now().UTC()
	task.Status = StatusRejected
	task.Error = cerr.Error()
	task.CompletedAt = &now
	if err := e.store.UpdateTask(ctx, task); err != nil {
		e.logger.WarnContext(ctx, "storing rejection failed",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()))
	}
	if e.metrics != nil {
		e.metrics.AdmissionRejectedTotal.WithLabelValues(cause).Inc()
		e.metrics.TasksTotal.WithLabelValues(string(StatusRejected), string(task.Strategy)).Inc()
	}
	e.logger.WarnContext(ctx, "task rejected",
		slog.String("task_id", task.ID.String()),
		slog.String("cause", cause),
		slog.String("error", cerr.Error()))
	return task.clone(), cerr
}

// Status returns the current state of a task.
func (e *Engine) Status(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	return e.store.GetTask(ctx, taskID)
}

// ListTasks returns tasks newest first, optionally filtered by status.
func (e *Engine) ListTasks(ctx context.Context, status Status) ([]Task, error) {
	return e.store.ListTasks(ctx, status)
}

// Cancel requests cancellation of a running task. The executor honors it
// at the next stage boundary; in-flight agent calls finish but their
// results are discarded.
func (e *Engine) Cancel(ctx context.Context, taskID uuid.UUID) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.Terminal() {
		return fmt.Errorf("task %s is %s: %w", taskID, task.Status, ErrTaskNotCancellable)
	}
	e.mu.Lock()
	cancel, ok := e.cancels[taskID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s is %s: %w", taskID, task.Status, ErrTaskNotCancellable)
	}
	cancel()
	e.logger.InfoContext(ctx, "task cancellation requested",
		slog.String("task_id", taskID.String()))
	return nil
}

// ResourceUtilization reports per-type usage from the ledger and mirrors
// it into the utilization gauge.
func (e *Engine) ResourceUtilization() []resource.Utilization {
	snapshot := e.ledger.Snapshot()
	if e.metrics != nil {
		for _, u := range snapshot {
			e.metrics.ResourceUtilizationPct.WithLabelValues(u.Type).Set(u.Percent)
		}
	}
	return snapshot
}

// PerformanceInsights combines rolling scores, alerts, and exported
// metric summaries.
func (e *Engine) PerformanceInsights() (*perf.Insights, error) {
	return e.monitor.Insights(e.gatherer, "pamoja_")
}

// OptimizeArchitecture analyzes a component graph snapshot. The graph and
// report are retained for scheduled re-analysis, and a submission that
// scores lower than the previous one is flagged in the log.
func (e *Engine) OptimizeArchitecture(g *archgraph.Graph) (*archgraph.Report, error) {
	report, err := e.analyzer.Analyze(g)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	prev := e.lastReport
	e.lastGraph = g
	e.lastReport = report
	e.mu.Unlock()
	if prev != nil && report.ModularityScore < prev.ModularityScore {
		e.logger.Warn("architecture modularity deteriorated",
			slog.Float64("previous", prev.ModularityScore),
			slog.Float64("current", report.ModularityScore),
			slog.Int("bottlenecks", len(report.Bottlenecks)))
	}
	return report, nil
}

// ReanalyzeArchitecture re-runs the analyzer against the most recently
// submitted graph, logging the structural summary for periodic visibility.
// No-op until a graph has been analyzed.
func (e *Engine) ReanalyzeArchitecture() (*archgraph.Report, error) {
	e.mu.Lock()
	g := e.lastGraph
	e.mu.Unlock()
	if g == nil {
		return nil, nil
	}
	report, err := e.analyzer.Analyze(g)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.lastReport = report
	e.mu.Unlock()
	e.logger.Info("scheduled architecture analysis",
		slog.Float64("modularity", report.ModularityScore),
		slog.Float64("spof_ratio", report.SPOFRatio),
		slog.Int("bottlenecks", len(report.Bottlenecks)))
	return report, nil
}

// Effectiveness exposes the coordinator's strategy table for introspection.
func (e *Engine) Effectiveness() map[string]float64 {
	return e.coordinator.Table()
}

// Agents exposes the live pool snapshots for introspection endpoints.
func (e *Engine) Agents() []registry.Snapshot {
	return e.pool.ListAgents()
}

// Close stops accepting work, cancels running tasks, and waits for
// executors to finish their terminal transitions.
func (e *Engine) Close() {
	e.stop()
	e.wg.Wait()
}

// releaseAll frees every allocation held by the task. Ledger release is
// idempotent, so a second pass is harmless.
func (e *Engine) releaseAll(task *Task) {
	for _, id := range task.Allocations {
		if err := e.ledger.Release(id); err != nil && !errors.Is(err, resource.ErrAllocationNotFound) {
			e.logger.Warn("releasing allocation failed",
				slog.String("task_id", task.ID.String()),
				slog.String("allocation_id", id.String()),
				slog.String("error", err.Error()))
		}
	}
}

func validate(req *TaskRequest) error {
	if req == nil {
		return fmt.Errorf("nil request: %w", ErrInvalidTaskSpec)
	}
	if req.Objective == "" {
		return fmt.Errorf("missing objective: %w", ErrInvalidTaskSpec)
	}
	if req.Priority != "" && !req.Priority.Valid() {
		return fmt.Errorf("unknown priority %q: %w", req.Priority, ErrInvalidTaskSpec)
	}
	if req.Strategy != "" && !req.Strategy.Valid() {
		return fmt.Errorf("unknown strategy %q: %w", req.Strategy, ErrInvalidTaskSpec)
	}
	if req.Timeout < 0 {
		return fmt.Errorf("negative timeout: %w", ErrInvalidTaskSpec)
	}
	if req.Quorum < 0 {
		return fmt.Errorf("negative quorum: %w", ErrInvalidTaskSpec)
	}
	for name, amount := range req.Resources {
		if amount <= 0 {
			return fmt.Errorf("resource %q amount %v must be positive: %w", name, amount, ErrInvalidTaskSpec)
		}
	}
	return nil
}

// Compile-time check.
var _ Orchestrator = (*Engine)(nil)
