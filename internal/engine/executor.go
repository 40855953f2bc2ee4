package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mifumo/pamoja/internal/coordination"
	"github.com/mifumo/pamoja/internal/decision"
	"github.com/mifumo/pamoja/internal/perf"
	"github.com/mifumo/pamoja/internal/registry"
	"github.com/mifumo/pamoja/internal/workflow"
)

// execute runs a task's plan stage by stage. Stages run sequentially;
// agents within a stage run concurrently under the shared worker pool.
// Cancellation is honored at stage boundaries only: an in-flight call may
// finish, but its stage's results are discarded once cancellation is seen.
func (e *Engine) execute(runCtx context.Context, task *Task, plan *workflow.Plan, agents []*registry.Agent) {
	byID := make(map[string]*registry.Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}

	// Agent calls get the task deadline but not the cancel signal, so a
	// cancel request cannot interrupt a call mid-flight.
	deadline := task.CreatedAt.Add(task.Timeout)
	if task.StartedAt != nil {
		deadline = task.StartedAt.Add(task.Timeout)
	}
	callCtx, cancelCalls := context.WithDeadline(e.baseCtx, deadline)
	defer cancelCalls()

	var successes int
	for i, stage := range plan.Stages {
		if runCtx.Err() != nil {
			e.finish(task, StatusCancelled, fmt.Errorf("cancelled before stage %q", stage.Name))
			return
		}

		stageStart := time.Now()
		outcomes := e.runStage(callCtx, task, stage, byID)
		if e.metrics != nil {
			e.metrics.StageDuration.WithLabelValues(string(plan.Strategy)).
				Observe(time.Since(stageStart).Seconds())
		}

		if runCtx.Err() != nil {
			// Cancelled while the stage was in flight; results are
			// discarded, not counted.
			e.finish(task, StatusCancelled, fmt.Errorf("cancelled during stage %q", stage.Name))
			return
		}

		task.Outcomes = append(task.Outcomes, outcomes...)
		for _, o := range outcomes {
			if o.Success {
				successes++
			}
		}
		task.Progress = (i + 1) * 100 / len(plan.Stages)
		if err := e.store.UpdateTask(e.baseCtx, task); err != nil {
			e.logger.Warn("storing stage progress failed",
				slog.String("task_id", task.ID.String()),
				slog.String("error", err.Error()))
		}

		if callCtx.Err() != nil {
			// Task deadline elapsed; remaining stages never start.
			break
		}
	}

	if successes >= plan.Quorum {
		task.Result = aggregateResult(plan.Strategy, task.Outcomes)
		e.finish(task, StatusCompleted, nil)
		return
	}
	if plan.Strategy == decision.StrategyConsensus {
		e.finish(task, StatusFailed, fmt.Errorf("%d of %d required successes: %w", successes, plan.Quorum, ErrQuorumNotMet))
		return
	}
	e.finish(task, StatusFailed, fmt.Errorf("success criteria not met: %d of %d agents succeeded", successes, plan.Quorum))
}

// runStage invokes every member agent concurrently and collects outcomes
// until all have returned or the task deadline elapses. Agents that have
// not responded by the deadline are marked failed-by-timeout; late results
// are discarded.
func (e *Engine) runStage(callCtx context.Context, task *Task, stage workflow.Stage, byID map[string]*registry.Agent) []AgentOutcome {
	results := make(chan AgentOutcome, len(stage.AgentIDs))
	for _, agentID := range stage.AgentIDs {
		agent, ok := byID[agentID]
		if !ok {
			results <- AgentOutcome{AgentID: agentID, Error: "agent left the pool"}
			continue
		}
		go e.invokeAgent(callCtx, task, agent, results)
	}

	outcomes := make([]AgentOutcome, 0, len(stage.AgentIDs))
	responded := make(map[string]bool, len(stage.AgentIDs))
	for len(outcomes) < len(stage.AgentIDs) {
		select {
		case o := <-results:
			outcomes = append(outcomes, o)
			responded[o.AgentID] = true
		case <-callCtx.Done():
			for _, agentID := range stage.AgentIDs {
				if !responded[agentID] {
					outcomes = append(outcomes, AgentOutcome{
						AgentID: agentID,
						Error:   ErrAgentTimeout.Error(),
						Elapsed: task.Timeout,
					})
				}
			}
			return outcomes
		}
	}
	return outcomes
}

// invokeAgent runs one agent call under the shared worker pool and records
// its sample, counters, and metrics.
func (e *Engine) invokeAgent(ctx context.Context, task *Task, agent *registry.Agent, results chan<- AgentOutcome) {
	if err := e.workers.Acquire(ctx, 1); err != nil {
		results <- AgentOutcome{AgentID: agent.ID, Error: ErrAgentTimeout.Error()}
		return
	}
	defer e.workers.Release(1)

	done := agent.BeginCall()
	start := time.Now()
	res, err := agent.Invoker.Invoke(ctx, task.Objective, task.Input)
	elapsed := time.Since(start)
	done(err)

	e.monitor.RecordSample(agent.ID, perf.Metric{Latency: elapsed, Success: err == nil})
	if e.metrics != nil {
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		e.metrics.AgentCallsTotal.WithLabelValues(agent.ID, outcome).Inc()
		e.metrics.AgentCallDuration.WithLabelValues(agent.ID).Observe(elapsed.Seconds())
	}

	o := AgentOutcome{AgentID: agent.ID, Elapsed: elapsed}
	if err != nil {
		o.Error = err.Error()
	} else {
		o.Success = true
		if res != nil {
			o.Output = res.Output
		}
	}
	results <- o
}

// finish performs the terminal transition: the durable write happens
// before resources are released and before the outcome is acknowledged to
// the feedback layers. Failure paths are never exempt from cleanup.
func (e *Engine) finish(task *Task, status Status, cause error) {
	now := time.Now().UTC()
	task.Status = status
	task.CompletedAt = &now
	if status == StatusCompleted {
		task.Progress = 100
	}
	if cause != nil {
		task.Error = cause.Error()
	}

	if err := e.store.UpdateTask(e.baseCtx, task); err != nil {
		e.logger.Error("storing terminal state failed",
			slog.String("task_id", task.ID.String()),
			slog.String("status", string(status)),
			slog.String("error", err.Error()))
	}

	e.releaseAll(task)

	e.mu.Lock()
	if cancel, ok := e.cancels[task.ID]; ok {
		cancel()
		delete(e.cancels, task.ID)
	}
	e.mu.Unlock()

	var duration time.Duration
	if task.StartedAt != nil {
		duration = now.Sub(*task.StartedAt)
	}
	e.coordinator.RecordOutcome(task.ID, string(task.Strategy), status == StatusCompleted, duration)
	if e.journal != nil {
		rec := coordination.Record{
			TaskID:   task.ID,
			Strategy: string(task.Strategy),
			Success:  status == StatusCompleted,
			Duration: duration,
			At:       now,
		}
		if err := e.journal.AppendRecord(e.baseCtx, rec); err != nil {
			e.logger.Warn("appending coordination record failed",
				slog.String("task_id", task.ID.String()),
				slog.String("error", err.Error()))
		}
	}

	if e.metrics != nil {
		e.metrics.ActiveTasks.Dec()
		e.metrics.TasksTotal.WithLabelValues(string(status), string(task.Strategy)).Inc()
		e.metrics.TaskDuration.WithLabelValues(string(task.Strategy)).Observe(duration.Seconds())
	}

	attrs := []any{
		slog.String("task_id", task.ID.String()),
		slog.String("status", string(status)),
		slog.String("strategy", string(task.Strategy)),
		slog.Float64("duration_seconds", duration.Seconds()),
	}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
		e.logger.Warn("task finished", attrs...)
		return
	}
	e.logger.Info("task finished", attrs...)
}

// aggregateResult folds agent outputs into the task result. Consensus picks
// the plurality output among successes; other strategies take the last
// successful output, which for sequential plans is the final stage's.
func aggregateResult(strategy decision.Strategy, outcomes []AgentOutcome) string {
	if strategy == decision.StrategyConsensus {
		counts := make(map[string]int)
		best, bestN := "", 0
		for _, o := range outcomes {
			if !o.Success {
				continue
			}
			counts[o.Output]++
			if counts[o.Output] > bestN {
				best, bestN = o.Output, counts[o.Output]
			}
		}
		return best
	}
	var last string
	for _, o := range outcomes {
		if o.Success && o.Output != "" {
			last = o.Output
		}
	}
	return last
}
