package engine

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper runs the engine's scheduled jobs: archival of terminal tasks past
// the retention window, and optional periodic re-analysis of the last
// architecture graph. It owns its cron runner; Start and Stop bracket the
// engine's lifecycle.
type Sweeper struct {
	engine           *Engine
	schedule         string
	analysisSchedule string
	cron             *cron.Cron
}

// NewSweeper creates a retention sweeper. schedule is a standard cron
// expression; empty selects hourly.
func NewSweeper(e *Engine, schedule string) *Sweeper {
	if schedule == "" {
		schedule = "@hourly"
	}
	return &Sweeper{engine: e, schedule: schedule}
}

// WithAnalysisSchedule adds a periodic architecture re-analysis job. Empty
// leaves it off.
func (s *Sweeper) WithAnalysisSchedule(schedule string) *Sweeper {
	s.analysisSchedule = schedule
	return s
}

// Start schedules the jobs. Returns an error for an invalid schedule.
func (s *Sweeper) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.schedule, s.sweep); err != nil {
		return err
	}
	if s.analysisSchedule != "" {
		if _, err := c.AddFunc(s.analysisSchedule, s.reanalyze); err != nil {
			return err
		}
	}
	c.Start()
	s.cron = c
	s.engine.logger.Info("retention sweeper started",
		slog.String("schedule", s.schedule),
		slog.Float64("retention_hours", s.engine.config.retention().Hours()))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Sweeper) sweep() {
	cutoff := time.Now().UTC().Add(-s.engine.config.retention())
	removed, err := s.engine.store.DeleteTerminalBefore(s.engine.baseCtx, cutoff)
	if err != nil {
		s.engine.logger.Warn("retention sweep failed", slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		s.engine.logger.Info("retention sweep archived tasks",
			slog.Int("removed", int(removed)),
			slog.String("cutoff", cutoff.Format(time.RFC3339)))
	}
}

func (s *Sweeper) reanalyze() {
	if _, err := s.engine.ReanalyzeArchitecture(); err != nil {
		s.engine.logger.Warn("scheduled architecture analysis failed",
			slog.String("error", err.Error()))
	}
}
