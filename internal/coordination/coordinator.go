// Package coordination tracks how well each orchestration strategy has been
// working. Outcomes land in a bounded per-strategy window; effectiveness is
// the success ratio over that window, with a neutral prior for strategies
// that have not yet run.
package coordination

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Record is one completed task outcome attributed to a strategy.
type Record struct {
	TaskID   uuid.UUID     `json:"task_id"`
	Strategy string        `json:"strategy"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// Config tunes coordinator behavior. Zero values select defaults.
type Config struct {
	// WindowSize bounds the number of records kept per strategy.
	// Default: 64.
	WindowSize int
	// NeutralPrior is the effectiveness reported for strategies with no
	// records yet. Default: 0.5.
	NeutralPrior float64
}

func (c Config) windowSize() int {
	if c.WindowSize > 0 {
		return c.WindowSize
	}
	return 64
}

func (c Config) neutralPrior() float64 {
	if c.NeutralPrior > 0 {
		return c.NeutralPrior
	}
	return 0.5
}

// window is a fixed-capacity ring of records for one strategy.
type window struct {
	records []Record
	next    int
	full    bool
}

func (w *window) push(r Record, capacity int) {
	if len(w.records) < capacity {
		w.records = append(w.records, r)
		return
	}
	w.records[w.next] = r
	w.next = (w.next + 1) % capacity
	w.full = true
}

// Coordinator accumulates strategy outcomes and serves effectiveness
// ratios to the decision engine. Safe for concurrent use.
type Coordinator struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu      sync.RWMutex
	windows map[string]*window
}

// NewCoordinator creates a coordinator with the given window config.
func NewCoordinator(cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// RecordOutcome appends one task outcome to the strategy's window. Older
// records fall out once the window is full.
func (c *Coordinator) RecordOutcome(taskID uuid.UUID, strategy string, success bool, duration time.Duration) {
	if strategy == "" {
		return
	}
	rec := Record{
		TaskID:   taskID,
		Strategy: strategy,
		Success:  success,
		Duration: duration,
		At:       c.now(),
	}

	c.mu.Lock()
	w := c.windows[strategy]
	if w == nil {
		w = &window{}
		c.windows[strategy] = w
	}
	w.push(rec, c.config.windowSize())
	c.mu.Unlock()

	c.logger.Debug("coordination record",
		slog.String("task_id", taskID.String()),
		slog.String("strategy", strategy),
		slog.Bool("success", success),
		slog.Float64("duration_seconds", duration.Seconds()))
}

// Effectiveness reports successes/total over the strategy's window.
// Strategies with no records report the neutral prior so callers always
// have a usable signal.
func (c *Coordinator) Effectiveness(strategy string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w := c.windows[strategy]
	if w == nil || len(w.records) == 0 {
		return c.config.neutralPrior()
	}
	var successes int
	for _, r := range w.records {
		if r.Success {
			successes++
		}
	}
	return float64(successes) / float64(len(w.records))
}

// Table returns the effectiveness ratio for every strategy seen so far.
func (c *Coordinator) Table() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.windows))
	for strategy, w := range c.windows {
		var successes int
		for _, r := range w.records {
			if r.Success {
				successes++
			}
		}
		out[strategy] = float64(successes) / float64(len(w.records))
	}
	return out
}

// Records returns a copy of the bounded window for one strategy, newest
// last. Used by the HTTP API's introspection endpoint.
func (c *Coordinator) Records(strategy string) []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w := c.windows[strategy]
	if w == nil {
		return nil
	}
	out := make([]Record, 0, len(w.records))
	if w.full {
		out = append(out, w.records[w.next:]...)
		out = append(out, w.records[:w.next]...)
	} else {
		out = append(out, w.records...)
	}
	return out
}
