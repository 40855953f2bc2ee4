// Package perf tracks per-agent and system-wide execution health. Samples
// feed an exponentially weighted score; trend compares the most recent
// window against the prior one; alerts fire on low score or high failure
// rate and are deduplicated until the condition clears.
package perf

import (
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SystemScope is the pseudo agent id for the aggregate system score.
const SystemScope = "system"

// Trend is the direction of a score over the last two windows.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDegrading Trend = "degrading"
	TrendStable    Trend = "stable"
)

// AlertKind classifies a performance alert.
type AlertKind string

const (
	AlertLowScore        AlertKind = "low_score"
	AlertHighFailureRate AlertKind = "high_failure_rate"
)

// Alert names an agent in breach of a monitor threshold.
type Alert struct {
	AgentID   string    `json:"agent_id"`
	Kind      AlertKind `json:"kind"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Since     time.Time `json:"since"`
}

// Metric is one execution sample for an agent.
type Metric struct {
	Latency       time.Duration
	Success       bool
	ResourceUsage float64
}

// Snapshot is a point-in-time view of an agent's health.
type Snapshot struct {
	AgentID string    `json:"agent_id"`
	Score   float64   `json:"score"`
	Trend   Trend     `json:"trend"`
	Samples int       `json:"samples"`
	Updated time.Time `json:"updated"`
}

// Config tunes monitor behavior. Zero values select defaults.
type Config struct {
	// Alpha is the EWMA smoothing factor in (0,1]. Default: 0.2.
	Alpha float64
	// Window is the trend comparison window. Default: 5m.
	Window time.Duration
	// TrendThreshold is the score delta below which the trend is
	// reported as stable. Default: 2.0 points.
	TrendThreshold float64
	// ScoreFloor triggers a low-score alert when crossed downward.
	// Default: 60.
	ScoreFloor float64
	// FailureRateCeiling triggers a failure-rate alert when the windowed
	// failure fraction exceeds it. Default: 0.5.
	FailureRateCeiling float64
	// LatencyTarget is the latency that still earns a full score.
	// Default: 2s.
	LatencyTarget time.Duration
}

func (c Config) alpha() float64 {
	if c.Alpha > 0 && c.Alpha <= 1 {
		return c.Alpha
	}
	return 0.2
}

func (c Config) window() time.Duration {
	if c.Window > 0 {
		return c.Window
	}
	return 5 * time.Minute
}

func (c Config) trendThreshold() float64 {
	if c.TrendThreshold > 0 {
		return c.TrendThreshold
	}
	return 2.0
}

func (c Config) scoreFloor() float64 {
	if c.ScoreFloor > 0 {
		return c.ScoreFloor
	}
	return 60
}

func (c Config) failureRateCeiling() float64 {
	if c.FailureRateCeiling > 0 {
		return c.FailureRateCeiling
	}
	return 0.5
}

func (c Config) latencyTarget() time.Duration {
	if c.LatencyTarget > 0 {
		return c.LatencyTarget
	}
	return 2 * time.Second
}

type sample struct {
	at      time.Time
	score   float64
	success bool
}

type series struct {
	score   float64 // EWMA, 0-100.
	samples []sample
	total   int
	updated time.Time
}

// Monitor maintains rolling scores, trends, and alerts for agents and the
// system aggregate. All methods are safe for concurrent use.
type Monitor struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	agents map[string]*series
	active map[string]Alert // Keyed by agent id + kind.
}

// NewMonitor creates a monitor with the given thresholds.
func NewMonitor(cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Monitor{
		config: cfg,
		logger: logger,
		now:    time.Now,
		agents: make(map[string]*series),
		active: make(map[string]Alert),
	}
}

// RecordSample ingests one execution sample for an agent and folds it into
// the system aggregate.
func (m *Monitor) RecordSample(agentID string, metric Metric) {
	if agentID == "" || agentID == SystemScope {
		return
	}
	now := m.now()
	value := m.sampleScore(metric)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.record(agentID, now, value, metric.Success)
	m.record(SystemScope, now, value, metric.Success)
	m.refreshAlerts(agentID, now)
}

func (m *Monitor) record(id string, now time.Time, value float64, success bool) {
	s := m.agents[id]
	if s == nil {
		s = &series{score: value}
		m.agents[id] = s
	} else {
		a := m.config.alpha()
		s.score = a*value + (1-a)*s.score
	}
	s.samples = append(s.samples, sample{at: now, score: value, success: success})
	s.total++
	s.updated = now
	m.prune(s, now)
}

// prune drops samples older than two trend windows; anything beyond that
// no longer influences score trend or failure rate.
func (m *Monitor) prune(s *series, now time.Time) {
	cutoff := now.Add(-2 * m.config.window())
	i := 0
	for i < len(s.samples) && s.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.samples = append(s.samples[:0], s.samples[i:]...)
	}
}

// sampleScore maps one metric onto 0-100: success contributes 70 points,
// latency at or under target the remaining 30, degrading linearly to zero
// at four times the target.
func (m *Monitor) sampleScore(metric Metric) float64 {
	var score float64
	if metric.Success {
		score += 70
	}
	target := m.config.latencyTarget()
	switch {
	case metric.Latency <= target:
		score += 30
	case metric.Latency < 4*target:
		excess := float64(metric.Latency-target) / float64(3*target)
		score += 30 * (1 - excess)
	}
	return score
}

// Score reports the rolling score and trend for one agent, or for the whole
// system when id is SystemScope. Unknown agents score zero and stable.
func (m *Monitor) Score(id string) (float64, Trend) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.agents[id]
	if s == nil {
		return 0, TrendStable
	}
	return s.score, m.trend(s, m.now())
}

func (m *Monitor) trend(s *series, now time.Time) Trend {
	window := m.config.window()
	recentStart := now.Add(-window)
	priorStart := now.Add(-2 * window)

	var recentSum, priorSum float64
	var recentN, priorN int
	for _, sm := range s.samples {
		switch {
		case !sm.at.Before(recentStart):
			recentSum += sm.score
			recentN++
		case !sm.at.Before(priorStart):
			priorSum += sm.score
			priorN++
		}
	}
	if recentN == 0 || priorN == 0 {
		return TrendStable
	}
	delta := recentSum/float64(recentN) - priorSum/float64(priorN)
	threshold := m.config.trendThreshold()
	switch {
	case delta > threshold:
		return TrendImproving
	case delta < -threshold:
		return TrendDegrading
	default:
		return TrendStable
	}
}

func (m *Monitor) failureRate(s *series, now time.Time) (float64, int) {
	start := now.Add(-m.config.window())
	var failures, n int
	for _, sm := range s.samples {
		if sm.at.Before(start) {
			continue
		}
		n++
		if !sm.success {
			failures++
		}
	}
	if n == 0 {
		return 0, 0
	}
	return float64(failures) / float64(n), n
}

// refreshAlerts raises or clears alerts for one agent. Called under mu.
func (m *Monitor) refreshAlerts(agentID string, now time.Time) {
	s := m.agents[agentID]

	m.setAlert(agentID, AlertLowScore, s.score, m.config.scoreFloor(),
		s.score < m.config.scoreFloor(), now)

	rate, n := m.failureRate(s, now)
	m.setAlert(agentID, AlertHighFailureRate, rate, m.config.failureRateCeiling(),
		n > 0 && rate > m.config.failureRateCeiling(), now)
}

func (m *Monitor) setAlert(agentID string, kind AlertKind, value, threshold float64, breached bool, now time.Time) {
	key := agentID + "/" + string(kind)
	existing, active := m.active[key]
	switch {
	case breached && !active:
		m.active[key] = Alert{AgentID: agentID, Kind: kind, Value: value, Threshold: threshold, Since: now}
		m.logger.Warn("performance alert raised",
			slog.String("agent_id", agentID),
			slog.String("kind", string(kind)),
			slog.Float64("value", value),
			slog.Float64("threshold", threshold))
	case breached && active:
		existing.Value = value
		m.active[key] = existing
	case !breached && active:
		delete(m.active, key)
		m.logger.Info("performance alert cleared",
			slog.String("agent_id", agentID),
			slog.String("kind", string(kind)))
	}
}

// Alerts returns the active alerts sorted by agent id then kind.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.active))
	for _, a := range m.active {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AgentID != out[j].AgentID {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Snapshots returns the current per-agent views, system aggregate included,
// sorted by agent id.
func (m *Monitor) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	out := make([]Snapshot, 0, len(m.agents))
	for id, s := range m.agents {
		out = append(out, Snapshot{
			AgentID: id,
			Score:   s.score,
			Trend:   m.trend(s, now),
			Samples: s.total,
			Updated: s.updated,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}
