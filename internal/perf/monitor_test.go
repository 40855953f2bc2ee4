package perf

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// fakeClock advances manually so trend windows are deterministic.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMonitor(cfg Config) (*Monitor, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m := NewMonitor(cfg, nil)
	m.now = clock.now
	return m, clock
}

func TestScoreUnknownAgent(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	score, trend := m.Score("ghost")
	if score != 0 || trend != TrendStable {
		t.Fatalf("unknown agent: score=%v trend=%v", score, trend)
	}
}

func TestScoreConvergesOnSuccess(t *testing.T) {
	m, clock := newTestMonitor(Config{})
	for i := 0; i < 20; i++ {
		m.RecordSample("a1", Metric{Latency: 100 * time.Millisecond, Success: true})
		clock.advance(time.Second)
	}
	score, _ := m.Score("a1")
	if score < 99 {
		t.Fatalf("score = %v, want near 100 after sustained success", score)
	}
	sys, _ := m.Score(SystemScope)
	if sys < 99 {
		t.Fatalf("system score = %v, want near 100", sys)
	}
}

func TestTrendDegrading(t *testing.T) {
	m, clock := newTestMonitor(Config{Window: time.Minute})
	// Prior window: clean successes.
	for i := 0; i < 10; i++ {
		m.RecordSample("a1", Metric{Latency: 50 * time.Millisecond, Success: true})
		clock.advance(5 * time.Second)
	}
	clock.advance(15 * time.Second)
	// Recent window: failures.
	for i := 0; i < 10; i++ {
		m.RecordSample("a1", Metric{Latency: 50 * time.Millisecond, Success: false})
		clock.advance(5 * time.Second)
	}
	if _, trend := m.Score("a1"); trend != TrendDegrading {
		t.Fatalf("trend = %v, want degrading", trend)
	}
}

func TestTrendImproving(t *testing.T) {
	m, clock := newTestMonitor(Config{Window: time.Minute})
	for i := 0; i < 10; i++ {
		m.RecordSample("a1", Metric{Latency: 50 * time.Millisecond, Success: false})
		clock.advance(5 * time.Second)
	}
	clock.advance(15 * time.Second)
	for i := 0; i < 10; i++ {
		m.RecordSample("a1", Metric{Latency: 50 * time.Millisecond, Success: true})
		clock.advance(5 * time.Second)
	}
	if _, trend := m.Score("a1"); trend != TrendImproving {
		t.Fatalf("trend = %v, want improving", trend)
	}
}

func TestTrendStableWithOneWindow(t *testing.T) {
	m, clock := newTestMonitor(Config{Window: time.Minute})
	m.RecordSample("a1", Metric{Success: true})
	clock.advance(time.Second)
	if _, trend := m.Score("a1"); trend != TrendStable {
		t.Fatalf("trend = %v, want stable without a prior window", trend)
	}
}

func TestLowScoreAlertRaisesOnceAndClears(t *testing.T) {
	m, clock := newTestMonitor(Config{ScoreFloor: 60})
	for i := 0; i < 5; i++ {
		m.RecordSample("a1", Metric{Latency: time.Hour, Success: false})
		clock.advance(time.Second)
	}
	var lowScore int
	for _, a := range m.Alerts() {
		if a.AgentID == "a1" && a.Kind == AlertLowScore {
			lowScore++
		}
	}
	if lowScore != 1 {
		t.Fatalf("low score alerts = %d, want exactly 1 (deduplicated)", lowScore)
	}

	// Sustained success lifts the score back over the floor.
	for i := 0; i < 50; i++ {
		m.RecordSample("a1", Metric{Latency: 10 * time.Millisecond, Success: true})
		clock.advance(time.Second)
	}
	for _, a := range m.Alerts() {
		if a.AgentID == "a1" && a.Kind == AlertLowScore {
			t.Fatalf("low score alert still active after recovery: %+v", a)
		}
	}
}

func TestFailureRateAlert(t *testing.T) {
	m, clock := newTestMonitor(Config{FailureRateCeiling: 0.5})
	for i := 0; i < 4; i++ {
		m.RecordSample("a1", Metric{Latency: 10 * time.Millisecond, Success: i == 0})
		clock.advance(time.Second)
	}
	found := false
	for _, a := range m.Alerts() {
		if a.AgentID == "a1" && a.Kind == AlertHighFailureRate {
			found = true
			if a.Value <= 0.5 {
				t.Fatalf("alert value = %v, want > 0.5", a.Value)
			}
		}
	}
	if !found {
		t.Fatal("expected high failure rate alert")
	}
}

func TestSampleScoreLatencyPenalty(t *testing.T) {
	m, _ := newTestMonitor(Config{LatencyTarget: time.Second})
	fast := m.sampleScore(Metric{Latency: 500 * time.Millisecond, Success: true})
	slow := m.sampleScore(Metric{Latency: 3 * time.Second, Success: true})
	glacial := m.sampleScore(Metric{Latency: time.Minute, Success: true})
	if fast != 100 {
		t.Fatalf("fast sample = %v, want 100", fast)
	}
	if slow >= fast || slow <= glacial {
		t.Fatalf("latency penalty not monotonic: fast=%v slow=%v glacial=%v", fast, slow, glacial)
	}
	if glacial != 70 {
		t.Fatalf("glacial success = %v, want 70 (latency credit exhausted)", glacial)
	}
}

func TestInsightsGathersRegistry(t *testing.T) {
	m, clock := newTestMonitor(Config{})
	m.RecordSample("a1", Metric{Latency: 10 * time.Millisecond, Success: true})
	clock.advance(time.Second)

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pamoja",
		Name:      "tasks_total",
		Help:      "Tasks submitted.",
	})
	reg.MustRegister(counter)
	counter.Add(3)

	ins, err := m.Insights(reg, "pamoja_")
	if err != nil {
		t.Fatalf("Insights: %v", err)
	}
	if ins.SystemScore <= 0 {
		t.Fatalf("system score = %v, want > 0", ins.SystemScore)
	}
	if len(ins.Metrics) != 1 || ins.Metrics[0].Name != "pamoja_tasks_total" {
		t.Fatalf("metrics = %+v, want one pamoja_tasks_total entry", ins.Metrics)
	}
	if ins.Metrics[0].Value != 3 {
		t.Fatalf("counter value = %v, want 3", ins.Metrics[0].Value)
	}
}

func TestInsightsNilGatherer(t *testing.T) {
	m, _ := newTestMonitor(Config{})
	ins, err := m.Insights(nil, "")
	if err != nil {
		t.Fatalf("Insights: %v", err)
	}
	if len(ins.Metrics) != 0 {
		t.Fatalf("metrics = %+v, want none", ins.Metrics)
	}
}
