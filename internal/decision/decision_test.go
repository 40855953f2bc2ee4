package decision

import (
	"context"
	"errors"
	"testing"

	"github.com/mifumo/pamoja/internal/registry"
)

// staticTable serves fixed effectiveness scores, 0.5 when unlisted.
type staticTable map[string]float64

func (t staticTable) Effectiveness(strategy string) float64 {
	if v, ok := t[strategy]; ok {
		return v
	}
	return 0.5
}

func noopInvoker() registry.Invoker {
	return registry.InvokerFunc(func(ctx context.Context, objective string, input map[string]any) (*registry.Result, error) {
		return &registry.Result{}, nil
	})
}

func pool(t *testing.T, descs ...registry.Descriptor) *registry.Registry {
	t.Helper()
	r := registry.NewRegistry()
	for _, d := range descs {
		if _, err := r.Register(d, noopInvoker()); err != nil {
			t.Fatalf("Register %s: %v", d.ID, err)
		}
	}
	return r
}

func TestAutoSelectParallelForTiedScores(t *testing.T) {
	// Three healthy nlp agents, no strategy specified, neutral scores:
	// the tie-break priority order puts parallel first.
	r := pool(t,
		registry.Descriptor{ID: "a1", Capabilities: []string{"nlp"}},
		registry.Descriptor{ID: "a2", Capabilities: []string{"nlp"}},
		registry.Descriptor{ID: "a3", Capabilities: []string{"nlp"}},
	)
	e := NewEngine(Config{}, r, staticTable{})
	d, err := e.Decide(Request{RequiredCapabilities: []string{"nlp"}})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Strategy != StrategyParallel {
		t.Fatalf("strategy = %s, want parallel", d.Strategy)
	}
	if len(d.Agents) != 3 {
		t.Fatalf("agents = %d, want 3", len(d.Agents))
	}
}

func TestSingleAgentForcesSequential(t *testing.T) {
	r := pool(t, registry.Descriptor{ID: "a1", Capabilities: []string{"nlp"}})
	e := NewEngine(Config{}, r, staticTable{})
	d, err := e.Decide(Request{RequiredCapabilities: []string{"nlp"}})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Strategy != StrategySequential {
		t.Fatalf("strategy = %s, want sequential", d.Strategy)
	}
}

func TestNoQualifyingAgents(t *testing.T) {
	r := pool(t, registry.Descriptor{ID: "a1", Capabilities: []string{"vision"}})
	e := NewEngine(Config{}, r, staticTable{})
	if _, err := e.Decide(Request{RequiredCapabilities: []string{"nlp"}}); !errors.Is(err, ErrCapabilityUnavailable) {
		t.Fatalf("err = %v, want ErrCapabilityUnavailable", err)
	}
}

func TestRequestedStrategyHonored(t *testing.T) {
	r := pool(t,
		registry.Descriptor{ID: "a1", Capabilities: []string{"nlp"}},
		registry.Descriptor{ID: "a2", Capabilities: []string{"nlp"}},
	)
	// Even with hierarchical scoring higher, the explicit request wins.
	e := NewEngine(Config{}, r, staticTable{"hierarchical": 0.9})
	d, err := e.Decide(Request{RequiredCapabilities: []string{"nlp"}, RequestedStrategy: StrategySequential})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Strategy != StrategySequential {
		t.Fatalf("strategy = %s, want requested sequential", d.Strategy)
	}
}

func TestRequestedConsensusNeedsThreeAgents(t *testing.T) {
	r := pool(t,
		registry.Descriptor{ID: "a1", Capabilities: []string{"nlp"}},
		registry.Descriptor{ID: "a2", Capabilities: []string{"nlp"}},
	)
	e := NewEngine(Config{}, r, staticTable{})
	if _, err := e.Decide(Request{RequiredCapabilities: []string{"nlp"}, RequestedStrategy: StrategyConsensus}); !errors.Is(err, ErrCapabilityUnavailable) {
		t.Fatalf("err = %v, want ErrCapabilityUnavailable for consensus with 2 agents", err)
	}
}

func TestUnknownRequestedStrategy(t *testing.T) {
	r := pool(t, registry.Descriptor{ID: "a1"})
	e := NewEngine(Config{}, r, staticTable{})
	if _, err := e.Decide(Request{RequestedStrategy: Strategy("quantum")}); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestParallelWinsByMargin(t *testing.T) {
	r := pool(t,
		registry.Descriptor{ID: "a1", Capabilities: []string{"nlp"}},
		registry.Descriptor{ID: "a2", Capabilities: []string{"nlp"}},
	)
	e := NewEngine(Config{}, r, staticTable{"parallel": 0.9, "hierarchical": 0.6})
	d, err := e.Decide(Request{RequiredCapabilities: []string{"nlp"}})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Strategy != StrategyParallel {
		t.Fatalf("strategy = %s, want parallel", d.Strategy)
	}
}

func TestHighestEffectivenessWinsInsideMargin(t *testing.T) {
	r := pool(t,
		registry.Descriptor{ID: "a1", Capabilities: []string{"nlp"}},
		registry.Descriptor{ID: "a2", Capabilities: []string{"nlp"}},
		registry.Descriptor{ID: "a3", Capabilities: []string{"nlp"}},
	)
	// Parallel leads consensus by less than the margin but consensus has
	// the highest absolute score, so consensus wins the fallback scan.
	e := NewEngine(Config{}, r, staticTable{"parallel": 0.55, "consensus": 0.6, "hierarchical": 0.5, "sequential": 0.4})
	d, err := e.Decide(Request{RequiredCapabilities: []string{"nlp"}})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Strategy != StrategyConsensus {
		t.Fatalf("strategy = %s, want consensus", d.Strategy)
	}
}

func TestDecisionDeterministic(t *testing.T) {
	r := pool(t,
		registry.Descriptor{ID: "a1", Capabilities: []string{"nlp"}},
		registry.Descriptor{ID: "a2", Capabilities: []string{"nlp"}},
		registry.Descriptor{ID: "a3", Capabilities: []string{"nlp"}},
	)
	e := NewEngine(Config{}, r, staticTable{"parallel": 0.5, "consensus": 0.5})
	first, err := e.Decide(Request{RequiredCapabilities: []string{"nlp"}})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	for i := 0; i < 10; i++ {
		d, err := e.Decide(Request{RequiredCapabilities: []string{"nlp"}})
		if err != nil {
			t.Fatalf("Decide: %v", err)
		}
		if d.Strategy != first.Strategy {
			t.Fatalf("run %d chose %s, first chose %s", i, d.Strategy, first.Strategy)
		}
	}
}
