package workflow

import (
	"context"
	"reflect"
	"testing"

	"github.com/google/uuid"

	"github.com/mifumo/pamoja/internal/decision"
	"github.com/mifumo/pamoja/internal/registry"
)

func agents(t *testing.T, descs ...registry.Descriptor) []*registry.Agent {
	t.Helper()
	r := registry.NewRegistry()
	inv := registry.InvokerFunc(func(ctx context.Context, objective string, input map[string]any) (*registry.Result, error) {
		return &registry.Result{}, nil
	})
	out := make([]*registry.Agent, 0, len(descs))
	for _, d := range descs {
		a, err := r.Register(d, inv)
		if err != nil {
			t.Fatalf("Register %s: %v", d.ID, err)
		}
		out = append(out, a)
	}
	return out
}

func stageIDs(p *Plan) [][]string {
	out := make([][]string, len(p.Stages))
	for i, s := range p.Stages {
		out[i] = s.AgentIDs
	}
	return out
}

func TestSequentialOneStagePerAgent(t *testing.T) {
	pool := agents(t, registry.Descriptor{ID: "a1"}, registry.Descriptor{ID: "a2"}, registry.Descriptor{ID: "a3"})
	p, err := Design(uuid.New(), decision.StrategySequential, pool, 0)
	if err != nil {
		t.Fatalf("Design: %v", err)
	}
	want := [][]string{{"a1"}, {"a2"}, {"a3"}}
	if !reflect.DeepEqual(stageIDs(p), want) {
		t.Fatalf("stages = %v, want %v", stageIDs(p), want)
	}
	if p.Quorum != 3 {
		t.Fatalf("quorum = %d, want all 3", p.Quorum)
	}
}

func TestParallelSingleStage(t *testing.T) {
	pool := agents(t, registry.Descriptor{ID: "a1"}, registry.Descriptor{ID: "a2"}, registry.Descriptor{ID: "a3"})
	p, err := Design(uuid.New(), decision.StrategyParallel, pool, 0)
	if err != nil {
		t.Fatalf("Design: %v", err)
	}
	if len(p.Stages) != 1 {
		t.Fatalf("stages = %d, want 1", len(p.Stages))
	}
	if !reflect.DeepEqual(p.Stages[0].AgentIDs, []string{"a1", "a2", "a3"}) {
		t.Fatalf("stage agents = %v", p.Stages[0].AgentIDs)
	}
	if p.Rollback != RollbackReleaseAndFail {
		t.Fatalf("rollback = %q", p.Rollback)
	}
}

func TestHierarchicalTiersHighestFirst(t *testing.T) {
	pool := agents(t,
		registry.Descriptor{ID: "worker1", Tier: 0},
		registry.Descriptor{ID: "lead", Tier: 2},
		registry.Descriptor{ID: "worker2", Tier: 0},
		registry.Descriptor{ID: "reviewer", Tier: 1},
	)
	p, err := Design(uuid.New(), decision.StrategyHierarchical, pool, 0)
	if err != nil {
		t.Fatalf("Design: %v", err)
	}
	want := [][]string{{"lead"}, {"reviewer"}, {"worker1", "worker2"}}
	if !reflect.DeepEqual(stageIDs(p), want) {
		t.Fatalf("stages = %v, want %v", stageIDs(p), want)
	}
}

func TestConsensusMajorityQuorum(t *testing.T) {
	pool := agents(t,
		registry.Descriptor{ID: "a1"}, registry.Descriptor{ID: "a2"},
		registry.Descriptor{ID: "a3"}, registry.Descriptor{ID: "a4"},
		registry.Descriptor{ID: "a5"},
	)
	p, err := Design(uuid.New(), decision.StrategyConsensus, pool, 0)
	if err != nil {
		t.Fatalf("Design: %v", err)
	}
	if len(p.Stages) != 1 || len(p.Stages[0].AgentIDs) != 5 {
		t.Fatalf("stages = %v, want single 5-agent stage", stageIDs(p))
	}
	if p.Quorum != 3 {
		t.Fatalf("quorum = %d, want majority 3 of 5", p.Quorum)
	}
}

func TestConsensusExplicitQuorum(t *testing.T) {
	pool := agents(t, registry.Descriptor{ID: "a1"}, registry.Descriptor{ID: "a2"}, registry.Descriptor{ID: "a3"})
	p, err := Design(uuid.New(), decision.StrategyConsensus, pool, 3)
	if err != nil {
		t.Fatalf("Design: %v", err)
	}
	if p.Quorum != 3 {
		t.Fatalf("quorum = %d, want explicit 3", p.Quorum)
	}
	if _, err := Design(uuid.New(), decision.StrategyConsensus, pool, 4); err == nil {
		t.Fatal("expected error for quorum above agent count")
	}
}

func TestHybridStages(t *testing.T) {
	pool := agents(t,
		registry.Descriptor{ID: "fetcher", Independent: true},
		registry.Descriptor{ID: "ranker", Independent: true},
		registry.Descriptor{ID: "writer"},
		registry.Descriptor{ID: "editor"},
	)
	p, err := Design(uuid.New(), decision.StrategyHybrid, pool, 0)
	if err != nil {
		t.Fatalf("Design: %v", err)
	}
	want := [][]string{{"fetcher", "ranker"}, {"writer"}, {"editor"}}
	if !reflect.DeepEqual(stageIDs(p), want) {
		t.Fatalf("stages = %v, want %v", stageIDs(p), want)
	}
	if p.AgentCount() != 4 {
		t.Fatalf("agent count = %d, want 4", p.AgentCount())
	}
}

func TestDesignRejectsEmptyPool(t *testing.T) {
	if _, err := Design(uuid.New(), decision.StrategyParallel, nil, 0); err == nil {
		t.Fatal("expected error for empty agent list")
	}
}

func TestDesignRejectsUnknownStrategy(t *testing.T) {
	pool := agents(t, registry.Descriptor{ID: "a1"})
	if _, err := Design(uuid.New(), decision.Strategy("quantum"), pool, 0); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}
