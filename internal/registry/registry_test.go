package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func echoInvoker(id string) Invoker {
	return InvokerFunc(func(ctx context.Context, objective string, input map[string]any) (*Result, error) {
		return &Result{AgentID: id, Output: objective}, nil
	})
}

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	_, err := r.Register(Descriptor{ID: "a1", Name: "alpha", Capabilities: []string{"nlp"}}, echoInvoker("a1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	a, err := r.Get("a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if a.Name != "alpha" || a.Health() != HealthHealthy {
		t.Fatalf("got %+v health=%s", a.Descriptor, a.Health())
	}
	if _, err := r.Get("ghost"); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("Get ghost: %v, want ErrAgentNotFound", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(Descriptor{ID: "a1"}, echoInvoker("a1")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := r.Register(Descriptor{ID: "a1"}, echoInvoker("a1")); !errors.Is(err, ErrDuplicateAgent) {
		t.Fatalf("duplicate register: %v, want ErrDuplicateAgent", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(Descriptor{}, echoInvoker("x")); err == nil {
		t.Fatal("expected error for empty id")
	}
	if _, err := r.Register(Descriptor{ID: "a1"}, nil); err == nil {
		t.Fatal("expected error for nil invoker")
	}
}

func TestRegistrationOrderPreserved(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("a%d", i)
		if _, err := r.Register(Descriptor{ID: id}, echoInvoker(id)); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}
	if err := r.Deregister("a2"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	want := []string{"a0", "a1", "a3", "a4"}
	snaps := r.ListAgents()
	if len(snaps) != len(want) {
		t.Fatalf("agents = %d, want %d", len(snaps), len(want))
	}
	for i, s := range snaps {
		if s.ID != want[i] {
			t.Fatalf("agent %d = %s, want %s", i, s.ID, want[i])
		}
	}
}

func TestMatchCapabilities(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Descriptor{ID: "a1", Capabilities: []string{"nlp", "search"}})
	mustRegister(t, r, Descriptor{ID: "a2", Capabilities: []string{"nlp"}})
	mustRegister(t, r, Descriptor{ID: "a3", Capabilities: []string{"vision"}})

	got := r.Match([]string{"nlp"})
	if len(got) != 2 || got[0].ID != "a1" || got[1].ID != "a2" {
		t.Fatalf("Match(nlp) = %v", ids(got))
	}
	if got := r.Match([]string{"nlp", "search"}); len(got) != 1 || got[0].ID != "a1" {
		t.Fatalf("Match(nlp,search) = %v", ids(got))
	}
	if got := r.Match(nil); len(got) != 3 {
		t.Fatalf("Match(nil) = %v, want all", ids(got))
	}
}

func TestMatchSkipsUnhealthy(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Descriptor{ID: "a1", Capabilities: []string{"nlp"}})
	mustRegister(t, r, Descriptor{ID: "a2", Capabilities: []string{"nlp"}})
	a, _ := r.Get("a1")
	a.SetUnhealthy(true)
	if got := r.Match([]string{"nlp"}); len(got) != 1 || got[0].ID != "a2" {
		t.Fatalf("Match = %v, want only a2", ids(got))
	}
}

func TestMatchKeepsRegistrationOrderUnderLoad(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Descriptor{ID: "a1", Capabilities: []string{"nlp"}})
	mustRegister(t, r, Descriptor{ID: "a2", Capabilities: []string{"nlp"}})
	mustRegister(t, r, Descriptor{ID: "a3", Capabilities: []string{"nlp"}})

	// Uneven in-flight load must not reorder candidates; sequential plans
	// run agents in registration order.
	a1, _ := r.Get("a1")
	done1 := a1.BeginCall()
	done2 := a1.BeginCall()
	a2, _ := r.Get("a2")
	done3 := a2.BeginCall()
	defer done1(nil)
	defer done2(nil)
	defer done3(nil)

	got := ids(r.Match([]string{"nlp"}))
	want := []string{"a1", "a2", "a3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Match order = %v, want %v", got, want)
		}
	}
}

func TestLoadAndSuccessRateCounters(t *testing.T) {
	r := NewRegistry()
	a := mustRegister(t, r, Descriptor{ID: "a1"})
	if a.SuccessRate() != 1.0 {
		t.Fatalf("initial success rate = %v, want 1.0", a.SuccessRate())
	}

	done := a.BeginCall()
	if a.Load() != 1 {
		t.Fatalf("load = %d, want 1", a.Load())
	}
	done(nil)
	failDone := a.BeginCall()
	failDone(errors.New("boom"))

	if a.Load() != 0 {
		t.Fatalf("load = %d, want 0", a.Load())
	}
	if a.SuccessRate() != 0.5 {
		t.Fatalf("success rate = %v, want 0.5", a.SuccessRate())
	}
}

func TestHealthDegradesOnFailures(t *testing.T) {
	r := NewRegistry()
	a := mustRegister(t, r, Descriptor{ID: "a1"})
	for i := 0; i < 4; i++ {
		done := a.BeginCall()
		done(errors.New("boom"))
	}
	if a.Health() != HealthDegraded {
		t.Fatalf("health = %s, want degraded", a.Health())
	}
}

func TestConcurrentCounters(t *testing.T) {
	r := NewRegistry()
	a := mustRegister(t, r, Descriptor{ID: "a1"})
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := a.BeginCall()
			done(nil)
		}()
	}
	wg.Wait()
	if a.Load() != 0 {
		t.Fatalf("load = %d, want 0", a.Load())
	}
	if a.SuccessRate() != 1.0 {
		t.Fatalf("success rate = %v, want 1.0", a.SuccessRate())
	}
}

func mustRegister(t *testing.T, r *Registry, d Descriptor) *Agent {
	t.Helper()
	a, err := r.Register(d, echoInvoker(d.ID))
	if err != nil {
		t.Fatalf("Register %s: %v", d.ID, err)
	}
	return a
}

func ids(agents []*Agent) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.ID
	}
	return out
}
