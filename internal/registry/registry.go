// Package registry tracks the live agent pool. Agents register with a typed
// descriptor and an Invoker; the engine reads snapshots of the pool and
// updates load and health counters atomically.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrAgentNotFound indicates an unknown agent id.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrDuplicateAgent indicates a registration under an id already in use.
	ErrDuplicateAgent = errors.New("agent already registered")
)

// Health is the registry's view of an agent's fitness for new work.
type Health string

const (
	HealthHealthy   Health = "healthy"
	HealthDegraded  Health = "degraded"
	HealthUnhealthy Health = "unhealthy"
)

// Result is one agent's answer to a stage call.
type Result struct {
	AgentID string        `json:"agent_id"`
	Output  string        `json:"output,omitempty"`
	Tokens  int           `json:"tokens,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Invoker executes one unit of work on behalf of an agent. Implementations
// must honor ctx cancellation; the engine enforces its own deadlines.
type Invoker interface {
	Invoke(ctx context.Context, objective string, input map[string]any) (*Result, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, objective string, input map[string]any) (*Result, error)

func (f InvokerFunc) Invoke(ctx context.Context, objective string, input map[string]any) (*Result, error) {
	return f(ctx, objective, input)
}

// Descriptor is the registration-time metadata for one agent.
type Descriptor struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	// Tier orders agents for hierarchical plans; higher tiers lead.
	Tier int `json:"tier,omitempty"`
	// Independent marks agents eligible for the parallel phase of
	// hybrid plans; the rest run in the dependent phase.
	Independent bool `json:"independent,omitempty"`
}

// Agent is one live pool member. Load and outcome counters use atomics
// since callers only need approximate values.
type Agent struct {
	Descriptor
	Invoker Invoker

	registeredAt time.Time
	load         atomic.Int64
	calls        atomic.Int64
	failures     atomic.Int64
	unhealthy    atomic.Bool
}

// Load is the number of in-flight calls on this agent.
func (a *Agent) Load() int64 { return a.load.Load() }

// BeginCall bumps the in-flight counter and returns a done function that
// records the outcome. Call done exactly once per BeginCall.
func (a *Agent) BeginCall() (done func(err error)) {
	a.load.Add(1)
	return func(err error) {
		a.load.Add(-1)
		a.calls.Add(1)
		if err != nil {
			a.failures.Add(1)
		}
	}
}

// SuccessRate is the rolling fraction of calls that succeeded. Agents with
// no calls yet report 1.0.
func (a *Agent) SuccessRate() float64 {
	calls := a.calls.Load()
	if calls == 0 {
		return 1.0
	}
	return float64(calls-a.failures.Load()) / float64(calls)
}

// SetUnhealthy marks or clears the agent's unhealthy flag, set by
// connection-level failures in the gateway.
func (a *Agent) SetUnhealthy(v bool) { a.unhealthy.Store(v) }

// Health derives the agent's fitness from its flag and success rate.
func (a *Agent) Health() Health {
	if a.unhealthy.Load() {
		return HealthUnhealthy
	}
	if a.SuccessRate() < 0.5 {
		return HealthDegraded
	}
	return HealthHealthy
}

// Snapshot is a read-only copy of an agent's live state.
type Snapshot struct {
	Descriptor
	Load        int64   `json:"load"`
	Health      Health  `json:"health"`
	SuccessRate float64 `json:"success_rate"`
}

// Registry is the thread-safe agent pool. Iteration order is registration
// order, which sequential plans rely on.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Agent
	ordered []*Agent
}

// NewRegistry creates an empty pool.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Agent)}
}

// Register adds an agent to the pool and returns its live handle.
func (r *Registry) Register(desc Descriptor, inv Invoker) (*Agent, error) {
	if desc.ID == "" {
		return nil, fmt.Errorf("register: empty agent id")
	}
	if inv == nil {
		return nil, fmt.Errorf("register %s: nil invoker", desc.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[desc.ID]; exists {
		return nil, fmt.Errorf("register %s: %w", desc.ID, ErrDuplicateAgent)
	}
	a := &Agent{Descriptor: desc, Invoker: inv, registeredAt: time.Now()}
	r.byID[desc.ID] = a
	r.ordered = append(r.ordered, a)
	return a, nil
}

// Deregister removes an agent from the pool.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[id]; !exists {
		return fmt.Errorf("deregister %s: %w", id, ErrAgentNotFound)
	}
	delete(r.byID, id)
	for i, a := range r.ordered {
		if a.ID == id {
			r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns the live handle for one agent.
func (r *Registry) Get(id string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, ErrAgentNotFound)
	}
	return a, nil
}

// Agents returns the live handles in registration order.
func (r *Registry) Agents() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Agent, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// ListAgents returns read-only snapshots in registration order.
func (r *Registry) ListAgents() []Snapshot {
	agents := r.Agents()
	out := make([]Snapshot, 0, len(agents))
	for _, a := range agents {
		out = append(out, Snapshot{
			Descriptor:  a.Descriptor,
			Load:        a.Load(),
			Health:      a.Health(),
			SuccessRate: a.SuccessRate(),
		})
	}
	return out
}

// Match returns the agents, in registration order, that are not unhealthy
// and cover every required capability. Registration order is load-agnostic
// so sequential plans visit agents in a stable, reproducible order. An
// empty requirement matches all non-unhealthy agents.
func (r *Registry) Match(required []string) []*Agent {
	agents := r.Agents()
	out := make([]*Agent, 0, len(agents))
	for _, a := range agents {
		if a.Health() == HealthUnhealthy {
			continue
		}
		if hasAll(a.Capabilities, required) {
			out = append(out, a)
		}
	}
	return out
}

func hasAll(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
