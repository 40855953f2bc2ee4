// Package resource implements the capacity ledger used for task admission
// control. Every resource type keeps its own pool and its own lock, so
// reservations against unrelated types never contend.
package resource

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Sentinel errors for ledger operations.
var (
	ErrAdmissionRejected  = errors.New("insufficient resource capacity")
	ErrUnknownResource    = errors.New("unknown resource type")
	ErrAllocationNotFound = errors.New("allocation not found")
)

// Capacity declares a single resource type and its total capacity.
type Capacity struct {
	Type     string  `json:"type" yaml:"type"`         // e.g. "cpu", "memory_mb", "agent_slots".
	Unit     string  `json:"unit" yaml:"unit"`         // Display unit, informational only.
	Capacity float64 `json:"capacity" yaml:"capacity"` // Total capacity. Must be > 0.
}

// Utilization reports the live usage of one resource type.
type Utilization struct {
	Type      string  `json:"type"`
	Unit      string  `json:"unit"`
	Capacity  float64 `json:"capacity"`
	Used      float64 `json:"used"`
	Available float64 `json:"available"`
	Percent   float64 `json:"percent"`
}

// Allocation is one live reservation against a resource type.
type Allocation struct {
	ID     uuid.UUID
	Type   string
	Amount float64
	TaskID uuid.UUID
}

// pool holds the live state for one resource type.
// Each pool has its own mutex so reserve/release on different types
// proceed independently.
type pool struct {
	mu          sync.Mutex
	unit        string
	capacity    float64
	allocations map[uuid.UUID]float64 // allocation id → amount.
}

func (p *pool) used() float64 {
	var total float64
	for _, amount := range p.allocations {
		total += amount
	}
	return total
}

// Ledger tracks capacity and live allocations per resource type.
// The set of resource types is fixed at construction; allocations come
// and go with task admission and terminal transitions.
type Ledger struct {
	pools map[string]*pool

	// index maps allocation id → resource type so Release does not need
	// the caller to remember which type an allocation belongs to.
	indexMu sync.Mutex
	index   map[uuid.UUID]Allocation

	logger *slog.Logger
}

// NewLedger creates a ledger from the declared capacities.
// Duplicate types or non-positive capacities are rejected.
func NewLedger(capacities []Capacity, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	pools := make(map[string]*pool, len(capacities))
	for _, c := range capacities {
		if c.Type == "" {
			return nil, fmt.Errorf("resource type name must not be empty")
		}
		if c.Capacity <= 0 {
			return nil, fmt.Errorf("resource %q: capacity must be positive, got %v", c.Type, c.Capacity)
		}
		if _, dup := pools[c.Type]; dup {
			return nil, fmt.Errorf("resource %q declared twice", c.Type)
		}
		pools[c.Type] = &pool{
			unit:        c.Unit,
			capacity:    c.Capacity,
			allocations: make(map[uuid.UUID]float64),
		}
	}
	return &Ledger{
		pools:  pools,
		index:  make(map[uuid.UUID]Allocation),
		logger: logger,
	}, nil
}

// Reserve grants the full amount against one resource type or nothing.
// Concurrent reservations on the same type are serialized by the pool lock;
// a rejection leaves the pool untouched.
func (l *Ledger) Reserve(resourceType string, amount float64, taskID uuid.UUID) (uuid.UUID, error) {
	if amount <= 0 {
		return uuid.Nil, fmt.Errorf("reserve %q: amount must be positive, got %v", resourceType, amount)
	}
	p, ok := l.pools[resourceType]
	if !ok {
		return uuid.Nil, fmt.Errorf("reserve %q: %w", resourceType, ErrUnknownResource)
	}

	p.mu.Lock()
	available := p.capacity - p.used()
	if amount > available {
		p.mu.Unlock()
		l.logger.Warn("reservation rejected",
			slog.String("resource", resourceType),
			slog.Float64("requested", amount),
			slog.Float64("available", available),
			slog.String("task_id", taskID.String()),
		)
		return uuid.Nil, fmt.Errorf("reserve %v %s of %q (available %v): %w",
			amount, p.unit, resourceType, available, ErrAdmissionRejected)
	}
	id := uuid.New()
	p.allocations[id] = amount
	p.mu.Unlock()

	l.indexMu.Lock()
	l.index[id] = Allocation{ID: id, Type: resourceType, Amount: amount, TaskID: taskID}
	l.indexMu.Unlock()

	l.logger.Debug("resources reserved",
		slog.String("resource", resourceType),
		slog.Float64("amount", amount),
		slog.String("allocation_id", id.String()),
		slog.String("task_id", taskID.String()),
	)
	return id, nil
}

// Release frees one allocation. It is idempotent: releasing an id a second
// time is a no-op and reports ErrAllocationNotFound without touching capacity.
func (l *Ledger) Release(allocationID uuid.UUID) error {
	l.indexMu.Lock()
	alloc, ok := l.index[allocationID]
	if ok {
		delete(l.index, allocationID)
	}
	l.indexMu.Unlock()
	if !ok {
		return fmt.Errorf("release %s: %w", allocationID, ErrAllocationNotFound)
	}

	p := l.pools[alloc.Type]
	p.mu.Lock()
	delete(p.allocations, allocationID)
	p.mu.Unlock()

	l.logger.Debug("resources released",
		slog.String("resource", alloc.Type),
		slog.Float64("amount", alloc.Amount),
		slog.String("allocation_id", allocationID.String()),
	)
	return nil
}

// ReserveAll reserves every requested type for a task, in deterministic
// (sorted) order. If any reservation fails, previously granted ones are
// released and the admission error is returned: no partial side effects
// survive a rejection.
func (l *Ledger) ReserveAll(requests map[string]float64, taskID uuid.UUID) ([]uuid.UUID, error) {
	types := make([]string, 0, len(requests))
	for t := range requests {
		types = append(types, t)
	}
	sort.Strings(types)

	granted := make([]uuid.UUID, 0, len(types))
	for _, t := range types {
		id, err := l.Reserve(t, requests[t], taskID)
		if err != nil {
			for _, g := range granted {
				_ = l.Release(g)
			}
			return nil, err
		}
		granted = append(granted, id)
	}
	return granted, nil
}

// Utilization reports usage for one resource type.
func (l *Ledger) Utilization(resourceType string) (Utilization, error) {
	p, ok := l.pools[resourceType]
	if !ok {
		return Utilization{}, fmt.Errorf("utilization %q: %w", resourceType, ErrUnknownResource)
	}
	p.mu.Lock()
	used := p.used()
	capacity := p.capacity
	unit := p.unit
	p.mu.Unlock()

	return Utilization{
		Type:      resourceType,
		Unit:      unit,
		Capacity:  capacity,
		Used:      used,
		Available: capacity - used,
		Percent:   used / capacity * 100,
	}, nil
}

// Snapshot reports utilization for every resource type, sorted by name.
func (l *Ledger) Snapshot() []Utilization {
	types := make([]string, 0, len(l.pools))
	for t := range l.pools {
		types = append(types, t)
	}
	sort.Strings(types)

	out := make([]Utilization, 0, len(types))
	for _, t := range types {
		u, err := l.Utilization(t)
		if err != nil {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Types returns the declared resource type names, sorted.
func (l *Ledger) Types() []string {
	types := make([]string, 0, len(l.pools))
	for t := range l.pools {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
