// Package decision selects an orchestration strategy and candidate agent
// subset for a task. The policy is deterministic: the same pool, task, and
// effectiveness table always yield the same decision.
package decision

import (
	"errors"
	"fmt"

	"github.com/mifumo/pamoja/internal/registry"
)

// ErrCapabilityUnavailable indicates no agent subset can satisfy the task's
// required capabilities under the requested or any valid strategy.
var ErrCapabilityUnavailable = errors.New("no agent subset satisfies required capabilities")

// Strategy is an orchestration strategy.
type Strategy string

const (
	StrategySequential   Strategy = "sequential"
	StrategyParallel     Strategy = "parallel"
	StrategyHierarchical Strategy = "hierarchical"
	StrategyConsensus    Strategy = "consensus"
	StrategyHybrid       Strategy = "hybrid"
)

// consensusMinAgents is the smallest pool for a meaningful quorum.
const consensusMinAgents = 3

// tieBreakOrder resolves effectiveness ties deterministically.
var tieBreakOrder = []Strategy{
	StrategyParallel,
	StrategyHierarchical,
	StrategySequential,
	StrategyConsensus,
	StrategyHybrid,
}

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySequential, StrategyParallel, StrategyHierarchical, StrategyConsensus, StrategyHybrid:
		return true
	}
	return false
}

// Request is the decision input for one task.
type Request struct {
	RequiredCapabilities []string
	RequestedStrategy    Strategy // Empty = auto-select.
}

// EffectivenessTable serves rolling success ratios per strategy.
type EffectivenessTable interface {
	Effectiveness(strategy string) float64
}

// Decision is the chosen strategy, the qualifying agents, and a
// human-readable account of why.
type Decision struct {
	Strategy Strategy
	Agents   []*registry.Agent
	Reason   string
}

// Config tunes selection. Zero values select defaults.
type Config struct {
	// TieBreakMargin is how far parallel's effectiveness must exceed the
	// best of hierarchical/consensus to win outright. Default: 0.1.
	TieBreakMargin float64
}

func (c Config) tieBreakMargin() float64 {
	if c.TieBreakMargin > 0 {
		return c.TieBreakMargin
	}
	return 0.1
}

// Engine applies the selection policy against a live pool.
type Engine struct {
	config Config
	pool   *registry.Registry
	table  EffectivenessTable
}

// NewEngine creates a decision engine over the given pool and table.
func NewEngine(cfg Config, pool *registry.Registry, table EffectivenessTable) *Engine {
	return &Engine{config: cfg, pool: pool, table: table}
}

// Decide selects a strategy and agent subset for the request.
func (e *Engine) Decide(req Request) (*Decision, error) {
	candidates := e.pool.Match(req.RequiredCapabilities)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("capabilities %v: %w", req.RequiredCapabilities, ErrCapabilityUnavailable)
	}

	if req.RequestedStrategy != "" {
		if !req.RequestedStrategy.Valid() {
			return nil, fmt.Errorf("unknown strategy %q", req.RequestedStrategy)
		}
		if !e.structurallyValid(req.RequestedStrategy, candidates) {
			return nil, fmt.Errorf("strategy %s needs more qualifying agents (have %d): %w",
				req.RequestedStrategy, len(candidates), ErrCapabilityUnavailable)
		}
		return &Decision{
			Strategy: req.RequestedStrategy,
			Agents:   candidates,
			Reason:   fmt.Sprintf("task requested %s; %d qualifying agents", req.RequestedStrategy, len(candidates)),
		}, nil
	}

	if len(candidates) < 2 {
		return &Decision{
			Strategy: StrategySequential,
			Agents:   candidates,
			Reason:   "single qualifying agent forces sequential",
		}, nil
	}

	parallel := e.table.Effectiveness(string(StrategyParallel))
	rival := e.table.Effectiveness(string(StrategyHierarchical))
	if e.structurallyValid(StrategyConsensus, candidates) {
		if c := e.table.Effectiveness(string(StrategyConsensus)); c > rival {
			rival = c
		}
	}
	if parallel > rival+e.config.tieBreakMargin() {
		return &Decision{
			Strategy: StrategyParallel,
			Agents:   candidates,
			Reason: fmt.Sprintf("parallel effectiveness %.2f beats rivals %.2f by more than margin %.2f",
				parallel, rival, e.config.tieBreakMargin()),
		}, nil
	}

	// Highest effectiveness among structurally valid strategies, ties
	// broken by fixed priority order.
	best := Strategy("")
	bestScore := -1.0
	for _, s := range tieBreakOrder {
		if !e.structurallyValid(s, candidates) {
			continue
		}
		if score := e.table.Effectiveness(string(s)); score > bestScore {
			best, bestScore = s, score
		}
	}
	return &Decision{
		Strategy: best,
		Agents:   candidates,
		Reason:   fmt.Sprintf("highest effectiveness %.2f among valid strategies for %d agents", bestScore, len(candidates)),
	}, nil
}

// structurallyValid reports whether the pool shape supports the strategy.
func (e *Engine) structurallyValid(s Strategy, agents []*registry.Agent) bool {
	switch s {
	case StrategyConsensus:
		return len(agents) >= consensusMinAgents
	case StrategyHybrid:
		var independent, dependent bool
		for _, a := range agents {
			if a.Independent {
				independent = true
			} else {
				dependent = true
			}
		}
		return independent && dependent
	default:
		return len(agents) >= 1
	}
}
