// Package workflow turns a strategy decision into an execution plan: an
// ordered list of stages, each a set of agents that run concurrently.
package workflow

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/mifumo/pamoja/internal/decision"
	"github.com/mifumo/pamoja/internal/registry"
)

// RollbackReleaseAndFail is the default rollback policy: release all held
// resources and mark the task failed when success criteria are not met.
const RollbackReleaseAndFail = "release_and_fail"

// Stage is one step of a plan. All member agents run concurrently; the
// plan moves on when every member has returned or the task times out.
type Stage struct {
	Name     string   `json:"name"`
	AgentIDs []string `json:"agent_ids"`
}

// Plan is the executable shape of one task. One active plan per task.
type Plan struct {
	TaskID   uuid.UUID         `json:"task_id"`
	Strategy decision.Strategy `json:"strategy"`
	Stages   []Stage           `json:"stages"`
	// Quorum is the number of successful agent results required across
	// all stages for the task to complete.
	Quorum   int    `json:"quorum"`
	Rollback string `json:"rollback"`
}

// AgentCount is the total number of agent slots across all stages.
func (p *Plan) AgentCount() int {
	var n int
	for _, s := range p.Stages {
		n += len(s.AgentIDs)
	}
	return n
}

// Design builds the plan for a task. Agents arrive in registration order.
// explicitQuorum overrides the consensus majority default when positive;
// non-consensus strategies require every agent to succeed.
func Design(taskID uuid.UUID, strategy decision.Strategy, agents []*registry.Agent, explicitQuorum int) (*Plan, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("design %s plan: no agents", strategy)
	}

	p := &Plan{
		TaskID:   taskID,
		Strategy: strategy,
		Quorum:   len(agents),
		Rollback: RollbackReleaseAndFail,
	}

	switch strategy {
	case decision.StrategySequential:
		for _, a := range agents {
			p.Stages = append(p.Stages, Stage{Name: "agent:" + a.ID, AgentIDs: []string{a.ID}})
		}

	case decision.StrategyParallel:
		p.Stages = []Stage{{Name: "parallel", AgentIDs: agentIDs(agents)}}

	case decision.StrategyHierarchical:
		p.Stages = tierStages(agents)

	case decision.StrategyConsensus:
		p.Stages = []Stage{{Name: "consensus", AgentIDs: agentIDs(agents)}}
		// Simple majority unless the task pins a quorum.
		p.Quorum = len(agents)/2 + 1
		if explicitQuorum > 0 {
			if explicitQuorum > len(agents) {
				return nil, fmt.Errorf("design consensus plan: quorum %d exceeds %d agents", explicitQuorum, len(agents))
			}
			p.Quorum = explicitQuorum
		}

	case decision.StrategyHybrid:
		var independent, dependent []*registry.Agent
		for _, a := range agents {
			if a.Independent {
				independent = append(independent, a)
			} else {
				dependent = append(dependent, a)
			}
		}
		if len(independent) > 0 {
			p.Stages = append(p.Stages, Stage{Name: "independent", AgentIDs: agentIDs(independent)})
		}
		for _, a := range dependent {
			p.Stages = append(p.Stages, Stage{Name: "dependent:" + a.ID, AgentIDs: []string{a.ID}})
		}

	default:
		return nil, fmt.Errorf("design plan: unknown strategy %q", strategy)
	}

	return p, nil
}

// tierStages groups agents by declared tier, highest first. Order within a
// tier is registration order.
func tierStages(agents []*registry.Agent) []Stage {
	byTier := make(map[int][]*registry.Agent)
	for _, a := range agents {
		byTier[a.Tier] = append(byTier[a.Tier], a)
	}
	tiers := make([]int, 0, len(byTier))
	for t := range byTier {
		tiers = append(tiers, t)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(tiers)))

	stages := make([]Stage, 0, len(tiers))
	for _, t := range tiers {
		stages = append(stages, Stage{
			Name:     fmt.Sprintf("tier:%d", t),
			AgentIDs: agentIDs(byTier[t]),
		})
	}
	return stages
}

func agentIDs(agents []*registry.Agent) []string {
	out := make([]string, len(agents))
	for i, a := range agents {
		out[i] = a.ID
	}
	return out
}
