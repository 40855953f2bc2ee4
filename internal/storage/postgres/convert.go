package postgres

import (
	"encoding/json"
	"time"

	"github.com/mifumo/pamoja/internal/coordination"
	"github.com/mifumo/pamoja/internal/decision"
	"github.com/mifumo/pamoja/internal/engine"
)

func toTaskModel(t *engine.Task) TaskModel {
	return TaskModel{
		ID:                   t.ID,
		Objective:            t.Objective,
		RequiredCapabilities: marshalJSONB(t.RequiredCapabilities, "[]"),
		RequestedStrategy:    string(t.RequestedStrategy),
		Strategy:             string(t.Strategy),
		Priority:             string(t.Priority),
		TimeoutMS:            t.Timeout.Milliseconds(),
		Quorum:               t.Quorum,
		Resources:            marshalJSONB(t.Resources, "{}"),
		Input:                marshalJSONB(t.Input, "{}"),
		Status:               string(t.Status),
		Progress:             t.Progress,
		AssignedAgents:       marshalJSONB(t.AssignedAgents, "[]"),
		Outcomes:             marshalJSONB(t.Outcomes, "[]"),
		Allocations:          marshalJSONB(t.Allocations, "[]"),
		Result:               t.Result,
		Error:                t.Error,
		CreatedAt:            t.CreatedAt,
		StartedAt:            t.StartedAt,
		CompletedAt:          t.CompletedAt,
	}
}

func toTaskDomain(m *TaskModel) *engine.Task {
	t := &engine.Task{
		ID:                m.ID,
		Objective:         m.Objective,
		RequestedStrategy: decision.Strategy(m.RequestedStrategy),
		Strategy:          decision.Strategy(m.Strategy),
		Priority:          engine.Priority(m.Priority),
		Timeout:           time.Duration(m.TimeoutMS) * time.Millisecond,
		Quorum:            m.Quorum,
		Status:            engine.Status(m.Status),
		Progress:          m.Progress,
		Result:            m.Result,
		Error:             m.Error,
		CreatedAt:         m.CreatedAt,
		StartedAt:         m.StartedAt,
		CompletedAt:       m.CompletedAt,
	}
	unmarshalJSONB(m.RequiredCapabilities, &t.RequiredCapabilities)
	unmarshalJSONB(m.Resources, &t.Resources)
	unmarshalJSONB(m.Input, &t.Input)
	unmarshalJSONB(m.AssignedAgents, &t.AssignedAgents)
	unmarshalJSONB(m.Outcomes, &t.Outcomes)
	unmarshalJSONB(m.Allocations, &t.Allocations)
	return t
}

func toRecordModel(r coordination.Record) CoordinationRecordModel {
	return CoordinationRecordModel{
		TaskID:     r.TaskID,
		Strategy:   r.Strategy,
		Success:    r.Success,
		DurationMS: r.Duration.Milliseconds(),
		CreatedAt:  r.At,
	}
}

func toRecordDomain(m *CoordinationRecordModel) coordination.Record {
	return coordination.Record{
		TaskID:   m.TaskID,
		Strategy: m.Strategy,
		Success:  m.Success,
		Duration: time.Duration(m.DurationMS) * time.Millisecond,
		At:       m.CreatedAt,
	}
}

func marshalJSONB(v any, empty string) JSONB {
	if v == nil {
		return JSONB(empty)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return JSONB(empty)
	}
	return JSONB(b)
}

func unmarshalJSONB(b JSONB, dst any) {
	if len(b) == 0 {
		return
	}
	// Malformed stored JSON leaves dst zero rather than failing the read.
	_ = json.Unmarshal([]byte(b), dst)
}
