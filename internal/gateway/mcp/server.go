// Package mcp exposes the orchestration engine over the Model Context
// Protocol so LLM clients can submit tasks and query the system as tools.
// Serves on stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mifumo/pamoja/internal/archgraph"
	"github.com/mifumo/pamoja/internal/decision"
	"github.com/mifumo/pamoja/internal/engine"
	"github.com/mifumo/pamoja/internal/observability"
)

// Server wraps an MCP stdio server around the engine.
type Server struct {
	engine  *engine.Engine
	metrics *observability.MetricsCollector
	logger  *slog.Logger
	mcp     *server.MCPServer
}

// NewServer creates the MCP gateway. The metrics collector may be nil.
func NewServer(eng *engine.Engine, metrics *observability.MetricsCollector, logger *slog.Logger) *Server {
	s := &Server{
		engine:  eng,
		metrics: metrics,
		logger:  logger,
	}

	s.mcp = server.NewMCPServer("pamoja", "0.1.0",
		server.WithToolCapabilities(false),
	)

	s.mcp.AddTool(mcp.NewTool("submit_task",
		mcp.WithDescription("Submit a task for multi-agent orchestration. Returns the task record including the selected strategy."),
		mcp.WithString("objective", mcp.Required(), mcp.Description("What the task should accomplish")),
		mcp.WithString("strategy", mcp.Description("Requested strategy: sequential, parallel, hierarchical, consensus, or hybrid. Empty selects automatically")),
		mcp.WithString("priority", mcp.Description("Task priority: low, medium, high, or critical")),
		mcp.WithNumber("timeout_secs", mcp.Description("Execution timeout in seconds")),
	), s.wrap("submit_task", s.handleSubmitTask))

	s.mcp.AddTool(mcp.NewTool("task_status",
		mcp.WithDescription("Get the current status, progress, and outcomes of a task."),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task ID (UUID)")),
	), s.wrap("task_status", s.handleTaskStatus))

	s.mcp.AddTool(mcp.NewTool("resource_utilization",
		mcp.WithDescription("Current utilization of every resource pool."),
	), s.wrap("resource_utilization", s.handleResourceUtilization))

	s.mcp.AddTool(mcp.NewTool("performance_insights",
		mcp.WithDescription("Agent and system performance scores, trends, and active alerts."),
	), s.wrap("performance_insights", s.handlePerformanceInsights))

	s.mcp.AddTool(mcp.NewTool("optimize_architecture",
		mcp.WithDescription("Analyze an architecture graph (nodes and edges as JSON) for coupling, bottlenecks, and single points of failure."),
		mcp.WithString("graph", mcp.Required(), mcp.Description("Architecture graph as a JSON object with nodes and edges")),
	), s.wrap("optimize_architecture", s.handleOptimizeArchitecture))

	return s
}

// ServeStdio blocks serving MCP over stdin/stdout until the client
// disconnects or ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("mcp gateway serving on stdio")
	return server.ServeStdio(s.mcp, server.WithStdioContextFunc(
		func(context.Context) context.Context { return ctx },
	))
}

// wrap adds logging and metrics around a tool handler.
func (s *Server) wrap(name string, h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		res, err := h(ctx, req)

		status := "ok"
		if err != nil || (res != nil && res.IsError) {
			status = "error"
		}
		if s.metrics != nil {
			s.metrics.MCPToolCallsTotal.WithLabelValues(name, status).Inc()
		}
		s.logger.Debug("mcp tool call",
			slog.String("tool", name),
			slog.String("status", status),
		)
		return res, err
	}
}

func (s *Server) handleSubmitTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	objective, err := req.RequireString("objective")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	task, err := s.engine.Submit(ctx, &engine.TaskRequest{
		Objective: objective,
		Strategy:  decision.Strategy(req.GetString("strategy", "")),
		Priority:  engine.Priority(req.GetString("priority", "")),
		Timeout:   time.Duration(req.GetFloat("timeout_secs", 0)) * time.Second,
	})
	if err != nil {
		if task != nil {
			// Rejected tasks carry the cause in the record.
			return jsonResult(task)
		}
		return mcp.NewToolResultError(fmt.Sprintf("submission failed: %v", err)), nil
	}
	return jsonResult(task)
}

func (s *Server) handleTaskStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return mcp.NewToolResultError("task_id must be a UUID"), nil
	}

	task, err := s.engine.Status(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("task %s not found", id)), nil
	}
	return jsonResult(task)
}

func (s *Server) handleResourceUtilization(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.engine.ResourceUtilization())
}

func (s *Server) handlePerformanceInsights(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	insights, err := s.engine.PerformanceInsights()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("gathering insights failed: %v", err)), nil
	}
	return jsonResult(insights)
}

func (s *Server) handleOptimizeArchitecture(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("graph")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var graph archgraph.Graph
	if err := json.Unmarshal([]byte(raw), &graph); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid graph JSON: %v", err)), nil
	}

	report, err := s.engine.OptimizeArchitecture(&graph)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("analysis failed: %v", err)), nil
	}
	return jsonResult(report)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
