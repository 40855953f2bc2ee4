// Package httpapi implements the HTTP API gateway for Pamoja.
//
// Security:
//   - API key authentication on every /v1 request (constant-time comparison)
//   - Per-client rate limiting via token bucket
//   - Request bodies capped at 4 MiB
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/mifumo/pamoja/internal/archgraph"
	"github.com/mifumo/pamoja/internal/coordination"
	"github.com/mifumo/pamoja/internal/decision"
	"github.com/mifumo/pamoja/internal/engine"
	"github.com/mifumo/pamoja/internal/observability"
	"github.com/mifumo/pamoja/internal/ratelimit"
	"github.com/mifumo/pamoja/internal/resource"
)

// maxRequestBody caps request bodies; architecture graph submissions are the
// largest expected payload and stay well under this.
const maxRequestBody = 4 << 20

// ErrorBody is the standard error response used in OpenAPI documentation.
type ErrorBody struct {
	Error string `json:"error"`
}

// RecordLister exposes persisted coordination history to the gateway.
type RecordLister interface {
	ListRecords(ctx context.Context, strategy string, limit int) ([]coordination.Record, error)
}

// Config configures the HTTP API gateway.
type Config struct {
	ListenAddr string
	EnableDocs bool
	APIKeys    []string // Empty = auth disabled.

	// Observability.
	MetricsRegistry *prometheus.Registry
	MetricsPath     string
	HealthChecker   *observability.HealthChecker
	Metrics         *observability.MetricsCollector
	Tracer          trace.Tracer
}

// Gateway is the HTTP API gateway.
type Gateway struct {
	config  Config
	engine  *engine.Engine
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server
	records RecordLister // nil = persisted history endpoint returns live window only.

	extraRoutes []extraRoute
	okapi       *okapi.Okapi
	group       *okapi.Group
}

type extraRoute struct {
	pattern string
	handler http.Handler
}

// NewGateway creates an HTTP API gateway.
func NewGateway(cfg Config, eng *engine.Engine, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:  cfg,
		engine:  eng,
		limiter: rl,
		logger:  logger,
		okapi:   okapi.New(),
	}
}

// WithRecords attaches persisted coordination history to the gateway.
func (g *Gateway) WithRecords(rl RecordLister) *Gateway {
	g.records = rl
	return g
}

// WithHandler mounts an additional handler on the HTTP mux at the given
// pattern. Used for the WebSocket agent endpoint.
func (g *Gateway) WithHandler(pattern string, handler http.Handler) *Gateway {
	g.extraRoutes = append(g.extraRoutes, extraRoute{pattern: pattern, handler: handler})
	return g
}

// WithOpenAPIDocs enables the generated OpenAPI documentation UI.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "Pamoja",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
			next.ServeHTTP(w, r)
		})
	})
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	g.group = g.okapi.Group("/v1", g.authenticate)

	g.group.Post("/tasks", g.handleTaskSubmit,
		okapi.DocSummary("Submit a task for orchestration"),
		okapi.DocTags("Tasks"),
		okapi.DocRequestBody(SubmitTaskRequest{}),
		okapi.DocResponse(http.StatusAccepted, TaskResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusConflict, TaskResponse{}),
		okapi.DocResponse(http.StatusUnauthorized, ErrorBody{}),
		okapi.DocResponse(http.StatusTooManyRequests, ErrorBody{}),
	)
	g.group.Get("/tasks", g.handleTaskList,
		okapi.DocSummary("List tasks, optionally filtered by status"),
		okapi.DocTags("Tasks"),
		okapi.DocResponse([]TaskResponse{}),
	)
	g.group.Get("/tasks/{id}", g.handleTaskStatus,
		okapi.DocSummary("Get a task by ID"),
		okapi.DocTags("Tasks"),
		okapi.DocPathParam("id", "string", "Task ID (UUID)"),
		okapi.DocResponse(TaskResponse{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.group.Post("/tasks/{id}/cancel", g.handleTaskCancel,
		okapi.DocSummary("Cancel a running task at its next stage boundary"),
		okapi.DocTags("Tasks"),
		okapi.DocPathParam("id", "string", "Task ID (UUID)"),
		okapi.DocResponse(map[string]string{}),
		okapi.DocResponse(http.StatusConflict, ErrorBody{}),
	)

	g.group.Get("/resources", g.handleResources,
		okapi.DocSummary("Current resource pool utilization"),
		okapi.DocTags("Resources"),
		okapi.DocResponse([]resource.Utilization{}),
	)
	g.group.Get("/agents", g.handleAgents,
		okapi.DocSummary("List registered agents with load and health"),
		okapi.DocTags("Agents"),
	)
	g.group.Get("/insights", g.handleInsights,
		okapi.DocSummary("Performance insights across agents and the system"),
		okapi.DocTags("Insights"),
	)
	g.group.Get("/effectiveness", g.handleEffectiveness,
		okapi.DocSummary("Per-strategy effectiveness scores and recent outcomes"),
		okapi.DocTags("Insights"),
		okapi.DocResponse(EffectivenessResponse{}),
	)
	g.group.Post("/architecture/analyze", g.handleArchitectureAnalyze,
		okapi.DocSummary("Analyze an architecture graph for risks and improvements"),
		okapi.DocTags("Architecture"),
		okapi.DocRequestBody(archgraph.Graph{}),
		okapi.DocResponse(archgraph.Report{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
	)

	for _, er := range g.extraRoutes {
		g.okapi.HandleStd("GET", er.pattern, er.handler.ServeHTTP)
	}

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http api gateway starting", slog.String("addr", g.config.ListenAddr))
	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http api gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// SubmitTaskRequest is the JSON body for POST /v1/tasks.
type SubmitTaskRequest struct {
	Objective            string             `json:"objective"`
	RequiredCapabilities []string           `json:"required_capabilities,omitempty"`
	Strategy             string             `json:"strategy,omitempty"`
	Priority             string             `json:"priority,omitempty"`
	TimeoutSecs          int                `json:"timeout_secs,omitempty"`
	Quorum               int                `json:"quorum,omitempty"`
	Resources            map[string]float64 `json:"resources,omitempty"`
	Input                map[string]any     `json:"input,omitempty"`
}

// TaskResponse is the JSON shape for task endpoints.
type TaskResponse struct {
	ID             string                `json:"id"`
	Objective      string                `json:"objective"`
	Strategy       string                `json:"strategy,omitempty"`
	Priority       string                `json:"priority"`
	Status         string                `json:"status"`
	Progress       int                   `json:"progress"`
	AssignedAgents []string              `json:"assigned_agents,omitempty"`
	Outcomes       []engine.AgentOutcome `json:"outcomes,omitempty"`
	Result         string                `json:"result,omitempty"`
	Error          string                `json:"error,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
	StartedAt      *time.Time            `json:"started_at,omitempty"`
	CompletedAt    *time.Time            `json:"completed_at,omitempty"`
	CorrelationID  string                `json:"correlation_id,omitempty"`
}

func taskResponse(t *engine.Task, correlationID string) TaskResponse {
	return TaskResponse{
		ID:             t.ID.String(),
		Objective:      t.Objective,
		Strategy:       string(t.Strategy),
		Priority:       string(t.Priority),
		Status:         string(t.Status),
		Progress:       t.Progress,
		AssignedAgents: t.AssignedAgents,
		Outcomes:       t.Outcomes,
		Result:         t.Result,
		Error:          t.Error,
		CreatedAt:      t.CreatedAt,
		StartedAt:      t.StartedAt,
		CompletedAt:    t.CompletedAt,
		CorrelationID:  correlationID,
	}
}

func (g *Gateway) handleTaskSubmit(c *okapi.Context) error {
	client := c.GetString("clientKey")
	if g.limiter != nil {
		if err := g.limiter.Allow(client); err != nil {
			return c.AbortTooManyRequests("rate limit exceeded")
		}
	}

	var req SubmitTaskRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if req.Objective == "" {
		return c.AbortBadRequest("objective is required")
	}

	correlationID := newCorrelationID()
	g.logger.Info("http task submit",
		slog.String("correlation_id", correlationID),
		slog.String("strategy", req.Strategy),
	)

	task, err := g.engine.Submit(c.Context(), &engine.TaskRequest{
		Objective:            req.Objective,
		RequiredCapabilities: req.RequiredCapabilities,
		Strategy:             decision.Strategy(req.Strategy),
		Priority:             engine.Priority(req.Priority),
		Timeout:              time.Duration(req.TimeoutSecs) * time.Second,
		Quorum:               req.Quorum,
		Resources:            req.Resources,
		Input:                req.Input,
	})
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrInvalidTaskSpec):
			return c.AbortBadRequest(err.Error())
		case task != nil:
			// Admission or capability rejection: the task record carries
			// the cause.
			return c.JSON(http.StatusConflict, taskResponse(task, correlationID))
		default:
			g.logger.Error("task submission failed",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
			return c.AbortInternalServerError("submission failed")
		}
	}

	return c.JSON(http.StatusAccepted, taskResponse(task, correlationID))
}

func (g *Gateway) handleTaskStatus(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid task ID")
	}

	task, err := g.engine.Status(c.Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, okapi.M{"error": "task not found"})
	}
	return c.OK(taskResponse(task, ""))
}

func (g *Gateway) handleTaskList(c *okapi.Context) error {
	status := engine.Status(c.Request().URL.Query().Get("status"))
	tasks, err := g.engine.ListTasks(c.Context(), status)
	if err != nil {
		return c.AbortInternalServerError("listing tasks failed")
	}

	resp := make([]TaskResponse, len(tasks))
	for i := range tasks {
		resp[i] = taskResponse(&tasks[i], "")
	}
	return c.OK(resp)
}

func (g *Gateway) handleTaskCancel(c *okapi.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.AbortBadRequest("invalid task ID")
	}

	if err := g.engine.Cancel(c.Context(), id); err != nil {
		if errors.Is(err, engine.ErrTaskNotCancellable) {
			return c.JSON(http.StatusConflict, okapi.M{"error": "task is not cancellable"})
		}
		return c.AbortInternalServerError("cancellation failed")
	}
	return c.OK(okapi.M{"status": "cancelling"})
}

func (g *Gateway) handleResources(c *okapi.Context) error {
	return c.OK(g.engine.ResourceUtilization())
}

func (g *Gateway) handleAgents(c *okapi.Context) error {
	return c.OK(g.engine.Agents())
}

func (g *Gateway) handleInsights(c *okapi.Context) error {
	insights, err := g.engine.PerformanceInsights()
	if err != nil {
		return c.AbortInternalServerError("gathering insights failed")
	}
	return c.OK(insights)
}

// EffectivenessResponse is the JSON response for GET /v1/effectiveness.
type EffectivenessResponse struct {
	Scores  map[string]float64    `json:"scores"`
	History []coordination.Record `json:"history,omitempty"`
}

func (g *Gateway) handleEffectiveness(c *okapi.Context) error {
	resp := EffectivenessResponse{Scores: g.engine.Effectiveness()}

	if g.records != nil {
		history, err := g.records.ListRecords(c.Context(), c.Request().URL.Query().Get("strategy"), 50)
		if err != nil {
			g.logger.Warn("listing coordination history failed", slog.String("error", err.Error()))
		} else {
			resp.History = history
		}
	}
	return c.OK(resp)
}

func (g *Gateway) handleArchitectureAnalyze(c *okapi.Context) error {
	var graph archgraph.Graph
	if err := c.Bind(&graph); err != nil {
		return c.AbortBadRequest("invalid graph body")
	}

	report, err := g.engine.OptimizeArchitecture(&graph)
	if err != nil {
		if errors.Is(err, archgraph.ErrMalformedGraph) {
			return c.AbortBadRequest(err.Error())
		}
		return c.AbortInternalServerError("analysis failed")
	}
	return c.OK(report)
}

// HealthResponse is the JSON response for health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// authenticate validates the API key for /v1 routes. When no keys are
// configured, requests pass with the remote address as the client key.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		if len(g.config.APIKeys) == 0 {
			c.Set("clientKey", c.Request().RemoteAddr)
			return next(c)
		}

		authHeader := c.Header("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.AbortUnauthorized("missing or invalid Authorization header")
		}
		apiKey := strings.TrimPrefix(authHeader, "Bearer ")

		matched := false
		for _, key := range g.config.APIKeys {
			if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
				matched = true
			}
		}
		if !matched {
			return c.AbortUnauthorized("invalid API key")
		}
		c.Set("clientKey", apiKey)
		return next(c)
	}
}

func newCorrelationID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
