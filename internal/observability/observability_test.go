package observability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mifumo/pamoja/internal/config"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewNilConfig(t *testing.T) {
	obs, err := New(nil, discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
	// Methods on the nil facade must be safe.
	obs.Shutdown(context.Background())
	if obs.Registry() != nil {
		t.Error("expected nil registry")
	}
}

func TestNewMetricsEnabled(t *testing.T) {
	cfg := &config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
	}
	obs, err := New(cfg, discard())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if obs.Metrics == nil {
		t.Fatal("expected metrics collector")
	}
	if obs.Registry() == nil {
		t.Fatal("expected registry")
	}
	if obs.Tracer != nil {
		t.Error("tracing should stay disabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always exist")
	}

	obs.Metrics.HTTPRequestsTotal.WithLabelValues("GET", "/v1/tasks", "200").Inc()
	families, err := obs.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "pamoja_http_requests_total" {
			found = true
		}
	}
	if !found {
		t.Error("pamoja_http_requests_total not gathered")
	}
}

func TestTracerNilSafety(t *testing.T) {
	var ts *TracerSetup
	if ts.Tracer() == nil {
		t.Error("nil TracerSetup should return a noop tracer")
	}
	if err := ts.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown on nil: %v", err)
	}
}

func TestHealthLiveness(t *testing.T) {
	h := NewHealthChecker(discard())
	if got := h.CheckHealth().Status; got != "ok" {
		t.Errorf("liveness = %q", got)
	}
	if got := h.CheckReady(context.Background()).Status; got != "ok" {
		t.Errorf("readiness with no checks = %q", got)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetricsCollector()
	handler := HTTPMetricsMiddleware(metrics, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tasks", nil))

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d", rec.Code)
	}
	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() != "pamoja_http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "status_code" && l.GetValue() == "201" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("request counter with status 201 not recorded")
	}
}

func TestHTTPMetricsMiddlewareNilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthReadinessAggregation(t *testing.T) {
	h := NewHealthChecker(discard())
	h.AddCheck("storage", func(ctx context.Context) error { return nil })
	h.AddCheck("broker", func(ctx context.Context) error { return errors.New("connection refused") })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Fatalf("status = %q, want degraded", status.Status)
	}
	if status.Checks["storage"].Status != "ok" {
		t.Errorf("storage check = %+v", status.Checks["storage"])
	}
	if status.Checks["broker"].Status != "fail" || status.Checks["broker"].Message == "" {
		t.Errorf("broker check = %+v", status.Checks["broker"])
	}
}
