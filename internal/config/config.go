// Package config handles loading and validating Pamoja configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mifumo/pamoja/internal/storage"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Pamoja.
type Config struct {
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"` // Default: ~/.pamoja/data. Override: PAMOJA_DATA_DIR.
	Server        ServerConfig         `json:"server" yaml:"server"`
	Storage       *storage.Config      `json:"storage,omitempty" yaml:"storage,omitempty"` // nil = SQLite default (derived from data dir).
	Resources     []ResourceConfig     `json:"resources" yaml:"resources"`
	Engine        EngineConfig         `json:"engine" yaml:"engine"`
	Decision      DecisionConfig       `json:"decision" yaml:"decision"`
	Coordination  CoordinationConfig   `json:"coordination" yaml:"coordination"`
	Performance   PerformanceConfig    `json:"performance" yaml:"performance"`
	Analyzer      AnalyzerConfig       `json:"analyzer" yaml:"analyzer"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled.
	WS            WSConfig             `json:"ws" yaml:"ws"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string   `json:"addr" yaml:"addr"`                             // Default: ":8080".
	APIKeys         []string `json:"api_keys" yaml:"api_keys"`                     // Empty = auth disabled.
	RateLimit       float64  `json:"rate_limit" yaml:"rate_limit"`                 // Requests/second per client. 0 = disabled.
	RateBurst       int      `json:"rate_burst" yaml:"rate_burst"`                 // Default: 2x rate.
	ShutdownTimeout int      `json:"shutdown_timeout_s" yaml:"shutdown_timeout_s"` // Default: 15.
	EnableDocs      bool     `json:"enable_docs" yaml:"enable_docs"`               // Serve the OpenAPI documentation UI.
}

// ListenAddr returns the listen address, defaulting to ":8080".
func (s ServerConfig) ListenAddr() string {
	if s.Addr != "" {
		return s.Addr
	}
	return ":8080"
}

// ResourceConfig declares one resource pool for the ledger.
type ResourceConfig struct {
	Type     string  `json:"type" yaml:"type"`
	Unit     string  `json:"unit" yaml:"unit"`
	Capacity float64 `json:"capacity" yaml:"capacity"`
}

// EngineConfig configures the orchestration engine.
type EngineConfig struct {
	DefaultTimeoutS int    `json:"default_timeout_s" yaml:"default_timeout_s"` // Default: 300.
	MaxTimeoutS     int    `json:"max_timeout_s" yaml:"max_timeout_s"`         // Default: 3600.
	WorkerPoolSize  int    `json:"worker_pool_size" yaml:"worker_pool_size"`   // Default: 16.
	RetentionH      int    `json:"retention_h" yaml:"retention_h"`             // Default: 24.
	SweepSchedule   string `json:"sweep_schedule" yaml:"sweep_schedule"`       // Cron expression. Default: @hourly.
}

// DecisionConfig configures strategy selection.
type DecisionConfig struct {
	TieBreakMargin float64 `json:"tie_break_margin" yaml:"tie_break_margin"` // Default: 0.1.
}

// CoordinationConfig configures the effectiveness window.
type CoordinationConfig struct {
	WindowSize   int     `json:"window_size" yaml:"window_size"`     // Default: 64.
	NeutralPrior float64 `json:"neutral_prior" yaml:"neutral_prior"` // Default: 0.5.
}

// PerformanceConfig configures the performance monitor.
type PerformanceConfig struct {
	Alpha              float64 `json:"alpha" yaml:"alpha"`                               // EWMA factor. Default: 0.2.
	WindowS            int     `json:"window_s" yaml:"window_s"`                         // Trend window. Default: 300.
	TrendThreshold     float64 `json:"trend_threshold" yaml:"trend_threshold"`           // Default: 2.0.
	ScoreFloor         float64 `json:"score_floor" yaml:"score_floor"`                   // Default: 60.
	FailureRateCeiling float64 `json:"failure_rate_ceiling" yaml:"failure_rate_ceiling"` // Default: 0.5.
	LatencyTargetMS    int     `json:"latency_target_ms" yaml:"latency_target_ms"`       // Default: 2000.
}

// AnalyzerConfig configures the architecture graph analyzer.
type AnalyzerConfig struct {
	BottleneckMultiplier float64 `json:"bottleneck_multiplier" yaml:"bottleneck_multiplier"` // Default: 1.5.
	Schedule             string  `json:"schedule,omitempty" yaml:"schedule,omitempty"`       // Cron expression for periodic re-analysis. Empty = off.
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Health  *HealthConfig  `json:"health,omitempty" yaml:"health,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics".
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317".
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" (default) or "http".
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio"` // 0..1. Default: 1.0.
	Insecure    bool    `json:"insecure" yaml:"insecure"`
}

// HealthConfig configures liveness/readiness endpoints.
type HealthConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// WSConfig configures the WebSocket agent gateway.
type WSConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Path         string `json:"path" yaml:"path"`                     // Default: "/ws/agents".
	AuthToken    string `json:"auth_token" yaml:"auth_token"`         // Override: PAMOJA_WS_TOKEN.
	HeartbeatS   int    `json:"heartbeat_s" yaml:"heartbeat_s"`       // Default: 30.
	CallTimeoutS int    `json:"call_timeout_s" yaml:"call_timeout_s"` // Default: 60.
}

// Default returns a configuration with built-in defaults suitable for
// local development.
func Default() *Config {
	return &Config{
		Resources: []ResourceConfig{
			{Type: "cpu", Unit: "cores", Capacity: 16},
			{Type: "memory", Unit: "GiB", Capacity: 64},
			{Type: "agent_slots", Unit: "slots", Capacity: 32},
		},
	}
}

// Load reads configuration from a YAML or JSON file and applies
// environment overrides. An empty path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		resolved, err := resolvePath(path)
		if err != nil {
			return nil, fmt.Errorf("resolving config path %s: %w", path, err)
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", resolved, err)
		}
		switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
		case ".yml", ".yaml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
			}
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
			}
		}
	}

	// Environment overrides take precedence over file values.
	if v := os.Getenv("PAMOJA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PAMOJA_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("PAMOJA_API_KEY"); v != "" {
		cfg.Server.APIKeys = append(cfg.Server.APIKeys, v)
	}
	if v := os.Getenv("PAMOJA_DB_DSN"); v != "" {
		if cfg.Storage == nil {
			cfg.Storage = &storage.Config{}
		}
		cfg.Storage.Driver = storage.DriverPostgres
		cfg.Storage.Postgres.DSN = v
	}
	if v := os.Getenv("PAMOJA_WS_TOKEN"); v != "" {
		cfg.WS.AuthToken = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if len(c.Resources) == 0 {
		return fmt.Errorf("at least one resource pool must be configured")
	}
	seen := make(map[string]bool, len(c.Resources))
	for _, r := range c.Resources {
		if r.Type == "" {
			return fmt.Errorf("resource with empty type")
		}
		if r.Capacity <= 0 {
			return fmt.Errorf("resource %q capacity must be positive", r.Type)
		}
		if seen[r.Type] {
			return fmt.Errorf("duplicate resource type %q", r.Type)
		}
		seen[r.Type] = true
	}
	if c.Performance.Alpha < 0 || c.Performance.Alpha > 1 {
		return fmt.Errorf("performance alpha must be in [0,1]")
	}
	if c.Coordination.NeutralPrior < 0 || c.Coordination.NeutralPrior > 1 {
		return fmt.Errorf("coordination neutral prior must be in [0,1]")
	}
	if t := c.Observability; t != nil && t.Tracing != nil && t.Tracing.Enabled && t.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing enabled but no endpoint configured")
	}
	return nil
}

// ResolveDataDir returns the data directory, defaulting to ~/.pamoja/data.
func (c *Config) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		return resolvePath(c.DataDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".pamoja", "data"), nil
}

// StorageConfig returns the effective storage config, deriving the SQLite
// path from the data directory when unset.
func (c *Config) StorageConfig() (storage.Config, error) {
	var out storage.Config
	if c.Storage != nil {
		out = *c.Storage
	}
	if out.Driver == "" {
		out.Driver = storage.DefaultDriver
	}
	if out.Driver == storage.DriverSQLite && out.SQLite.Path == "" {
		dataDir, err := c.ResolveDataDir()
		if err != nil {
			return out, err
		}
		out.SQLite.Path = filepath.Join(dataDir, "pamoja.db")
	}
	return out, nil
}

// EngineTimeouts converts the engine section into durations.
func (c *Config) EngineTimeouts() (defaultTimeout, maxTimeout, retention time.Duration) {
	return time.Duration(c.Engine.DefaultTimeoutS) * time.Second,
		time.Duration(c.Engine.MaxTimeoutS) * time.Second,
		time.Duration(c.Engine.RetentionH) * time.Hour
}

func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	}
	return filepath.Abs(path)
}
