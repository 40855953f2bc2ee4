package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mifumo/pamoja/internal/storage"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Server.ListenAddr(); got != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", got)
	}
	if len(cfg.Resources) != 3 {
		t.Fatalf("expected 3 default resource pools, got %d", len(cfg.Resources))
	}
	sc, err := cfg.StorageConfig()
	if err != nil {
		t.Fatalf("StorageConfig: %v", err)
	}
	if sc.Driver != storage.DriverSQLite {
		t.Errorf("default driver = %q, want sqlite", sc.Driver)
	}
	if sc.SQLite.Path == "" {
		t.Error("expected derived SQLite path")
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pamoja.yaml")
	body := `
server:
  addr: ":9090"
  api_keys: ["k1", "k2"]
  enable_docs: true
resources:
  - type: gpu
    unit: devices
    capacity: 4
engine:
  default_timeout_s: 120
  worker_pool_size: 8
ws:
  enabled: true
  path: /ws/workers
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr() != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if len(cfg.Server.APIKeys) != 2 {
		t.Errorf("api keys = %v", cfg.Server.APIKeys)
	}
	if !cfg.Server.EnableDocs {
		t.Error("enable_docs not parsed")
	}
	if len(cfg.Resources) != 1 || cfg.Resources[0].Type != "gpu" {
		t.Errorf("resources = %+v", cfg.Resources)
	}
	if cfg.Engine.DefaultTimeoutS != 120 {
		t.Errorf("default timeout = %d", cfg.Engine.DefaultTimeoutS)
	}
	if !cfg.WS.Enabled || cfg.WS.Path != "/ws/workers" {
		t.Errorf("ws = %+v", cfg.WS)
	}
}

func TestLoadJSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pamoja.json")
	body := `{"server": {"addr": ":7070"}, "resources": [{"type": "cpu", "unit": "cores", "capacity": 2}]}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7070" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PAMOJA_ADDR", ":6060")
	t.Setenv("PAMOJA_DB_DSN", "host=db user=pamoja dbname=pamoja")
	t.Setenv("PAMOJA_WS_TOKEN", "secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":6060" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != storage.DriverPostgres {
		t.Fatalf("expected postgres storage, got %+v", cfg.Storage)
	}
	if cfg.Storage.Postgres.DSN == "" {
		t.Error("expected DSN from environment")
	}
	if cfg.WS.AuthToken != "secret" {
		t.Errorf("ws token = %q", cfg.WS.AuthToken)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults ok", func(c *Config) {}, false},
		{"no resources", func(c *Config) { c.Resources = nil }, true},
		{"empty resource type", func(c *Config) { c.Resources[0].Type = "" }, true},
		{"zero capacity", func(c *Config) { c.Resources[0].Capacity = 0 }, true},
		{"duplicate resource", func(c *Config) { c.Resources[1].Type = c.Resources[0].Type }, true},
		{"alpha out of range", func(c *Config) { c.Performance.Alpha = 1.5 }, true},
		{"prior out of range", func(c *Config) { c.Coordination.NeutralPrior = -0.1 }, true},
		{"tracing without endpoint", func(c *Config) {
			c.Observability = &ObservabilityConfig{Tracing: &TracingConfig{Enabled: true}}
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
