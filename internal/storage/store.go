// Package storage defines the unified Store interface that abstracts task
// and coordination-history persistence. Two backends are provided: SQLite
// (default, zero-config) and PostgreSQL (production). Both confine GORM
// usage to their own subpackages so domain types remain ORM-free.
package storage

import (
	"context"

	"github.com/mifumo/pamoja/internal/coordination"
	"github.com/mifumo/pamoja/internal/engine"
)

// Store is the unified persistence interface for Pamoja.
type Store interface {
	// Tasks returns the task repository, keyed by task id.
	Tasks() engine.TaskStore

	// Journal returns the append-only coordination record log.
	Journal() engine.CoordinationJournal

	// ListRecords returns persisted coordination history for one
	// strategy, newest first, up to limit (0 = backend default).
	ListRecords(ctx context.Context, strategy string, limit int) ([]coordination.Record, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// Config holds storage configuration for driver selection.
type Config struct {
	Driver   string         `json:"driver" yaml:"driver"` // "sqlite" (default) or "postgres"
	SQLite   SQLiteConfig   `json:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `json:"postgres" yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Database file path.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", etc.
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"`
}

// DefaultDriver is the default storage driver.
const DefaultDriver = "sqlite"

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
