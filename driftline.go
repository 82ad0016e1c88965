// Package driftline provides a minimal public API for embedding the
// sync engine in other Go programs.
//
// Most integrations should use the drift CLI. This package exports only
// the essential types and the engine constructor for programs that want
// offline-first record storage in process.
package driftline

import (
	"context"
	"log/slog"

	"github.com/driftline/driftline/internal/config"
	"github.com/driftline/driftline/internal/core"
	"github.com/driftline/driftline/internal/types"
)

// Core types for working with records and sync state
type (
	Record       = types.Record
	SyncStatus   = types.SyncStatus
	SyncState    = types.SyncState
	SyncResult   = types.SyncResult
	RecordFilter = types.RecordFilter
	Mode         = types.Mode
)

// SyncStatus constants
const (
	StatusPending  = types.StatusPending
	StatusSynced   = types.StatusSynced
	StatusConflict = types.StatusConflict
)

// Mode constants
const (
	ModeOnline  = types.ModeOnline
	ModeOffline = types.ModeOffline
)

// Engine is the assembled sync engine.
type Engine = core.Engine

// Config is the full driftline configuration.
type Config = config.Config

// DefaultConfig returns the built-in configuration defaults.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads config.yaml from dir with DRIFT_* env overrides.
func LoadConfig(dir string) (*Config, error) {
	return config.Load(dir)
}

// Open assembles an engine from configuration. Call Engine.Start to run
// the background probe and sync loops, and Engine.Close on shutdown.
func Open(ctx context.Context, cfg *Config, log *slog.Logger) (*Engine, error) {
	return core.New(ctx, cfg, log)
}
