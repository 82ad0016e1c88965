// Package core is the composition root. It owns every component, wires
// them together from configuration, and exposes the operations the CLI
// and daemon surface.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/driftline/driftline/internal/artifact"
	"github.com/driftline/driftline/internal/artifact/clouddrive"
	"github.com/driftline/driftline/internal/artifact/localdisk"
	"github.com/driftline/driftline/internal/artifact/objectstore"
	"github.com/driftline/driftline/internal/config"
	"github.com/driftline/driftline/internal/engine"
	"github.com/driftline/driftline/internal/health"
	"github.com/driftline/driftline/internal/localstore"
	"github.com/driftline/driftline/internal/remotestore"
	"github.com/driftline/driftline/internal/retry"
	"github.com/driftline/driftline/internal/scheduler"
	"github.com/driftline/driftline/internal/telemetry"
	"github.com/driftline/driftline/internal/types"
)

// ErrClosed is returned by operations on a closed engine.
var ErrClosed = errors.New("engine is closed")

// Engine is the assembled system: local and remote stores, health
// tracking, the sync engine with its scheduler, and artifact storage.
type Engine struct {
	cfg *config.Config
	log *slog.Logger

	local     *localstore.Store
	remote    *remotestore.Store
	tracker   *health.Tracker
	probe     *health.Probe
	sync      *engine.Engine
	sched     *scheduler.Scheduler
	artifacts *artifact.Store

	closeOnce sync.Once
	closed    chan struct{}
}

// New assembles an engine from configuration. The remote store is not
// dialed here; connectivity is established lazily and probed in the
// background once Start is called.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Engine, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.RemoteDSN == "" {
		return nil, fmt.Errorf("remote-dsn is required (set it in config.yaml or DRIFT_REMOTE_DSN)")
	}

	policy := cfg.RetryPolicy()

	local, err := localstore.Open(cfg.StorePath(), policy)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	remote, err := remotestore.New(remotestore.Config{
		DSN:   cfg.RemoteDSN,
		Table: cfg.RemoteTable,
		Retry: policy,
	})
	if err != nil {
		_ = local.Close()
		return nil, fmt.Errorf("configuring remote store: %w", err)
	}

	// Mode starts offline until the first probe says otherwise. Local
	// operations never wait on connectivity.
	tracker := health.NewTracker(types.ModeOffline, log)
	probe := health.NewProbe(remote, health.DefaultProbeTimeout)

	recorder := telemetry.NewRecorder()
	var syncMetrics engine.Metrics
	var artifactMetrics artifact.Metrics
	if recorder != nil {
		syncMetrics = recorder
		artifactMetrics = recorder
	}

	syncEngine := engine.New(local, remote, tracker, syncMetrics, log)

	sched := scheduler.New(scheduler.Config{
		SyncInterval:       cfg.SyncInterval(),
		ProbeInterval:      cfg.ProbeInterval(),
		AutoSyncEnabled:    cfg.AutoSyncEnabled,
		AutoSyncOnRecovery: cfg.AutoSyncOnRecovery,
	}, syncEngine, probe, tracker, log)

	artifacts, err := buildArtifactStore(ctx, cfg, policy, artifactMetrics, log)
	if err != nil {
		_ = remote.Close()
		_ = local.Close()
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		log:       log,
		local:     local,
		remote:    remote,
		tracker:   tracker,
		probe:     probe,
		sync:      syncEngine,
		sched:     sched,
		artifacts: artifacts,
		closed:    make(chan struct{}),
	}, nil
}

// buildArtifactStore assembles the configured cloud tier over the
// local-disk floor. A backend whose configuration is incomplete is
// skipped with a warning rather than failing startup; the floor alone is
// a working store.
func buildArtifactStore(ctx context.Context, cfg *config.Config, policy retry.Policy, metrics artifact.Metrics, log *slog.Logger) (*artifact.Store, error) {
	var backends []artifact.Backend
	for _, name := range cfg.ArtifactBackendOrder {
		switch name {
		case objectstore.BackendName:
			if cfg.ObjectStore.Endpoint == "" {
				log.Warn("object store backend configured in order but has no endpoint, skipping")
				continue
			}
			b, err := objectstore.New(objectstore.Config{
				Endpoint:  cfg.ObjectStore.Endpoint,
				AccessKey: cfg.ObjectStore.AccessKey,
				SecretKey: cfg.ObjectStore.SecretKey,
				Bucket:    cfg.ObjectStore.Bucket,
				UseSSL:    cfg.ObjectStore.UseSSL,
			})
			if err != nil {
				return nil, fmt.Errorf("configuring object store backend: %w", err)
			}
			backends = append(backends, b)
		case clouddrive.BackendName:
			if cfg.CloudDrive.CredentialsFile == "" {
				log.Warn("cloud drive backend configured in order but has no credentials file, skipping")
				continue
			}
			b, err := clouddrive.New(ctx, clouddrive.Config{
				CredentialsFile: cfg.CloudDrive.CredentialsFile,
				FolderID:        cfg.CloudDrive.FolderID,
			})
			if err != nil {
				return nil, fmt.Errorf("configuring cloud drive backend: %w", err)
			}
			backends = append(backends, b)
		case localdisk.BackendName:
			// The floor is always appended last; an explicit entry in
			// the order list is redundant, not an extra copy.
		}
	}

	floor, err := localdisk.New(cfg.ArtifactPath())
	if err != nil {
		return nil, fmt.Errorf("configuring local artifact storage: %w", err)
	}
	return artifact.NewStore(backends, floor, policy, metrics, log)
}

// Start seeds the connectivity state with one synchronous probe and then
// launches the background probe and sync loops.
func (e *Engine) Start(ctx context.Context) {
	e.tracker.Evaluate(e.probe.Check(ctx))
	e.sched.Start()
}

// Close shuts the engine down: scheduler drain, remote close, local
// store flush. Safe to call more than once.
func (e *Engine) Close() error {
	var errs []error
	e.closeOnce.Do(func() {
		close(e.closed)
		e.sched.Stop()
		if err := e.remote.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing remote store: %w", err))
		}
		if err := e.local.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing local store: %w", err))
		}
	})
	return errors.Join(errs...)
}

func (e *Engine) isClosed() bool {
	select {
	case <-e.closed:
		return true
	default:
		return false
	}
}

// GetRecord returns the record stored under key.
func (e *Engine) GetRecord(key string) (*types.Record, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	return e.local.Get(key)
}

// PutRecord writes payload under key locally. The record is queued for
// upload on the next sync pass; the write never waits on connectivity.
func (e *Engine) PutRecord(key string, payload map[string]any) (*types.Record, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	return e.local.Put(key, payload)
}

// ListRecords returns local records matching the filter.
func (e *Engine) ListRecords(filter types.RecordFilter) ([]*types.Record, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	return e.local.List(filter)
}

// DeleteRecord removes key from the local store only. Deletion is not
// propagated to the remote; a record deleted locally reappears if the
// remote still holds it.
func (e *Engine) DeleteRecord(key string) error {
	if e.isClosed() {
		return ErrClosed
	}
	return e.local.Delete(key)
}

// ForceSync runs one reconciliation pass now, regardless of the
// schedule. Concurrent calls share a single pass.
func (e *Engine) ForceSync(ctx context.Context) (types.SyncResult, error) {
	if e.isClosed() {
		return types.SyncResult{}, ErrClosed
	}
	return e.sched.ForceSync(ctx), nil
}

// SyncStatus returns the current connectivity and sync state snapshot.
func (e *Engine) SyncStatus() types.SyncState {
	return e.tracker.Status()
}

// PendingCount returns how many local records await upload or conflict
// resolution.
func (e *Engine) PendingCount() (int, error) {
	if e.isClosed() {
		return 0, ErrClosed
	}
	recs, err := e.local.Pending()
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// CheckHealth runs one connectivity probe now and feeds the result into
// the tracker.
func (e *Engine) CheckHealth(ctx context.Context) health.ProbeResult {
	res := e.probe.Check(ctx)
	if !e.isClosed() {
		e.tracker.Evaluate(res)
	}
	return res
}

// PersistArtifact stores data across the configured backends.
func (e *Engine) PersistArtifact(ctx context.Context, key string, data []byte) (artifact.PersistResult, error) {
	if e.isClosed() {
		return artifact.PersistResult{}, ErrClosed
	}
	return e.artifacts.Persist(ctx, key, data), nil
}

// FetchArtifact returns the artifact bytes from the first backend that
// holds them.
func (e *Engine) FetchArtifact(ctx context.Context, key string) ([]byte, error) {
	if e.isClosed() {
		return nil, ErrClosed
	}
	return e.artifacts.Fetch(ctx, key)
}

// DeleteArtifact removes the artifact from every backend, best effort.
func (e *Engine) DeleteArtifact(ctx context.Context, key string) error {
	if e.isClosed() {
		return ErrClosed
	}
	return e.artifacts.Delete(ctx, key)
}

// ArtifactURL returns a shareable URL for the artifact, if any backend
// holding it supports one.
func (e *Engine) ArtifactURL(ctx context.Context, key string) (string, error) {
	if e.isClosed() {
		return "", ErrClosed
	}
	return e.artifacts.PublicURL(ctx, key)
}
