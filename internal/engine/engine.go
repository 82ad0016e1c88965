// Package engine implements one bidirectional reconciliation pass between
// the local record cache and the remote records table.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftline/driftline/internal/errclass"
	"github.com/driftline/driftline/internal/health"
	"github.com/driftline/driftline/internal/types"
)

// Local is the slice of the local store the engine needs.
type Local interface {
	Pending() ([]*types.Record, error)
	Apply(rec *types.Record) error
	MarkSynced(key string, modifiedAt int64) error
	MarkConflict(key string) error
}

// Remote is the slice of the remote store the engine needs.
type Remote interface {
	ListModifiedSince(ctx context.Context, since int64) ([]*types.Record, error)
	Upsert(ctx context.Context, rec *types.Record) error
}

// Metrics receives per-pass counters. The telemetry package provides the
// real implementation; tests use a recorder.
type Metrics interface {
	SyncPass(ctx context.Context, res types.SyncResult)
}

// Engine orchestrates reconciliation passes.
type Engine struct {
	local   Local
	remote  Remote
	tracker *health.Tracker
	metrics Metrics
	log     *slog.Logger
}

// New creates a sync engine. metrics may be nil.
func New(local Local, remote Remote, tracker *health.Tracker, metrics Metrics, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{local: local, remote: remote, tracker: tracker, metrics: metrics, log: log}
}

/// Reconcile runs one bidirectional pass. It never returns an error:
// per-record failures accumulate in the result and the pass continues.
// The last-successful-sync watermark advances only when the pass had no
// fatal (non-per-record) error. On deadline exceed mid-pass, writes
// already applied are retained.
func (e *Engine) Reconcile(ctx context.Context) types.SyncResult {
	start := time.Now()
	var res types.SyncResult
	fatal := false
	// A failed download would be orphaned if the watermark moved past its
	// remote timestamp, so it also pins the watermark.
	downloadFailed := false

	since := e.tracker.LastSuccessfulSyncAt().UnixMilli()
	if e.tracker.LastSuccessfulSyncAt().IsZero() {
		since = 0 // never synced: full remote listing
	}

	remote, err := e.remote.ListModifiedSince(ctx, since)
	if err != nil {
		// Listing failure is fatal: without the remote view no pairing is
		// possible. Schema errors are surfaced loudly, not swallowed.
		fatal = true
		res.Errors = append(res.Errors, fmt.Errorf("listing remote records: %w", err))
		if errclass.KindOf(err) == errclass.KindRemoteSchema {
			e.log.Error("remote schema mismatch, sync cannot proceed", "error", err)
		} else {
			e.log.Warn("remote listing failed", "error", err)
		}
		remote = nil
	}

	local, err := e.local.Pending()
	if err != nil {
		fatal = true
		res.Errors = append(res.Errors, fmt.Errorf("listing pending local records: %w", err))
	}

	remoteByKey := make(map[string]*types.Record, len(remote))
	for _, rec := range remote {
		remoteByKey[rec.Key] = rec
	}
	localByKey := make(map[string]*types.Record, len(local))
	for _, rec := range local {
		localByKey[rec.Key] = rec
	}

	// Local-only pending records: upload.
	for _, rec := range local {
		if _, both := remoteByKey[rec.Key]; both {
			continue
		}
		if err := e.upload(ctx, rec); err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		res.Uploaded++
	}

	// Remote records: download when absent locally, otherwise resolve.
	for _, rec := range remote {
		counterpart, both := localByKey[rec.Key]
		if !both {
			if err := e.download(rec); err != nil {
				downloadFailed = true
				res.Errors = append(res.Errors, err)
				continue
			}
			res.Downloaded++
			continue
		}

		switch {
		case counterpart.ModifiedAt > rec.ModifiedAt:
			if err := e.upload(ctx, counterpart); err != nil {
				res.Errors = append(res.Errors, err)
				continue
			}
			res.Uploaded++
		case counterpart.ModifiedAt < rec.ModifiedAt:
			if err := e.download(rec); err != nil {
				downloadFailed = true
				res.Errors = append(res.Errors, err)
				continue
			}
			res.Downloaded++
		default:
			// Equal timestamps: the remote payload wins, deterministically.
			if err := e.download(rec); err != nil {
				downloadFailed = true
				// Resolution failed to land; flag the record so the next
				// pass retries it.
				if markErr := e.local.MarkConflict(rec.Key); markErr != nil {
					res.Errors = append(res.Errors, markErr)
				}
				res.Errors = append(res.Errors, err)
				continue
			}
			res.Conflicts++
		}
	}

	res.Duration = time.Since(start)

	if fatal {
		e.tracker.RecordSyncFailure()
	} else if !downloadFailed {
		e.tracker.RecordSyncSuccess(start)
	}

	if e.metrics != nil {
		e.metrics.SyncPass(ctx, res)
	}
	e.log.Debug("reconciliation pass complete",
		"uploaded", res.Uploaded, "downloaded", res.Downloaded,
		"conflicts", res.Conflicts, "errors", len(res.Errors),
		"duration", res.Duration)

	return res
}

// upload pushes a local record to the remote store and marks it synced.
// The synced status is written remotely so a fresh clone downloads records
// already settled.
func (e *Engine) upload(ctx context.Context, rec *types.Record) error {
	out := rec.Clone()
	out.SyncStatus = types.StatusSynced
	if err := e.remote.Upsert(ctx, out); err != nil {
		return fmt.Errorf("uploading %s: %w", rec.Key, err)
	}
	if err := e.local.MarkSynced(rec.Key, rec.ModifiedAt); err != nil {
		return fmt.Errorf("marking %s synced: %w", rec.Key, err)
	}
	return nil
}

// download lands a remote record locally with its remote timestamp intact.
func (e *Engine) download(rec *types.Record) error {
	out := rec.Clone()
	out.SyncStatus = types.StatusSynced
	if err := e.local.Apply(out); err != nil {
		return fmt.Errorf("downloading %s: %w", rec.Key, err)
	}
	return nil
}
