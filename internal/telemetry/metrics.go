package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/driftline/driftline/internal/artifact"
	"github.com/driftline/driftline/internal/types"
)

const syncScopeName = "github.com/driftline/driftline/sync"

// Recorder implements the engine and artifact metric sinks over OTel
// counters. NewRecorder returns nil when telemetry is disabled; both the
// engine and the artifact store accept a nil sink.
type Recorder struct {
	uploaded   metric.Int64Counter
	downloaded metric.Int64Counter
	conflicts  metric.Int64Counter
	syncErrs   metric.Int64Counter
	passDur    metric.Float64Histogram
	persists   metric.Int64Counter
	attempts   metric.Int64Counter
}

// NewRecorder builds the OTel-backed metric recorder, or nil when
// telemetry is disabled.
func NewRecorder() *Recorder {
	if !Enabled() {
		return nil
	}
	m := Meter(syncScopeName)
	uploaded, _ := m.Int64Counter("drift.sync.uploaded",
		metric.WithDescription("Records uploaded to the remote store"),
	)
	downloaded, _ := m.Int64Counter("drift.sync.downloaded",
		metric.WithDescription("Records downloaded from the remote store"),
	)
	conflicts, _ := m.Int64Counter("drift.sync.conflicts",
		metric.WithDescription("Conflicts resolved during reconciliation"),
	)
	syncErrs, _ := m.Int64Counter("drift.sync.errors",
		metric.WithDescription("Per-record errors during reconciliation"),
	)
	passDur, _ := m.Float64Histogram("drift.sync.pass.duration",
		metric.WithDescription("Reconciliation pass duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	persists, _ := m.Int64Counter("drift.artifact.persists",
		metric.WithDescription("Artifact persist calls by outcome"),
	)
	attempts, _ := m.Int64Counter("drift.artifact.attempts",
		metric.WithDescription("Per-backend artifact persist attempts"),
	)
	return &Recorder{
		uploaded:   uploaded,
		downloaded: downloaded,
		conflicts:  conflicts,
		syncErrs:   syncErrs,
		passDur:    passDur,
		persists:   persists,
		attempts:   attempts,
	}
}

// SyncPass records the counters of one reconciliation pass.
func (r *Recorder) SyncPass(ctx context.Context, res types.SyncResult) {
	r.uploaded.Add(ctx, int64(res.Uploaded))
	r.downloaded.Add(ctx, int64(res.Downloaded))
	r.conflicts.Add(ctx, int64(res.Conflicts))
	r.syncErrs.Add(ctx, int64(len(res.Errors)))
	r.passDur.Record(ctx, float64(res.Duration.Milliseconds()))
}

// ArtifactPersist records one persist call and its per-backend attempts.
func (r *Recorder) ArtifactPersist(ctx context.Context, res artifact.PersistResult) {
	r.persists.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("success", res.OverallSuccess),
		attribute.Bool("degraded", res.Degraded),
		attribute.String("backend", res.ChosenBackend),
	))
	for _, a := range res.Attempts {
		r.attempts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("backend", a.Backend),
			attribute.String("outcome", string(a.Outcome)),
			attribute.Int("retries", a.Retries),
		))
	}
}
