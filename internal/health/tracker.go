package health

import (
	"log/slog"
	"sync"
	"time"

	"github.com/driftline/driftline/internal/types"
)

// TransitionFunc is invoked on every mode change, synchronously and in
// registration order.
type TransitionFunc func(old, new types.Mode)

// Tracker owns the process-wide sync state. Evaluate is serialized so
// transitions and their callbacks are totally ordered; readers get a
// snapshot and never block behind callbacks.
type Tracker struct {
	log *slog.Logger

	// evalMu serializes Evaluate so each transition fires its callbacks
	// exactly once and in order before the next evaluation starts.
	evalMu sync.Mutex

	mu    sync.Mutex
	state types.SyncState

	cbMu      sync.Mutex
	callbacks []TransitionFunc
}

// NewTracker creates a tracker starting in the given mode.
func NewTracker(initial types.Mode, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		log: log,
		state: types.SyncState{
			Mode:             initial,
			LastTransitionAt: time.Now(),
		},
	}
}

// OnTransition registers fn to run on every mode change.
func (t *Tracker) OnTransition(fn TransitionFunc) {
	t.cbMu.Lock()
	defer t.cbMu.Unlock()
	t.callbacks = append(t.callbacks, fn)
}

// Evaluate folds a probe result into the current mode. Matching results
// are a no-op apart from the failure counter; a mode change swaps the
// state and invokes all callbacks before returning.
func (t *Tracker) Evaluate(res ProbeResult) {
	t.evalMu.Lock()
	defer t.evalMu.Unlock()

	next := types.ModeOffline
	if res.Healthy {
		next = types.ModeOnline
	}

	t.mu.Lock()
	old := t.state.Mode
	if res.Healthy {
		t.state.ConsecutiveFailures = 0
	} else {
		t.state.ConsecutiveFailures++
	}
	if old != next {
		t.state.Mode = next
		t.state.LastTransitionAt = time.Now()
	}
	t.mu.Unlock()

	if old == next {
		return
	}

	t.log.Info("connectivity transition",
		"from", string(old), "to", string(next), "detail", res.Detail)

	t.cbMu.Lock()
	cbs := make([]TransitionFunc, len(t.callbacks))
	copy(cbs, t.callbacks)
	t.cbMu.Unlock()

	for _, fn := range cbs {
		fn(old, next)
	}
}

// Status returns a snapshot of the sync state.
func (t *Tracker) Status() types.SyncState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Mode returns the current connectivity mode.
func (t *Tracker) Mode() types.Mode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Mode
}

// RecordSyncSuccess moves the last-successful-sync watermark. The engine
// reports the start time of a clean pass so records modified mid-pass are
// re-examined next time.
func (t *Tracker) RecordSyncSuccess(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if at.After(t.state.LastSuccessfulSyncAt) {
		t.state.LastSuccessfulSyncAt = at
	}
}

// RecordSyncFailure bumps the consecutive failure counter.
func (t *Tracker) RecordSyncFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.ConsecutiveFailures++
}

// LastSuccessfulSyncAt returns the sync watermark.
func (t *Tracker) LastSuccessfulSyncAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.LastSuccessfulSyncAt
}
