package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/driftline/driftline/internal/health"
	"github.com/driftline/driftline/internal/types"
)

// fakeReconciler counts passes and can hold each pass open.
type fakeReconciler struct {
	calls   atomic.Int64
	started chan struct{} // receives one value per pass start, if set
	release chan struct{} // each pass blocks until a value arrives, if set
}

func (f *fakeReconciler) Reconcile(ctx context.Context) types.SyncResult {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-time.After(5 * time.Second):
		}
	}
	return types.SyncResult{Uploaded: 1}
}

type okPinger struct{}

func (okPinger) Ping(ctx context.Context) error { return nil }

// quietConfig keeps the tickers out of the way so tests drive passes
// explicitly.
func quietConfig() Config {
	return Config{
		SyncInterval:       time.Hour,
		ProbeInterval:      time.Hour,
		AutoSyncEnabled:    true,
		AutoSyncOnRecovery: true,
		StopTimeout:        time.Second,
	}
}

func newTestScheduler(cfg Config, rec Reconciler, mode types.Mode) (*Scheduler, *health.Tracker) {
	tracker := health.NewTracker(mode, nil)
	probe := health.NewProbe(okPinger{}, time.Second)
	return New(cfg, rec, probe, tracker, nil), tracker
}

func TestForceSyncReturnsResult(t *testing.T) {
	rec := &fakeReconciler{}
	s, _ := newTestScheduler(quietConfig(), rec, types.ModeOnline)

	res := s.ForceSync(context.Background())
	if res.Uploaded != 1 {
		t.Errorf("result = %+v, want the reconciler's result", res)
	}
	if rec.calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", rec.calls.Load())
	}
}

func TestTickSkippedWhileInFlight(t *testing.T) {
	rec := &fakeReconciler{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s, _ := newTestScheduler(quietConfig(), rec, types.ModeOnline)

	go s.ForceSync(context.Background())
	<-rec.started // pass is now in flight

	s.onTick(context.Background())
	s.onTick(context.Background())

	if got := rec.calls.Load(); got != 1 {
		t.Errorf("reconcile calls = %d, want 1 (ticks must be skipped, not queued)", got)
	}
	if got := s.SkippedTicks(); got != 2 {
		t.Errorf("skipped = %d, want 2", got)
	}

	close(rec.release)
}

func TestTickSkippedWhileOffline(t *testing.T) {
	rec := &fakeReconciler{}
	s, _ := newTestScheduler(quietConfig(), rec, types.ModeOffline)

	s.onTick(context.Background())
	if rec.calls.Load() != 0 {
		t.Errorf("reconcile ran while offline")
	}
}

func TestTickRespectsAutoSyncDisabled(t *testing.T) {
	cfg := quietConfig()
	cfg.AutoSyncEnabled = false
	rec := &fakeReconciler{}
	s, _ := newTestScheduler(cfg, rec, types.ModeOnline)

	s.onTick(context.Background())
	if rec.calls.Load() != 0 {
		t.Errorf("reconcile ran with auto-sync disabled")
	}
}

func TestRecoveryTriggersExactlyOneExtraSync(t *testing.T) {
	rec := &fakeReconciler{}
	s, tracker := newTestScheduler(quietConfig(), rec, types.ModeOnline)
	s.Start()
	defer s.Stop()

	tracker.Evaluate(health.ProbeResult{Healthy: false, Detail: "refused"})
	tracker.Evaluate(health.ProbeResult{Healthy: true, Detail: "ok"})

	deadline := time.After(2 * time.Second)
	for rec.calls.Load() < 1 {
		select {
		case <-deadline:
			t.Fatal("recovery sync never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// Settle, then confirm no further passes were triggered.
	time.Sleep(50 * time.Millisecond)
	if got := rec.calls.Load(); got != 1 {
		t.Errorf("reconcile calls = %d, want exactly 1 extra run", got)
	}

	// A second offline/online cycle triggers exactly one more.
	tracker.Evaluate(health.ProbeResult{Healthy: false})
	tracker.Evaluate(health.ProbeResult{Healthy: true})
	deadline = time.After(2 * time.Second)
	for rec.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("second recovery sync never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRecoveryRerunsAfterCoalescedPass(t *testing.T) {
	rec := &fakeReconciler{
		started: make(chan struct{}, 2),
		release: make(chan struct{}, 2),
	}
	s, tracker := newTestScheduler(quietConfig(), rec, types.ModeOnline)
	s.Start()
	defer s.Stop()

	// A manual pass is already in flight when connectivity comes back. It
	// started before the recovery, so it may have seen the remote as down.
	go s.ForceSync(context.Background())
	<-rec.started

	tracker.Evaluate(health.ProbeResult{Healthy: false, Detail: "refused"})
	tracker.Evaluate(health.ProbeResult{Healthy: true, Detail: "ok"})
	time.Sleep(20 * time.Millisecond) // let the recovery request join the flight

	rec.release <- struct{}{} // finish the shared pass

	select {
	case <-rec.started:
	case <-time.After(2 * time.Second):
		t.Fatal("recovery coalesced away without a follow-up pass")
	}
	rec.release <- struct{}{}

	// The shared pass plus exactly one follow-up, nothing more.
	time.Sleep(50 * time.Millisecond)
	if got := rec.calls.Load(); got != 2 {
		t.Errorf("reconcile calls = %d, want 2", got)
	}
}

func TestRecoveryDisabled(t *testing.T) {
	cfg := quietConfig()
	cfg.AutoSyncOnRecovery = false
	rec := &fakeReconciler{}
	s, tracker := newTestScheduler(cfg, rec, types.ModeOnline)
	s.Start()
	defer s.Stop()

	tracker.Evaluate(health.ProbeResult{Healthy: false})
	tracker.Evaluate(health.ProbeResult{Healthy: true})

	time.Sleep(50 * time.Millisecond)
	if got := rec.calls.Load(); got != 0 {
		t.Errorf("reconcile calls = %d, want 0 with recovery sync disabled", got)
	}
}

func TestPeriodicTicksDrivePasses(t *testing.T) {
	cfg := quietConfig()
	cfg.SyncInterval = 10 * time.Millisecond
	rec := &fakeReconciler{}
	s, _ := newTestScheduler(cfg, rec, types.ModeOnline)

	s.Start()
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for rec.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatal("periodic passes never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStartStopIdempotent(t *testing.T) {
	rec := &fakeReconciler{}
	s, _ := newTestScheduler(quietConfig(), rec, types.ModeOnline)

	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}

func TestStopWaitsForInFlightPass(t *testing.T) {
	rec := &fakeReconciler{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s, _ := newTestScheduler(quietConfig(), rec, types.ModeOnline)
	s.Start()

	forcedDone := make(chan struct{})
	go func() {
		s.ForceSync(context.Background())
		close(forcedDone)
	}()
	<-rec.started

	// Release the pass shortly after Stop begins draining.
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(rec.release)
	}()

	s.Stop()

	select {
	case <-forcedDone:
	case <-time.After(time.Second):
		t.Fatal("in-flight pass did not finish during Stop drain")
	}
}

func TestStopTimesOutOnStuckPass(t *testing.T) {
	cfg := quietConfig()
	cfg.StopTimeout = 20 * time.Millisecond
	rec := &fakeReconciler{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s, _ := newTestScheduler(cfg, rec, types.ModeOnline)
	s.Start()

	go s.ForceSync(context.Background())
	<-rec.started

	done := make(chan struct{})
	go func() {
		s.Stop() // must return despite the stuck pass
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after its timeout")
	}
	close(rec.release)
}

func TestConcurrentForceSyncCoalesces(t *testing.T) {
	rec := &fakeReconciler{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s, _ := newTestScheduler(quietConfig(), rec, types.ModeOnline)

	results := make(chan types.SyncResult, 2)
	go func() { results <- s.ForceSync(context.Background()) }()
	<-rec.started
	go func() { results <- s.ForceSync(context.Background()) }()

	time.Sleep(20 * time.Millisecond) // let the second caller join the flight
	close(rec.release)

	for i := 0; i < 2; i++ {
		select {
		case <-results:
		case <-time.After(2 * time.Second):
			t.Fatal("force sync caller never returned")
		}
	}
	if got := rec.calls.Load(); got != 1 {
		t.Errorf("reconcile calls = %d, want 1 shared pass", got)
	}
}
