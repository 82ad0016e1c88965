// Package scheduler drives periodic reconciliation passes.
//
// One background goroutine owns both tickers (health probe and sync). At
// most one reconciliation runs at a time: a tick that lands while a pass
// is in flight is skipped outright, not queued. Concurrent ForceSync
// callers coalesce onto the running pass via singleflight.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/driftline/driftline/internal/health"
	"github.com/driftline/driftline/internal/types"
)

// Defaults when configuration is silent.
const (
	DefaultSyncInterval  = 15 * time.Minute
	DefaultProbeInterval = 30 * time.Second
	DefaultStopTimeout   = 30 * time.Second
)

// Reconciler is the slice of the sync engine the scheduler needs.
type Reconciler interface {
	Reconcile(ctx context.Context) types.SyncResult
}

// Config holds scheduler settings.
type Config struct {
	SyncInterval       time.Duration
	ProbeInterval      time.Duration
	AutoSyncEnabled    bool
	AutoSyncOnRecovery bool
	StopTimeout        time.Duration
}

func (c Config) normalized() Config {
	if c.SyncInterval <= 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	return c
}

// Scheduler runs the probe and sync loops.
type Scheduler struct {
	cfg     Config
	rec     Reconciler
	probe   *health.Probe
	tracker *health.Tracker
	log     *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	inFlight atomic.Bool
	group    singleflight.Group
	passes   sync.WaitGroup

	skipped atomic.Int64 // ticks coalesced away while a pass was running
}

// New creates a scheduler. Transition wiring happens here: on an
// offline-to-online recovery, one out-of-band pass is triggered when
// configured.
func New(cfg Config, rec Reconciler, probe *health.Probe, tracker *health.Tracker, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		cfg:     cfg.normalized(),
		rec:     rec,
		probe:   probe,
		tracker: tracker,
		log:     log,
	}

	tracker.OnTransition(func(old, new types.Mode) {
		if old != types.ModeOffline || new != types.ModeOnline {
			return
		}
		if !s.cfg.AutoSyncOnRecovery {
			return
		}
		if !s.isRunning() {
			return
		}
		// Out-of-band recovery pass. Runs off the loop goroutine; if a
		// pass is already in flight it waits that one out and re-runs.
		s.log.Info("connectivity recovered, triggering immediate sync")
		go s.runPass(context.Background(), "recovery")
	})

	return s
}

// Start launches the background loop. Idempotent.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true
	go s.loop(ctx)
}

// Stop shuts the loop down and waits, bounded by StopTimeout, for any
// in-flight pass to finish. It logs and returns regardless of outcome.
// Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done

	drained := make(chan struct{})
	go func() {
		s.passes.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		s.log.Debug("scheduler stopped")
	case <-time.After(s.cfg.StopTimeout):
		s.log.Warn("scheduler stop timed out waiting for in-flight sync", "timeout", s.cfg.StopTimeout)
	}
}

// ForceSync triggers an immediate pass and returns its result. Concurrent
// callers share a single pass under the single-flight discipline.
func (s *Scheduler) ForceSync(ctx context.Context) types.SyncResult {
	return s.runPass(ctx, "manual")
}

// SkippedTicks reports how many ticks were coalesced away.
func (s *Scheduler) SkippedTicks() int64 {
	return s.skipped.Load()
}

func (s *Scheduler) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// loop owns both tickers. Probe evaluation happens here so transition
// callbacks run on one goroutine and stay ordered.
func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	probeTicker := time.NewTicker(s.cfg.ProbeInterval)
	defer probeTicker.Stop()
	syncTicker := time.NewTicker(s.cfg.SyncInterval)
	defer syncTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-probeTicker.C:
			s.tracker.Evaluate(s.probe.Check(ctx))
		case <-syncTicker.C:
			s.onTick(ctx)
		}
	}
}

// onTick runs the periodic pass, skipping outright when one is in flight.
func (s *Scheduler) onTick(ctx context.Context) {
	if !s.cfg.AutoSyncEnabled {
		return
	}
	if s.tracker.Mode() != types.ModeOnline {
		s.log.Debug("skipping scheduled sync while offline")
		return
	}
	if s.inFlight.Load() {
		s.skipped.Add(1)
		s.log.Debug("skipping scheduled sync, pass already in flight")
		return
	}
	s.runPass(ctx, "scheduled")
}

// runPass executes one reconciliation through the singleflight group.
func (s *Scheduler) runPass(ctx context.Context, trigger string) types.SyncResult {
	v, _, shared := s.group.Do("reconcile", func() (any, error) {
		s.inFlight.Store(true)
		defer s.inFlight.Store(false)
		s.passes.Add(1)
		defer s.passes.Done()

		res := s.rec.Reconcile(ctx)
		if len(res.Errors) > 0 {
			s.log.Warn("sync pass finished with errors",
				"trigger", trigger, "errors", len(res.Errors),
				"uploaded", res.Uploaded, "downloaded", res.Downloaded)
		}
		return res, nil
	})
	if shared {
		s.log.Debug("sync request coalesced onto in-flight pass", "trigger", trigger)
		// A recovery request that coalesced may have joined a pass that
		// started before connectivity returned and saw nothing to do. Run
		// one full pass of our own once the shared one is out of the way.
		if trigger == "recovery" {
			return s.runPass(ctx, "recovery-followup")
		}
	}
	return v.(types.SyncResult)
}
