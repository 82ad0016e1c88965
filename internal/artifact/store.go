package artifact

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftline/driftline/internal/errclass"
	"github.com/driftline/driftline/internal/retry"
)

// Metrics receives persist outcomes. May be nil.
type Metrics interface {
	ArtifactPersist(ctx context.Context, res PersistResult)
}

// Store walks an ordered backend list. Backend attempts within one call
// are strictly sequential so retry and failover stay auditable and no
// duplicate partial uploads race each other. Independent calls for
// different keys may run concurrently; the store itself holds no mutable
// state.
type Store struct {
	backends []Backend // cloud tier, in failover order
	local    Backend   // durability floor, always attempted on persist
	policy   retry.Policy
	metrics  Metrics
	log      *slog.Logger
}

// NewStore creates an artifact store. local is the durability floor and
// must not be nil; backends may be empty (local-only deployments).
func NewStore(backends []Backend, local Backend, policy retry.Policy, metrics Metrics, log *slog.Logger) (*Store, error) {
	if local == nil {
		return nil, errors.New("local disk backend is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		backends: backends,
		local:    local,
		policy:   policy.Normalized(),
		metrics:  metrics,
		log:      log,
	}, nil
}

// Persist writes data under key. Each cloud backend gets bounded retries
// for transient failures; permanent failures move straight to the next
// backend. Whatever the cloud tier did, the local-disk backend is then
// attempted as a durability floor. Re-persisting a key overwrites prior
// content in every backend touched.
func (s *Store) Persist(ctx context.Context, key string, data []byte) PersistResult {
	var res PersistResult

	for _, b := range s.backends {
		attempt := s.tryBackend(ctx, b, key, data)
		res.Attempts = append(res.Attempts, attempt)

		if attempt.Outcome == OutcomeSuccess {
			res.OverallSuccess = true
			res.ChosenBackend = b.Name()
			break
		}
		s.log.Warn("artifact backend failed, trying next",
			"backend", b.Name(), "key", key, "kind", attempt.ErrorKind, "retries", attempt.Retries)
	}

	// Durability floor: always attempted, independent of cloud outcome.
	localAttempt := s.tryBackend(ctx, s.local, key, data)
	res.Attempts = append(res.Attempts, localAttempt)

	if localAttempt.Outcome == OutcomeSuccess {
		if !res.OverallSuccess {
			res.OverallSuccess = true
			res.ChosenBackend = s.local.Name()
			res.Degraded = true
			s.log.Warn("artifact persisted to local disk only", "key", key)
		}
	} else if !res.OverallSuccess {
		s.log.Error("artifact persist failed on every backend", "key", key)
	}

	if s.metrics != nil {
		s.metrics.ArtifactPersist(ctx, res)
	}
	return res
}

// Fetch returns the artifact bytes from the first backend that has it,
// walking the same order as Persist with the local floor last.
func (s *Store) Fetch(ctx context.Context, key string) ([]byte, error) {
	var lastErr error
	for _, b := range append(append([]Backend{}, s.backends...), s.local) {
		data, err := b.Fetch(ctx, key)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, ErrNotFound) {
			lastErr = err
			s.log.Debug("artifact fetch miss", "backend", b.Name(), "key", key, "error", err)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("fetching %s: %w", key, lastErr)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Delete removes key from every backend, best effort. The joined error
// reports each backend that refused.
func (s *Store) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, b := range append(append([]Backend{}, s.backends...), s.local) {
		if err := b.Delete(ctx, key); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// PublicURL returns a shareable URL from the first backend that holds the
// artifact and supports the capability.
func (s *Store) PublicURL(ctx context.Context, key string) (string, error) {
	for _, b := range append(append([]Backend{}, s.backends...), s.local) {
		up, ok := b.(URLProvider)
		if !ok {
			continue
		}
		if _, err := b.Fetch(ctx, key); err != nil {
			continue
		}
		url, err := up.PublicURL(ctx, key)
		if err != nil {
			s.log.Debug("public URL unavailable", "backend", b.Name(), "key", key, "error", err)
			continue
		}
		return url, nil
	}
	return "", fmt.Errorf("%w: no backend can share %s", ErrNotFound, key)
}

// tryBackend runs one backend's upload under the retry policy and records
// the attempt.
func (s *Store) tryBackend(ctx context.Context, b Backend, key string, data []byte) Attempt {
	start := time.Now()
	retries, err := s.policy.Do(ctx, func() error {
		return b.Upload(ctx, key, data)
	})

	attempt := Attempt{
		Backend: b.Name(),
		Latency: time.Since(start),
		Retries: retries - 1,
	}
	if err == nil {
		attempt.Outcome = OutcomeSuccess
		return attempt
	}
	attempt.Outcome = OutcomeFailed
	attempt.ErrorKind = errclass.ClassOf(err).String()
	return attempt
}
