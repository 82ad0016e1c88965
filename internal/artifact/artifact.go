// Package artifact persists generated binary artifacts across an ordered
// list of storage backends with retry, failover, and a local-disk
// durability floor.
package artifact

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no backend holds the requested artifact.
var ErrNotFound = errors.New("artifact not found")

// Backend is the capability interface every storage provider implements.
// Concrete variants are selected by configuration order, never by runtime
// type inspection.
type Backend interface {
	Name() string
	Upload(ctx context.Context, key string, data []byte) error
	Fetch(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// URLProvider is the optional public-URL capability.
type URLProvider interface {
	PublicURL(ctx context.Context, key string) (string, error)
}

// Outcome of one backend attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
)

// Attempt records one backend's part in a persist call.
type Attempt struct {
	Backend   string        `json:"backend"`
	Outcome   Outcome       `json:"outcome"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Latency   time.Duration `json:"latency"`
	Retries   int           `json:"retries"`
}

// PersistResult is the ordered attempt list for one persist call.
// Immutable once returned.
type PersistResult struct {
	Attempts       []Attempt `json:"attempts"`
	OverallSuccess bool      `json:"overall_success"`
	ChosenBackend  string    `json:"chosen_backend,omitempty"`
	Degraded       bool      `json:"degraded,omitempty"`
}
