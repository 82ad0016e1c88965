// Package types defines core data structures for the driftline sync engine.
package types

import (
	"time"
)

// SyncStatus tracks where a record stands relative to the remote store.
type SyncStatus string

const (
	// StatusPending marks a record with local changes not yet pushed.
	StatusPending SyncStatus = "pending"
	// StatusSynced marks a record whose content matches the counterpart store.
	StatusSynced SyncStatus = "synced"
	// StatusConflict marks a record whose conflict resolution could not be
	// applied locally; it is retried on the next reconciliation pass.
	StatusConflict SyncStatus = "conflict"
)

// validStatuses is the set of allowed sync status values
var validStatuses = map[SyncStatus]bool{
	StatusPending:  true,
	StatusSynced:   true,
	StatusConflict: true,
}

// Valid reports whether s is a recognized sync status.
func (s SyncStatus) Valid() bool {
	return validStatuses[s]
}

// Record is a domain document tracked by the sync engine.
//
// Key is the globally unique business identifier. ModifiedAt is an
// epoch-millisecond timestamp that strictly increases on every local
// mutation of the same key; it drives conflict resolution.
type Record struct {
	Key        string         `json:"key"`
	Revision   int64          `json:"revision"`
	Payload    map[string]any `json:"payload"`
	ModifiedAt int64          `json:"modified_at"`
	SyncStatus SyncStatus     `json:"sync_status"`
}

// Clone returns a copy of the record with its own payload map.
// Nested values are shared; callers treat payloads as read-only.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Payload != nil {
		out.Payload = make(map[string]any, len(r.Payload))
		for k, v := range r.Payload {
			out.Payload[k] = v
		}
	}
	return &out
}

// NowMillis returns the current time as epoch milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NextModifiedAt returns a modification timestamp strictly greater than prev.
// Guards the per-key monotonicity invariant against clock skew.
func NextModifiedAt(prev int64) int64 {
	now := NowMillis()
	if now <= prev {
		return prev + 1
	}
	return now
}

// Mode is the process-wide connectivity mode.
type Mode string

const (
	ModeOnline  Mode = "online"
	ModeOffline Mode = "offline"
)

// SyncState is the process-wide connectivity and sync bookkeeping value.
// It is owned by the composition root, mutated only by the state tracker,
// and read by the sync engine and scheduler.
type SyncState struct {
	Mode                 Mode      `json:"mode"`
	LastTransitionAt     time.Time `json:"last_transition_at"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	LastSuccessfulSyncAt time.Time `json:"last_successful_sync_at"`
}

// SyncResult reports one reconciliation pass. Immutable once returned.
type SyncResult struct {
	Uploaded   int           `json:"uploaded"`
	Downloaded int           `json:"downloaded"`
	Conflicts  int           `json:"conflicts"`
	Errors     []error       `json:"-"`
	Duration   time.Duration `json:"duration"`
}

// Clean reports whether the pass moved no data and hit no errors.
func (r SyncResult) Clean() bool {
	return r.Uploaded == 0 && r.Downloaded == 0 && r.Conflicts == 0 && len(r.Errors) == 0
}

// RecordFilter narrows ListRecords results. Zero values match everything.
type RecordFilter struct {
	Status        SyncStatus
	ModifiedAfter int64
	KeyPrefix     string
	Limit         int
}

// Matches reports whether rec passes the filter (Limit is applied by the caller).
func (f RecordFilter) Matches(rec *Record) bool {
	if f.Status != "" && rec.SyncStatus != f.Status {
		return false
	}
	if f.ModifiedAfter > 0 && rec.ModifiedAt <= f.ModifiedAfter {
		return false
	}
	if f.KeyPrefix != "" && len(rec.Key) < len(f.KeyPrefix) {
		return false
	}
	if f.KeyPrefix != "" && rec.Key[:len(f.KeyPrefix)] != f.KeyPrefix {
		return false
	}
	return true
}
