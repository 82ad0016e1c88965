// Package localstore implements the durable local record cache.
//
// All records live in one JSON document ({records, metadata}) so a sync
// clone can be bootstrapped by copying a single file. The store assumes a
// single local-writer process; a write-rename pattern keeps the document
// intact if the process dies mid-write.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/driftline/driftline/internal/errclass"
	"github.com/driftline/driftline/internal/retry"
	"github.com/driftline/driftline/internal/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrClosed is returned when the store is used after Close.
var ErrClosed = errors.New("local store closed")

// document is the on-disk layout.
type document struct {
	Records  []*types.Record `json:"records"`
	Metadata metadata        `json:"metadata"`
}

type metadata struct {
	LastUpdated time.Time `json:"lastUpdated"`
}

// Store is the local record cache. A single RWMutex enforces one writer;
// readers get cloned snapshots so an in-flight write never shows through.
type Store struct {
	path   string
	policy retry.Policy

	mu          sync.RWMutex
	records     map[string]*types.Record
	lastUpdated time.Time
	closed      bool
}

// Open loads the document at path, creating an empty store if the file
// does not exist. A corrupt document is an error, not silent data loss.
func Open(path string, policy retry.Policy) (*Store, error) {
	s := &Store{
		path:    path,
		policy:  policy.Normalized(),
		records: make(map[string]*types.Record),
	}

	data, err := os.ReadFile(path) // #nosec G304 - store path comes from config
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errclass.LocalIO(fmt.Errorf("reading local store: %w", err))
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing local store %s: %w", path, err)
	}
	for _, rec := range doc.Records {
		if rec.Key == "" {
			continue
		}
		s.records[rec.Key] = rec
	}
	s.lastUpdated = doc.Metadata.LastUpdated

	return s, nil
}

// Get returns a copy of the record for key.
func (s *Store) Get(key string) (*types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	rec, ok := s.records[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return rec.Clone(), nil
}

// Put creates or updates the record for key with the given payload. The
// revision and modification timestamp are bumped and the record is marked
// pending for the next reconciliation pass.
func (s *Store) Put(key string, payload map[string]any) (*types.Record, error) {
	if key == "" {
		return nil, errors.New("record key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	rec := &types.Record{
		Key:        key,
		Revision:   1,
		Payload:    payload,
		SyncStatus: types.StatusPending,
	}
	if prev, ok := s.records[key]; ok {
		rec.Revision = prev.Revision + 1
		rec.ModifiedAt = types.NextModifiedAt(prev.ModifiedAt)
	} else {
		rec.ModifiedAt = types.NextModifiedAt(0)
	}
	s.records[key] = rec

	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Apply lands a downloaded record without disturbing its remote
// timestamp. A stored record whose timestamp is ahead of the incoming
// one is kept untouched: a local write that raced the pass stays pending
// and wins the next one. Equal timestamps overwrite (remote wins ties).
func (s *Store) Apply(rec *types.Record) error {
	if rec == nil || rec.Key == "" {
		return errors.New("record key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if cur, ok := s.records[rec.Key]; ok && cur.ModifiedAt > rec.ModifiedAt {
		return nil
	}
	s.records[rec.Key] = rec.Clone()
	return s.persistLocked()
}

// MarkSynced flips a record to synced, but only if its timestamp still
// matches modifiedAt. A local write that raced the upload keeps its
// pending status and is picked up next pass.
func (s *Store) MarkSynced(key string, modifiedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	rec, ok := s.records[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if rec.ModifiedAt != modifiedAt {
		return nil // concurrently modified; stays pending
	}
	if rec.SyncStatus == types.StatusSynced {
		return nil
	}
	rec.SyncStatus = types.StatusSynced
	return s.persistLocked()
}

// MarkConflict records that conflict resolution for key could not be
// applied; the record is retried on the next pass.
func (s *Store) MarkConflict(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	rec, ok := s.records[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	rec.SyncStatus = types.StatusConflict
	return s.persistLocked()
}

// List returns cloned records matching the filter, sorted by key.
func (s *Store) List(filter types.RecordFilter) ([]*types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := make([]*types.Record, 0, len(s.records))
	for _, rec := range s.records {
		if filter.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Pending returns all records awaiting upload or conflict retry.
func (s *Store) Pending() ([]*types.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	var out []*types.Record
	for _, rec := range s.records {
		if rec.SyncStatus == types.StatusPending || rec.SyncStatus == types.StatusConflict {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes the record for key. Deletion is local only: it is not
// propagated to the remote store as a tombstone.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, ok := s.records[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(s.records, key)
	return s.persistLocked()
}

// Len returns the number of records in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close flushes the document and rejects further use.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	err := s.persistLocked()
	s.closed = true
	return err
}

// persistLocked writes the document atomically. Callers hold s.mu. Local
// IO failures are transient; the write is retried under the store policy.
func (s *Store) persistLocked() error {
	s.lastUpdated = time.Now().UTC()

	doc := document{
		Records:  make([]*types.Record, 0, len(s.records)),
		Metadata: metadata{LastUpdated: s.lastUpdated},
	}
	for _, rec := range s.records {
		doc.Records = append(doc.Records, rec)
	}
	sort.Slice(doc.Records, func(i, j int) bool { return doc.Records[i].Key < doc.Records[j].Key })

	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling local store: %w", err)
	}

	_, err = s.policy.Do(context.Background(), func() error {
		if err := s.writeAtomic(data); err != nil {
			return errclass.LocalIO(err)
		}
		return nil
	})
	return err
}

// writeAtomic writes data to a temp file in the target directory, then
// renames it over the document.
func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}
