// Package remotestore implements the thin client over the remote
// relational records table.
//
// The store connects lazily on first use. database/sql pools and replaces
// dropped connections on its own; on top of that, operations are retried
// under the shared policy when the SQL boundary classifies a failure as
// transient, so the sync engine never sees a reconnect.
package remotestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/driftline/driftline/internal/errclass"
	"github.com/driftline/driftline/internal/retry"
	"github.com/driftline/driftline/internal/types"
)

// ErrNotFound is returned when a requested record does not exist remotely.
var ErrNotFound = errors.New("record not found")

// DefaultTable is the records table name when configuration is silent.
const DefaultTable = "records"

// Schema for the records table. One row per record, unique on key,
// upsert-on-conflict semantics.
const schemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	` + "`key`" + ` VARCHAR(255) NOT NULL PRIMARY KEY,
	revision BIGINT NOT NULL,
	payload JSON NOT NULL,
	modified_at BIGINT NOT NULL,
	sync_status VARCHAR(16) NOT NULL,
	INDEX idx_modified_at (modified_at)
)`

// Config holds remote store configuration.
type Config struct {
	DSN            string        // go-sql-driver DSN, e.g. user:pass@tcp(host:3306)/db
	Table          string        // records table name (default: records)
	ConnectTimeout time.Duration // dial + ping bound for lazy connect
	MaxOpenConns   int           // connection pool cap (0 = driver default)
	Retry          retry.Policy  // shared transient-retry policy
}

// Store is the remote records client.
type Store struct {
	cfg    Config
	policy retry.Policy

	mu sync.Mutex
	db *sql.DB
}

// New creates a remote store. No connection is made until first use.
func New(cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("remote store DSN is required")
	}
	if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
		return nil, fmt.Errorf("invalid remote DSN: %w", err)
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &Store{cfg: cfg, policy: cfg.Retry.Normalized()}, nil
}

// conn returns the live handle, opening and initializing the schema on
// first call.
func (s *Store) conn(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	db, err := sql.Open("mysql", s.cfg.DSN)
	if err != nil {
		return nil, errclass.ClassifySQL(fmt.Errorf("opening remote store: %w", err))
	}
	if s.cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errclass.ClassifySQL(fmt.Errorf("connecting to remote store: %w", err))
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf(schemaTemplate, s.cfg.Table)); err != nil {
		_ = db.Close()
		return nil, errclass.ClassifySQL(fmt.Errorf("initializing records table: %w", err))
	}

	s.db = db
	return s.db, nil
}

// withRetry runs op with the shared policy; every error crossing this
// boundary is classified exactly once.
func (s *Store) withRetry(ctx context.Context, op func(db *sql.DB) error) error {
	_, err := s.policy.Do(ctx, func() error {
		db, err := s.conn(ctx)
		if err != nil {
			return err
		}
		if err := op(db); err != nil {
			return errclass.ClassifySQL(err)
		}
		return nil
	})
	return err
}

// Ping verifies the remote store answers within the configured timeout.
// Used by the connectivity probe; not retried.
func (s *Store) Ping(ctx context.Context) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		return errclass.ClassifySQL(err)
	}
	return nil
}

// Upsert writes rec, replacing any existing row with the same key.
func (s *Store) Upsert(ctx context.Context, rec *types.Record) error {
	if rec == nil || rec.Key == "" {
		return errors.New("record key is required")
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", rec.Key, err)
	}

	query := fmt.Sprintf("INSERT INTO %s (`key`, revision, payload, modified_at, sync_status) VALUES (?, ?, ?, ?, ?) "+
		"ON DUPLICATE KEY UPDATE revision = VALUES(revision), payload = VALUES(payload), "+
		"modified_at = VALUES(modified_at), sync_status = VALUES(sync_status)", s.cfg.Table)

	return s.withRetry(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, query, rec.Key, rec.Revision, payload, rec.ModifiedAt, rec.SyncStatus)
		return err
	})
}

// Get returns the record for key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (*types.Record, error) {
	query := fmt.Sprintf("SELECT `key`, revision, payload, modified_at, sync_status FROM %s WHERE `key` = ?", s.cfg.Table)

	var rec *types.Record
	err := s.withRetry(ctx, func(db *sql.DB) error {
		row := db.QueryRowContext(ctx, query, key)
		r, err := scanRecord(row.Scan)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err != nil {
		// A missing row is an answer, not a backend failure. ClassifySQL
		// leaves sql.ErrNoRows unwrapped so it surfaces here untagged.
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}
	return rec, nil
}

// ListModifiedSince returns records with modified_at strictly greater than
// since. A non-positive since returns everything.
func (s *Store) ListModifiedSince(ctx context.Context, since int64) ([]*types.Record, error) {
	query := fmt.Sprintf("SELECT `key`, revision, payload, modified_at, sync_status FROM %s", s.cfg.Table)
	var args []any
	if since > 0 {
		query += " WHERE modified_at > ?"
		args = append(args, since)
	}
	query += " ORDER BY `key`"

	var out []*types.Record
	err := s.withRetry(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0] // retry restarts the listing
		for rows.Next() {
			rec, err := scanRecord(rows.Scan)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the record for key. Missing rows are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE `key` = ?", s.cfg.Table)
	return s.withRetry(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, query, key)
		return err
	})
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// scanRecord maps one row onto a Record.
func scanRecord(scan func(dest ...any) error) (*types.Record, error) {
	var rec types.Record
	var payload []byte
	var status string
	if err := scan(&rec.Key, &rec.Revision, &payload, &rec.ModifiedAt, &status); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &rec.Payload); err != nil {
			return nil, fmt.Errorf("parsing payload for %s: %w", rec.Key, err)
		}
	}
	rec.SyncStatus = types.SyncStatus(status)
	return &rec, nil
}
