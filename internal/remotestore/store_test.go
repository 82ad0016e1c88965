package remotestore

import (
	"errors"
	"strings"
	"testing"

	"github.com/driftline/driftline/internal/retry"
	"github.com/driftline/driftline/internal/types"
)

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"valid DSN", Config{DSN: "sync:pw@tcp(db.example.com:3306)/driftline"}, false},
		{"missing DSN", Config{}, true},
		{"malformed DSN", Config{DSN: "://not-a-dsn"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	s, err := New(Config{DSN: "sync:pw@tcp(localhost:3306)/driftline"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if s.cfg.Table != DefaultTable {
		t.Errorf("table = %q, want %q", s.cfg.Table, DefaultTable)
	}
	if s.cfg.ConnectTimeout <= 0 {
		t.Error("connect timeout should default to a positive bound")
	}
	if s.policy.MaxAttempts != retry.Default().MaxAttempts {
		t.Errorf("retry attempts = %d, want default %d", s.policy.MaxAttempts, retry.Default().MaxAttempts)
	}
}

func TestScanRecord(t *testing.T) {
	scan := func(dest ...any) error {
		*dest[0].(*string) = "inv-001"
		*dest[1].(*int64) = 4
		*dest[2].(*[]byte) = []byte(`{"client":"acme","total":99.5}`)
		*dest[3].(*int64) = 1700000000000
		*dest[4].(*string) = "synced"
		return nil
	}

	rec, err := scanRecord(scan)
	if err != nil {
		t.Fatalf("scanRecord failed: %v", err)
	}
	if rec.Key != "inv-001" || rec.Revision != 4 || rec.ModifiedAt != 1700000000000 {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.SyncStatus != types.StatusSynced {
		t.Errorf("status = %q, want synced", rec.SyncStatus)
	}
	if rec.Payload["client"] != "acme" {
		t.Errorf("payload = %v", rec.Payload)
	}
}

func TestScanRecordBadPayload(t *testing.T) {
	scan := func(dest ...any) error {
		*dest[0].(*string) = "inv-001"
		*dest[2].(*[]byte) = []byte("{broken")
		return nil
	}
	if _, err := scanRecord(scan); err == nil {
		t.Fatal("expected error for unparseable payload")
	}
}

func TestScanRecordPropagatesScanError(t *testing.T) {
	want := errors.New("scan blew up")
	if _, err := scanRecord(func(...any) error { return want }); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestSchemaShape(t *testing.T) {
	for _, col := range []string{"`key`", "revision", "payload", "modified_at", "sync_status", "PRIMARY KEY", "idx_modified_at"} {
		if !strings.Contains(schemaTemplate, col) {
			t.Errorf("schema missing %q", col)
		}
	}
}
