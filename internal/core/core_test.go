package core

import (
	"context"
	"errors"
	"testing"

	"github.com/driftline/driftline/internal/config"
	"github.com/driftline/driftline/internal/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.RemoteDSN = "drift:pw@tcp(127.0.0.1:3306)/driftline"
	// Cloud backends are unconfigured: the store runs on the local floor.
	return cfg
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := New(context.Background(), testConfig(t), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestNewRequiresDSN(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatal("New succeeded without remote-dsn, want error")
	}
}

func TestRecordRoundTrip(t *testing.T) {
	eng := newTestEngine(t)

	put, err := eng.PutRecord("note-1", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	if put.SyncStatus != types.StatusPending {
		t.Errorf("SyncStatus = %v, want pending", put.SyncStatus)
	}

	got, err := eng.GetRecord("note-1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.Payload["text"] != "hello" {
		t.Errorf("Payload = %v", got.Payload)
	}

	recs, err := eng.ListRecords(types.RecordFilter{})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("ListRecords returned %d records, want 1", len(recs))
	}

	n, err := eng.PendingCount()
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if n != 1 {
		t.Errorf("PendingCount = %d, want 1", n)
	}

	if err := eng.DeleteRecord("note-1"); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
	if _, err := eng.GetRecord("note-1"); err == nil {
		t.Error("GetRecord after delete succeeded, want error")
	}
}

func TestInitialModeIsOffline(t *testing.T) {
	eng := newTestEngine(t)
	if got := eng.SyncStatus().Mode; got != types.ModeOffline {
		t.Errorf("initial mode = %v, want offline", got)
	}
}

func TestArtifactRoundTripOnFloor(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	res, err := eng.PersistArtifact(ctx, "export.json", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("PersistArtifact: %v", err)
	}
	if !res.OverallSuccess {
		t.Fatalf("PersistArtifact failed: %+v", res)
	}
	if !res.Degraded {
		t.Error("persist with no cloud backends should report degraded")
	}

	data, err := eng.FetchArtifact(ctx, "export.json")
	if err != nil {
		t.Fatalf("FetchArtifact: %v", err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("FetchArtifact = %q", data)
	}

	if err := eng.DeleteArtifact(ctx, "export.json"); err != nil {
		t.Fatalf("DeleteArtifact: %v", err)
	}
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	eng := newTestEngine(t)
	if err := eng.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := eng.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if _, err := eng.GetRecord("k"); !errors.Is(err, ErrClosed) {
		t.Errorf("GetRecord after Close = %v, want ErrClosed", err)
	}
	if _, err := eng.PutRecord("k", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("PutRecord after Close = %v, want ErrClosed", err)
	}
	if _, err := eng.ForceSync(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("ForceSync after Close = %v, want ErrClosed", err)
	}
}
