package types

import (
	"testing"
	"time"
)

func TestNextModifiedAt(t *testing.T) {
	tests := []struct {
		name string
		prev int64
	}{
		{"zero prev", 0},
		{"past prev", time.Now().Add(-time.Hour).UnixMilli()},
		{"future prev", time.Now().Add(time.Hour).UnixMilli()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextModifiedAt(tt.prev)
			if got <= tt.prev {
				t.Errorf("NextModifiedAt(%d) = %d, want > prev", tt.prev, got)
			}
		})
	}
}

func TestRecordClone(t *testing.T) {
	orig := &Record{
		Key:        "inv-001",
		Revision:   3,
		Payload:    map[string]any{"total": 42.5},
		ModifiedAt: 1700000000000,
		SyncStatus: StatusPending,
	}

	clone := orig.Clone()
	clone.Payload["total"] = 99.0
	clone.Revision = 4

	if orig.Payload["total"] != 42.5 {
		t.Errorf("clone mutation leaked into original payload: %v", orig.Payload["total"])
	}
	if orig.Revision != 3 {
		t.Errorf("clone mutation leaked into original revision: %d", orig.Revision)
	}

	var nilRec *Record
	if nilRec.Clone() != nil {
		t.Error("Clone of nil record should be nil")
	}
}

func TestRecordFilterMatches(t *testing.T) {
	rec := &Record{
		Key:        "inv-042",
		ModifiedAt: 1000,
		SyncStatus: StatusPending,
	}

	tests := []struct {
		name   string
		filter RecordFilter
		want   bool
	}{
		{"empty filter matches", RecordFilter{}, true},
		{"status match", RecordFilter{Status: StatusPending}, true},
		{"status mismatch", RecordFilter{Status: StatusSynced}, false},
		{"modified after passes", RecordFilter{ModifiedAfter: 999}, true},
		{"modified after excludes equal", RecordFilter{ModifiedAfter: 1000}, false},
		{"prefix match", RecordFilter{KeyPrefix: "inv-"}, true},
		{"prefix mismatch", RecordFilter{KeyPrefix: "doc-"}, false},
		{"prefix longer than key", RecordFilter{KeyPrefix: "inv-042-extended"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(rec); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSyncStatusValid(t *testing.T) {
	for _, s := range []SyncStatus{StatusPending, StatusSynced, StatusConflict} {
		if !s.Valid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if SyncStatus("stale").Valid() {
		t.Error("unknown status should not be valid")
	}
}
