package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.SyncIntervalMinutes != 15 {
		t.Errorf("SyncIntervalMinutes = %d, want 15", cfg.SyncIntervalMinutes)
	}
	if !cfg.AutoSyncEnabled {
		t.Error("AutoSyncEnabled = false, want true")
	}
	if !cfg.AutoSyncOnRecovery {
		t.Error("AutoSyncOnRecovery = false, want true")
	}
	if cfg.HealthCheckIntervalSeconds != 30 {
		t.Errorf("HealthCheckIntervalSeconds = %d, want 30", cfg.HealthCheckIntervalSeconds)
	}
	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("RetryMaxAttempts = %d, want 3", cfg.RetryMaxAttempts)
	}
	if cfg.RemoteTable != "records" {
		t.Errorf("RemoteTable = %q, want records", cfg.RemoteTable)
	}
	wantOrder := []string{"objectstore", "clouddrive"}
	if len(cfg.ArtifactBackendOrder) != len(wantOrder) {
		t.Fatalf("ArtifactBackendOrder = %v, want %v", cfg.ArtifactBackendOrder, wantOrder)
	}
	for i, name := range wantOrder {
		if cfg.ArtifactBackendOrder[i] != name {
			t.Errorf("ArtifactBackendOrder[%d] = %q, want %q", i, cfg.ArtifactBackendOrder[i], name)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	content := `sync-interval-minutes: 5
auto-sync-enabled: false
remote-dsn: "drift:pw@tcp(db.example.com:3306)/driftline"
artifact-backend-order:
  - clouddrive
objectstore:
  endpoint: "minio.example.com:9000"
  bucket: "drift-artifacts"
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SyncIntervalMinutes != 5 {
		t.Errorf("SyncIntervalMinutes = %d, want 5", cfg.SyncIntervalMinutes)
	}
	if cfg.AutoSyncEnabled {
		t.Error("AutoSyncEnabled = true, want false")
	}
	if cfg.RemoteDSN != "drift:pw@tcp(db.example.com:3306)/driftline" {
		t.Errorf("RemoteDSN = %q", cfg.RemoteDSN)
	}
	if len(cfg.ArtifactBackendOrder) != 1 || cfg.ArtifactBackendOrder[0] != "clouddrive" {
		t.Errorf("ArtifactBackendOrder = %v, want [clouddrive]", cfg.ArtifactBackendOrder)
	}
	if cfg.ObjectStore.Bucket != "drift-artifacts" {
		t.Errorf("ObjectStore.Bucket = %q, want drift-artifacts", cfg.ObjectStore.Bucket)
	}
	// Unset keys keep their defaults.
	if cfg.HealthCheckIntervalSeconds != 30 {
		t.Errorf("HealthCheckIntervalSeconds = %d, want 30", cfg.HealthCheckIntervalSeconds)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DRIFT_SYNC_INTERVAL_MINUTES", "2")
	t.Setenv("DRIFT_REMOTE_DSN", "env:pw@tcp(envhost:3306)/driftline")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SyncIntervalMinutes != 2 {
		t.Errorf("SyncIntervalMinutes = %d, want 2 (env override)", cfg.SyncIntervalMinutes)
	}
	if cfg.RemoteDSN != "env:pw@tcp(envhost:3306)/driftline" {
		t.Errorf("RemoteDSN = %q, want env override", cfg.RemoteDSN)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("sync-interval-minutes: [not a number"), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("Load succeeded on malformed yaml, want error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(*Config) {}, false},
		{"zero sync interval", func(c *Config) { c.SyncIntervalMinutes = 0 }, true},
		{"zero probe interval", func(c *Config) { c.HealthCheckIntervalSeconds = 0 }, true},
		{"zero retry attempts", func(c *Config) { c.RetryMaxAttempts = 0 }, true},
		{"negative base delay", func(c *Config) { c.RetryBaseDelayMs = -1 }, true},
		{"unknown backend", func(c *Config) { c.ArtifactBackendOrder = []string{"ftp"} }, true},
		{"duplicate backend", func(c *Config) { c.ArtifactBackendOrder = []string{"clouddrive", "clouddrive"} }, true},
		{"empty backend order", func(c *Config) { c.ArtifactBackendOrder = nil }, false},
		{"mixed case backend", func(c *Config) { c.ArtifactBackendOrder = []string{"ObjectStore"} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetryPolicy(t *testing.T) {
	cfg := Default()
	p := cfg.RetryPolicy()
	if p.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", p.MaxAttempts)
	}
	if p.BaseDelay != 500*time.Millisecond {
		t.Errorf("BaseDelay = %v, want 500ms", p.BaseDelay)
	}
	if p.Cap != 10*time.Second {
		t.Errorf("Cap = %v, want 10s", p.Cap)
	}
}

func TestPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/driftline"
	if got := cfg.StorePath(); got != filepath.Join("/var/lib/driftline", "records.json") {
		t.Errorf("StorePath = %q", got)
	}
	if got := cfg.ArtifactPath(); got != filepath.Join("/var/lib/driftline", "artifacts") {
		t.Errorf("ArtifactPath = %q", got)
	}
}

func TestLoadLocalConfig(t *testing.T) {
	dir := t.TempDir()
	content := "data-dir: /srv/drift\nremote-dsn: u:p@tcp(h:3306)/d\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg := LoadLocalConfig(dir)
	if cfg.DataDir != "/srv/drift" {
		t.Errorf("DataDir = %q, want /srv/drift", cfg.DataDir)
	}

	// Missing file yields an empty config, never nil.
	if empty := LoadLocalConfig(t.TempDir()); empty == nil || empty.DataDir != "" {
		t.Errorf("LoadLocalConfig on missing file = %+v, want empty", empty)
	}
}

func TestLoadLocalConfigWithEnv(t *testing.T) {
	t.Setenv("DRIFT_REMOTE_DSN", "env:pw@tcp(h:3306)/d")
	cfg := LoadLocalConfigWithEnv(t.TempDir())
	if cfg.RemoteDSN != "env:pw@tcp(h:3306)/d" {
		t.Errorf("RemoteDSN = %q, want env value", cfg.RemoteDSN)
	}
}
