// Package config loads driftline configuration from config.yaml with
// environment variable overrides (DRIFT_ prefix).
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/driftline/driftline/internal/artifact/clouddrive"
	"github.com/driftline/driftline/internal/artifact/localdisk"
	"github.com/driftline/driftline/internal/artifact/objectstore"
	"github.com/driftline/driftline/internal/retry"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// DRIFT_SYNC_INTERVAL_MINUTES overrides sync-interval-minutes.
const EnvPrefix = "DRIFT"

// validBackendNames is the set of allowed artifact backend identifiers.
var validBackendNames = map[string]bool{
	objectstore.BackendName: true,
	clouddrive.BackendName:  true,
	localdisk.BackendName:   true,
}

// ObjectStoreConfig configures the S3-compatible object storage backend.
type ObjectStoreConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access-key"`
	SecretKey string `mapstructure:"secret-key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use-ssl"`
}

// CloudDriveConfig configures the cloud drive backend.
type CloudDriveConfig struct {
	CredentialsFile string `mapstructure:"credentials-file"`
	FolderID        string `mapstructure:"folder-id"`
}

// Config is the full driftline configuration.
type Config struct {
	// Local store
	DataDir   string `mapstructure:"data-dir"`
	StoreFile string `mapstructure:"store-file"`

	// Remote store
	RemoteDSN   string `mapstructure:"remote-dsn"`
	RemoteTable string `mapstructure:"remote-table"`

	// Sync scheduling
	SyncIntervalMinutes        int  `mapstructure:"sync-interval-minutes"`
	AutoSyncEnabled            bool `mapstructure:"auto-sync-enabled"`
	AutoSyncOnRecovery         bool `mapstructure:"auto-sync-on-recovery"`
	HealthCheckIntervalSeconds int  `mapstructure:"health-check-interval-seconds"`

	// Retry policy, shared by remote store and artifact backends
	RetryMaxAttempts  int `mapstructure:"retry-max-attempts"`
	RetryBaseDelayMs  int `mapstructure:"retry-base-delay-ms"`
	RetryMaxDelaySecs int `mapstructure:"retry-max-delay-seconds"`

	// Artifact storage
	ArtifactBackendOrder []string          `mapstructure:"artifact-backend-order"`
	ArtifactDir          string            `mapstructure:"artifact-dir"`
	ObjectStore          ObjectStoreConfig `mapstructure:"objectstore"`
	CloudDrive           CloudDriveConfig  `mapstructure:"clouddrive"`

	// Daemon logging
	LogFile       string `mapstructure:"log-file"`
	LogMaxSizeMB  int    `mapstructure:"log-max-size-mb"`
	LogMaxBackups int    `mapstructure:"log-max-backups"`
	LogMaxAgeDays int    `mapstructure:"log-max-age-days"`
}

// Default returns the configuration used when no config.yaml exists.
func Default() *Config {
	return &Config{
		DataDir:                    ".driftline",
		StoreFile:                  "records.json",
		RemoteTable:                "records",
		SyncIntervalMinutes:        15,
		AutoSyncEnabled:            true,
		AutoSyncOnRecovery:         true,
		HealthCheckIntervalSeconds: 30,
		RetryMaxAttempts:           3,
		RetryBaseDelayMs:           500,
		RetryMaxDelaySecs:          10,
		ArtifactBackendOrder:       []string{objectstore.BackendName, clouddrive.BackendName},
		ArtifactDir:                "artifacts",
		LogFile:                    "drift.log",
		LogMaxSizeMB:               10,
		LogMaxBackups:              3,
		LogMaxAgeDays:              28,
	}
}

// Load reads config.yaml from dir (if present) and applies DRIFT_*
// environment overrides on top of the defaults. A missing config file is
// not an error; a malformed one is.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	def := Default()
	// Every key gets a default so env-only overrides survive Unmarshal.
	v.SetDefault("remote-dsn", "")
	v.SetDefault("objectstore.endpoint", "")
	v.SetDefault("objectstore.access-key", "")
	v.SetDefault("objectstore.secret-key", "")
	v.SetDefault("objectstore.bucket", "")
	v.SetDefault("objectstore.use-ssl", false)
	v.SetDefault("clouddrive.credentials-file", "")
	v.SetDefault("clouddrive.folder-id", "")
	v.SetDefault("data-dir", def.DataDir)
	v.SetDefault("store-file", def.StoreFile)
	v.SetDefault("remote-table", def.RemoteTable)
	v.SetDefault("sync-interval-minutes", def.SyncIntervalMinutes)
	v.SetDefault("auto-sync-enabled", def.AutoSyncEnabled)
	v.SetDefault("auto-sync-on-recovery", def.AutoSyncOnRecovery)
	v.SetDefault("health-check-interval-seconds", def.HealthCheckIntervalSeconds)
	v.SetDefault("retry-max-attempts", def.RetryMaxAttempts)
	v.SetDefault("retry-base-delay-ms", def.RetryBaseDelayMs)
	v.SetDefault("retry-max-delay-seconds", def.RetryMaxDelaySecs)
	v.SetDefault("artifact-backend-order", def.ArtifactBackendOrder)
	v.SetDefault("artifact-dir", def.ArtifactDir)
	v.SetDefault("log-file", def.LogFile)
	v.SetDefault("log-max-size-mb", def.LogMaxSizeMB)
	v.SetDefault("log-max-backups", def.LogMaxBackups)
	v.SetDefault("log-max-age-days", def.LogMaxAgeDays)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and backend names.
func (c *Config) Validate() error {
	if c.SyncIntervalMinutes < 1 {
		return fmt.Errorf("sync-interval-minutes must be at least 1, got %d", c.SyncIntervalMinutes)
	}
	if c.HealthCheckIntervalSeconds < 1 {
		return fmt.Errorf("health-check-interval-seconds must be at least 1, got %d", c.HealthCheckIntervalSeconds)
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry-max-attempts must be at least 1, got %d", c.RetryMaxAttempts)
	}
	if c.RetryBaseDelayMs < 0 {
		return fmt.Errorf("retry-base-delay-ms must not be negative, got %d", c.RetryBaseDelayMs)
	}
	seen := make(map[string]bool, len(c.ArtifactBackendOrder))
	for i, name := range c.ArtifactBackendOrder {
		name = strings.ToLower(strings.TrimSpace(name))
		c.ArtifactBackendOrder[i] = name
		if !validBackendNames[name] {
			return fmt.Errorf("unknown artifact backend %q (valid: %s, %s, %s)",
				name, objectstore.BackendName, clouddrive.BackendName, localdisk.BackendName)
		}
		if seen[name] {
			return fmt.Errorf("artifact backend %q listed twice", name)
		}
		seen[name] = true
	}
	return nil
}

// RetryPolicy builds the shared retry policy from the configured knobs.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.RetryMaxAttempts,
		BaseDelay:   time.Duration(c.RetryBaseDelayMs) * time.Millisecond,
		Multiplier:  2.0,
		Cap:         time.Duration(c.RetryMaxDelaySecs) * time.Second,
	}
}

// SyncInterval returns the scheduler sync interval.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.SyncIntervalMinutes) * time.Minute
}

// ProbeInterval returns the connectivity probe interval.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSeconds) * time.Second
}

// StorePath returns the absolute-ish path of the local record store file.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, c.StoreFile)
}

// ArtifactPath returns the local artifact directory.
func (c *Config) ArtifactPath() string {
	return filepath.Join(c.DataDir, c.ArtifactDir)
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, c.LogFile)
}
