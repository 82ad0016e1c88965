package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of config.yaml read directly from the file,
// bypassing viper. Used before the full config is loaded (daemon startup
// decides where to log before anything else) and when the working
// directory has changed since initialization.
type LocalConfig struct {
	DataDir   string `yaml:"data-dir"`
	RemoteDSN string `yaml:"remote-dsn"`
	LogFile   string `yaml:"log-file"`
}

// LoadLocalConfig reads and parses config.yaml directly from dir.
// Returns an empty LocalConfig (not nil) if the file doesn't exist or
// can't be parsed.
func LoadLocalConfig(dir string) *LocalConfig {
	data, err := os.ReadFile(filepath.Join(dir, "config.yaml")) // #nosec G304 - path rooted at caller-supplied dir
	if err != nil {
		return &LocalConfig{}
	}

	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}
	return &cfg
}

// LoadLocalConfigWithEnv reads config.yaml and applies environment
// variable overrides. Environment variables take precedence.
func LoadLocalConfigWithEnv(dir string) *LocalConfig {
	cfg := LoadLocalConfig(dir)
	if dsn := os.Getenv("DRIFT_REMOTE_DSN"); dsn != "" {
		cfg.RemoteDSN = dsn
	}
	if dd := os.Getenv("DRIFT_DATA_DIR"); dd != "" {
		cfg.DataDir = dd
	}
	return cfg
}
