package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds the sync core's tunables, read from config.toml in the data
// directory. Zero values are replaced by defaults in Load.
type Config struct {
	// DataDir is the root for per-account databases and logs.
	DataDir string `toml:"data_dir"`

	// BatchPageSize is the page size used for batched message fetches.
	BatchPageSize int `toml:"batch_page_size"`

	// StreamResyncDelayMs is how long after a streamed new-conversation
	// event the redundant message re-sync is scheduled. Compensates for
	// conversation events arriving before message backfill is ready.
	StreamResyncDelayMs int64 `toml:"stream_resync_delay_ms"`

	// PendingSweepIntervalMs is the period of the background worker that
	// creates pending conversations and garbage-collects empty ones.
	PendingSweepIntervalMs int64 `toml:"pending_sweep_interval_ms"`

	Debug bool `toml:"debug"`
}

// Default returns the built-in configuration rooted at dir.
func Default(dir string) *Config {
	return &Config{
		DataDir:                dir,
		BatchPageSize:          30,
		StreamResyncDelayMs:    3000,
		PendingSweepIntervalMs: 30000,
	}
}

// Load reads config from the given path, filling unset fields with defaults.
// A missing file yields the defaults for its directory.
func Load(path string) (*Config, error) {
	cfg := Default(filepath.Dir(path))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.BatchPageSize <= 0 {
		cfg.BatchPageSize = 30
	}
	if cfg.StreamResyncDelayMs <= 0 {
		cfg.StreamResyncDelayMs = 3000
	}
	if cfg.PendingSweepIntervalMs <= 0 {
		cfg.PendingSweepIntervalMs = 30000
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// AccountsDir returns the root directory for per-account local state.
func (c *Config) AccountsDir() string {
	return filepath.Join(c.DataDir, "accounts")
}

// AccountDir returns the directory holding one account's local state.
func (c *Config) AccountDir(account string) string {
	return filepath.Join(c.AccountsDir(), account)
}

// LogPath returns the rotating log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "palaver.log")
}
