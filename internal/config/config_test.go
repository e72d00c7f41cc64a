package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "config.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DataDir != dir {
		t.Errorf("data_dir = %q, want %q", cfg.DataDir, dir)
	}
	if cfg.BatchPageSize != 30 {
		t.Errorf("batch_page_size = %d, want 30", cfg.BatchPageSize)
	}
	if cfg.StreamResyncDelayMs != 3000 {
		t.Errorf("stream_resync_delay_ms = %d, want 3000", cfg.StreamResyncDelayMs)
	}
	if cfg.PendingSweepIntervalMs != 30000 {
		t.Errorf("pending_sweep_interval_ms = %d, want 30000", cfg.PendingSweepIntervalMs)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default(filepath.Dir(path))
	cfg.BatchPageSize = 50
	cfg.Debug = true

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.BatchPageSize != 50 {
		t.Errorf("batch_page_size = %d, want 50", loaded.BatchPageSize)
	}
	if !loaded.Debug {
		t.Error("debug flag lost in round trip")
	}
}

func TestLoadFillsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("batch_page_size = -1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BatchPageSize != 30 {
		t.Errorf("batch_page_size = %d, want default 30", cfg.BatchPageSize)
	}
}

func TestAccountDirLayout(t *testing.T) {
	cfg := Default("/data")
	if got := cfg.AccountDir("0xacc"); got != filepath.Join("/data", "accounts", "0xacc") {
		t.Errorf("account dir = %q", got)
	}
	if got := cfg.LogPath(); got != filepath.Join("/data", "logs", "palaver.log") {
		t.Errorf("log path = %q", got)
	}
}
