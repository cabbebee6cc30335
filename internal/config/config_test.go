package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rudp.yml")
	data := []byte("listen_addr: \":5000\"\nidle_timeout_ms: 3000\ndebug: true\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":5000" {
		t.Errorf("ListenAddr = %q, want \":5000\"", cfg.ListenAddr)
	}
	if cfg.IdleTimeout() != 3*time.Second {
		t.Errorf("IdleTimeout = %v, want 3s", cfg.IdleTimeout())
	}
	if !cfg.Debug {
		t.Error("Debug = false, want true")
	}

	// Untouched keys keep their defaults.
	if cfg.WindowSize != Default().WindowSize {
		t.Errorf("WindowSize = %d, want default %d", cfg.WindowSize, Default().WindowSize)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg != Default() {
		t.Errorf("Load(\"\") = %+v, want defaults %+v", cfg, Default())
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Error("Load of a missing file did not fail")
	}
}
