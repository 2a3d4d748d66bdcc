package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	if cfg.Listen.Addr() != "127.0.0.1:5555" {
		t.Errorf("listen addr: got %s", cfg.Listen.Addr())
	}
	if cfg.Queue.Capacity != 2_000_000 {
		t.Errorf("queue capacity: got %d", cfg.Queue.Capacity)
	}
	if cfg.Batch.Size != 100_000 {
		t.Errorf("batch size: got %d", cfg.Batch.Size)
	}
	if cfg.Batch.FlushInterval != 300*time.Millisecond {
		t.Errorf("flush interval: got %v", cfg.Batch.FlushInterval)
	}
	if cfg.Receiver.ReadBufferSize != 32*1024*1024 {
		t.Errorf("read buffer: got %d", cfg.Receiver.ReadBufferSize)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
listen:
  host: 0.0.0.0
  port: 6000
data_dir: /tmp/ticks
queue:
  capacity: 500000
batch:
  flush_interval: 1s
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Listen.Addr() != "0.0.0.0:6000" {
		t.Errorf("listen addr: got %s", cfg.Listen.Addr())
	}
	if cfg.DataDir != "/tmp/ticks" {
		t.Errorf("data dir: got %s", cfg.DataDir)
	}
	if cfg.Queue.Capacity != 500000 {
		t.Errorf("queue capacity: got %d", cfg.Queue.Capacity)
	}
	if cfg.Batch.FlushInterval != time.Second {
		t.Errorf("flush interval: got %v", cfg.Batch.FlushInterval)
	}

	// Untouched sections keep their defaults.
	if cfg.Batch.Size != 100_000 {
		t.Errorf("batch size default lost: got %d", cfg.Batch.Size)
	}
	if cfg.Queue.PopTimeout != time.Second {
		t.Errorf("pop timeout default lost: got %v", cfg.Queue.PopTimeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	// Load wraps the os error; callers match with errors.Is.
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
listen:
  port: 99999
queue:
  capacity: -1
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = ""
	cfg.Listen.Port = 0
	cfg.Batch.Size = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error")
	}

	for _, want := range []string{"data_dir", "port", "size"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q: %v", want, err)
		}
	}
}

func TestValidateIdleTimeoutZeroAllowed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Receiver.IdleTimeout = 0 // disables auto-stop
	if err := cfg.Validate(); err != nil {
		t.Errorf("zero idle timeout should be valid: %v", err)
	}

	cfg.Receiver.IdleTimeout = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("negative idle timeout should be invalid")
	}
}

func TestSplitListenAddr(t *testing.T) {
	host, port, err := SplitListenAddr("0.0.0.0:6000")
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if host != "0.0.0.0" || port != 6000 {
		t.Errorf("got %s:%d", host, port)
	}

	for _, bad := range []string{"no-port", "host:notaport", ""} {
		if _, _, err := SplitListenAddr(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestEnsureDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "ticks")

	if err := cfg.EnsureDataDir(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if info, err := os.Stat(cfg.DataDir); err != nil || !info.IsDir() {
		t.Errorf("data dir not created: %v", err)
	}
}
