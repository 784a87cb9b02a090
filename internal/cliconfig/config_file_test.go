package cliconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func boolPtr(b bool) *bool { return &b }

func TestApplyFileConfig(t *testing.T) {
	cfg := DefaultConfig()
	fc := FileConfig{
		Device:       "/dev/ttyS3",
		BaudRate:     57600,
		Parity:       "odd",
		BlockSize:    64,
		FlushTimeout: "25ms",
		RTS:          boolPtr(true),
		Hex:          boolPtr(true),
	}

	if err := ApplyFileConfig(&cfg, fc, map[string]bool{}); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}

	if cfg.Device != "/dev/ttyS3" {
		t.Errorf("Device = %q", cfg.Device)
	}
	if cfg.BaudRate != 57600 {
		t.Errorf("BaudRate = %d", cfg.BaudRate)
	}
	if cfg.Parity != "odd" {
		t.Errorf("Parity = %q", cfg.Parity)
	}
	if cfg.BlockSize != 64 {
		t.Errorf("BlockSize = %d", cfg.BlockSize)
	}
	if cfg.FlushTimeout != 25*time.Millisecond {
		t.Errorf("FlushTimeout = %v", cfg.FlushTimeout)
	}
	if !cfg.RTS {
		t.Error("RTS not applied")
	}
	if !cfg.Hex {
		t.Error("Hex not applied")
	}
	// Untouched fields keep their defaults.
	if cfg.DataBits != 8 || cfg.StopBits != 1 {
		t.Errorf("DataBits = %d, StopBits = %d", cfg.DataBits, cfg.StopBits)
	}
}

func TestApplyFileConfigRespectsChangedFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Device = "/dev/from-flag"
	cfg.BaudRate = 9600

	fc := FileConfig{
		Device:   "/dev/from-file",
		BaudRate: 57600,
		Parity:   "even",
	}
	changed := map[string]bool{"device": true, "baud": true}

	if err := ApplyFileConfig(&cfg, fc, changed); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}

	if cfg.Device != "/dev/from-flag" {
		t.Errorf("Device = %q, flag value should win", cfg.Device)
	}
	if cfg.BaudRate != 9600 {
		t.Errorf("BaudRate = %d, flag value should win", cfg.BaudRate)
	}
	if cfg.Parity != "even" {
		t.Errorf("Parity = %q, file value should apply", cfg.Parity)
	}
}

func TestApplyFileConfigBadDuration(t *testing.T) {
	cfg := DefaultConfig()
	fc := FileConfig{FlushTimeout: "not-a-duration"}

	if err := ApplyFileConfig(&cfg, fc, map[string]bool{}); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoadFileConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
device = "/dev/ttyUSB7"
baud_rate = 230400
parity = "even"
block_size = 512
flush_timeout = "5ms"
shutdown_timeout = "2s"
dtr = true
watch = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	fc, err := LoadFileConfig(path)
	if err != nil {
		t.Fatalf("LoadFileConfig: %v", err)
	}

	if fc.Device != "/dev/ttyUSB7" {
		t.Errorf("Device = %q", fc.Device)
	}
	if fc.BaudRate != 230400 {
		t.Errorf("BaudRate = %d", fc.BaudRate)
	}
	if fc.BlockSize != 512 {
		t.Errorf("BlockSize = %d", fc.BlockSize)
	}
	if fc.FlushTimeout != "5ms" {
		t.Errorf("FlushTimeout = %q", fc.FlushTimeout)
	}
	if fc.DTR == nil || !*fc.DTR {
		t.Error("DTR not parsed")
	}
	if fc.Watch == nil || !*fc.Watch {
		t.Error("Watch not parsed")
	}
	if fc.Hex != nil {
		t.Error("Hex should be nil when absent")
	}
}

func TestLoadFileConfigMissing(t *testing.T) {
	_, err := LoadFileConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestFileExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	if FileExists(path) {
		t.Error("FileExists true for missing file")
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if !FileExists(path) {
		t.Error("FileExists false for existing file")
	}
}
