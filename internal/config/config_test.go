package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

const minimalValidConfig = `
gatekeeper:
  front:
    device: "eth0"
  back:
    device: "eth1"
`

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
gatekeeper:
  control:
    pid_file: "/tmp/test.pid"
    socket: "/tmp/test.sock"
  log:
    level: "debug"
  front:
    device: "eth0"
    workers: 4
  back:
    device: "eth1"
  metrics:
    enabled: true
    listen: "0.0.0.0:9090"
  node:
    tags:
      env: "test"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Control.PIDFile != "/tmp/test.pid" {
		t.Errorf("PIDFile = %s, want /tmp/test.pid", cfg.Control.PIDFile)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug", cfg.Log.Level)
	}
	if cfg.Front.Device != "eth0" || cfg.Front.Workers != 4 {
		t.Errorf("Front = %+v, want device=eth0 workers=4", cfg.Front)
	}
	if cfg.Back.Device != "eth1" {
		t.Errorf("Back.Device = %s, want eth1", cfg.Back.Device)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
}

func TestLoadInvalidLogLevel(t *testing.T) {
	path := writeConfig(t, minimalValidConfig+"\n  log:\n    level: \"invalid\"\n")
	if _, err := Load(path); err == nil {
		t.Error("Load with invalid log level = nil error, want error")
	}
}

func TestLoadMissingFrontDevice(t *testing.T) {
	path := writeConfig(t, `
gatekeeper:
  back:
    device: "eth1"
`)
	if _, err := Load(path); err == nil {
		t.Error("Load with no front.device = nil error, want error")
	}
}

func TestLoadMissingBackDevice(t *testing.T) {
	path := writeConfig(t, `
gatekeeper:
  front:
    device: "eth0"
`)
	if _, err := Load(path); err == nil {
		t.Error("Load with no back.device = nil error, want error")
	}
}

func TestLoadRejectsInvalidRSSKeyHex(t *testing.T) {
	path := writeConfig(t, minimalValidConfig+"\n  rss:\n    key: \"not-hex\"\n")
	if _, err := Load(path); err == nil {
		t.Error("Load with non-hex rss.key = nil error, want error")
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, minimalValidConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Control.PIDFile != "/var/run/gatekeeper.pid" {
		t.Errorf("PIDFile = %s, want default", cfg.Control.PIDFile)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %s, want info", cfg.Log.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled default = false, want true")
	}
	if cfg.GK.FlowTableCapacity != 1<<20 {
		t.Errorf("GK.FlowTableCapacity = %d, want %d", cfg.GK.FlowTableCapacity, 1<<20)
	}
	if cfg.GK.PicosecPerCycle != 1000 {
		t.Errorf("GK.PicosecPerCycle = %d, want 1000", cfg.GK.PicosecPerCycle)
	}
	if cfg.LLS.ScanInterval != "10s" {
		t.Errorf("LLS.ScanInterval = %s, want 10s", cfg.LLS.ScanInterval)
	}
	if cfg.RSS.RedirectionTableSize != 128 {
		t.Errorf("RSS.RedirectionTableSize = %d, want 128", cfg.RSS.RedirectionTableSize)
	}
	if cfg.Node.Hostname == "" {
		t.Error("Node.Hostname was not auto-detected")
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, minimalValidConfig)

	os.Setenv("GATEKEEPER_LOG_LEVEL", "debug")
	defer os.Unsetenv("GATEKEEPER_LOG_LEVEL")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %s, want debug (from env override)", cfg.Log.Level)
	}
}
