package config

import (
	"os"
	"path/filepath"
	"testing"
)

type testOptions struct {
	Config     string
	DevicePath string `toml:"capture.device" env:"CAPTURE_DEVICE"`
	BitrateBps uint32 `toml:"capture.bitrate_bps" env:"CAPTURE_BITRATE_BPS"`
	KeyframeMs int    `toml:"capture.keyframe_ms" env:"CAPTURE_KEYFRAME_MS"`
	LogJSON    bool   `toml:"logging.json" env:"LOG_JSON"`
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeConfig(t, `
[capture]
device = "/dev/video2"
bitrate_bps = 6000000
keyframe_ms = 1500

[logging]
json = true
`)

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.DevicePath != "/dev/video2" {
		t.Errorf("DevicePath = %q, want /dev/video2", opts.DevicePath)
	}
	if opts.BitrateBps != 6000000 {
		t.Errorf("BitrateBps = %d, want 6000000", opts.BitrateBps)
	}
	if opts.KeyframeMs != 1500 {
		t.Errorf("KeyframeMs = %d, want 1500", opts.KeyframeMs)
	}
	if !opts.LogJSON {
		t.Error("LogJSON = false, want true")
	}
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[capture]
device = "/dev/video2"
`)

	t.Setenv("VEHICLECAM_CAPTURE_DEVICE", "/dev/video5")
	t.Setenv("VEHICLECAM_CAPTURE_KEYFRAME_MS", "3000")

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if opts.DevicePath != "/dev/video5" {
		t.Errorf("DevicePath = %q, env var should win over file", opts.DevicePath)
	}
	if opts.KeyframeMs != 3000 {
		t.Errorf("KeyframeMs = %d, want 3000 from env", opts.KeyframeMs)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	opts := &testOptions{Config: "/nonexistent/config.toml", DevicePath: "/dev/video0"}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed on a missing file: %v", err)
	}
	if opts.DevicePath != "/dev/video0" {
		t.Errorf("DevicePath = %q, defaults must survive a missing file", opts.DevicePath)
	}
}

func TestLoadConfigMalformedTOML(t *testing.T) {
	path := writeConfig(t, "not [valid toml")
	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err == nil {
		t.Error("LoadConfig succeeded on malformed TOML")
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "Port", expected: "port"},
		{input: "LoggingLevel", expected: "logging-level"},
		{input: "DevicePath", expected: "device-path"},
	}
	for _, tt := range tests {
		if got := fieldNameToFlag(tt.input); got != tt.expected {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeConfig(t, `
[logging]
level = "debug"
format = "json"
source = "warn"
`)

	cfg := LoadLoggingConfig(path)
	if cfg.Level != "debug" || cfg.Format != "json" {
		t.Errorf("cfg = %+v, want level=debug format=json", cfg)
	}
	if cfg.Modules["source"] != "warn" {
		t.Errorf("Modules[source] = %q, want warn", cfg.Modules["source"])
	}

	// Missing file yields defaults.
	def := LoadLoggingConfig("/nonexistent.toml")
	if def.Level != "info" || def.Format != "text" {
		t.Errorf("default cfg = %+v, want info/text", def)
	}
}
