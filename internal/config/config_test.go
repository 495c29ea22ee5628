package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("creates defaults", func(t *testing.T) {
		dir := t.TempDir()
		cfg, err := Load(dir)
		if err != nil {
			t.Fatal(err)
		}
		if *cfg != Default() {
			t.Errorf("Load() = %+v, want defaults", cfg)
		}
		if _, err := os.Stat(filepath.Join(dir, FileName)); err != nil {
			t.Errorf("config file not created: %v", err)
		}
		again, err := Load(dir)
		if err != nil {
			t.Fatal(err)
		}
		if *again != *cfg {
			t.Errorf("reloaded = %+v, want %+v", again, cfg)
		}
	})

	t.Run("partial file keeps defaults", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "log_level: debug\nlock_timeout: 250ms\nrate_limits:\n  write_per_min: 3\n")
		cfg, err := Load(dir)
		if err != nil {
			t.Fatal(err)
		}
		want := Default()
		want.LogLevel = "debug"
		want.LockTimeout = 250 * time.Millisecond
		want.RateLimits.WritePerMin = 3
		if *cfg != want {
			t.Errorf("Load() = %+v, want %+v", cfg, want)
		}
	})

	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "log_level: [\n"},
		{"bad level", "log_level: loud\n"},
		{"negative timeout", "lock_timeout: -1s\n"},
		{"negative body", "max_request_body_bytes: -1\n"},
		{"negative rate", "rate_limits:\n  read_per_min: -5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)
			if _, err := Load(dir); err == nil {
				t.Error("Load() succeeded, want error")
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	for name, want := range map[string]slog.Level{"debug": slog.LevelDebug, "INFO": slog.LevelInfo, "warn": slog.LevelWarn, "error": slog.LevelError} {
		if got, err := ParseLogLevel(name); err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %v, %v", name, got, err)
		}
	}
	if _, err := ParseLogLevel("trace"); err == nil {
		t.Error("ParseLogLevel(trace) succeeded")
	}
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(dir); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	got := make(chan *ServerConfig, 10)
	if err := Watch(ctx, dir, func(c *ServerConfig) { got <- c }); err != nil {
		t.Fatal(err)
	}
	// Invalid content is ignored; the valid edit that follows is delivered.
	writeConfig(t, dir, "log_level: loud\n")
	writeConfig(t, dir, "log_level: warn\n")
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c := <-got:
			if c.LogLevel == "warn" {
				return
			}
		case <-timeout:
			t.Fatal("no reload observed")
		}
	}
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}
