// Manages server configuration stored in server_config.yaml.

package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file name inside the data directory.
const FileName = "server_config.yaml"

// ServerConfig stores all server-wide configuration.
// Loaded from server_config.yaml, created with defaults if missing.
type ServerConfig struct {
	// LogLevel is one of debug, info, warn or error. Empty keeps the level
	// chosen on the command line.
	LogLevel string `yaml:"log_level"`

	// LockTimeout bounds how long a request waits for a collection lock.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// MaxRequestBodyBytes limits the size of any single HTTP request body.
	MaxRequestBodyBytes int64 `yaml:"max_request_body_bytes"`

	// RateLimits defines rate limiting configuration.
	RateLimits RateLimits `yaml:"rate_limits"`
}

// RateLimits defines rate limiting configuration (requests per minute).
type RateLimits struct {
	// WritePerMin limits write operations (POST/PATCH/DELETE).
	// 0 means unlimited.
	WritePerMin int `yaml:"write_per_min"`

	// ReadPerMin limits read operations.
	// 0 means unlimited.
	ReadPerMin int `yaml:"read_per_min"`
}

// Validate checks that rate limit values are non-negative.
func (r *RateLimits) Validate() error {
	if r.WritePerMin < 0 {
		return errors.New("write_per_min must be non-negative")
	}
	if r.ReadPerMin < 0 {
		return errors.New("read_per_min must be non-negative")
	}
	return nil
}

// Default returns the default configuration.
func Default() ServerConfig {
	return ServerConfig{
		LockTimeout:         5 * time.Second,
		MaxRequestBodyBytes: 1024 * 1024, // 1 MiB
		RateLimits: RateLimits{
			WritePerMin: 60,   // 60 req/min for writes
			ReadPerMin:  6000, // 6k req/min for reads
		},
	}
}

// Validate checks that the configuration is valid.
func (c *ServerConfig) Validate() error {
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	if c.LockTimeout < 0 {
		return errors.New("lock_timeout must be non-negative")
	}
	if c.MaxRequestBodyBytes < 0 {
		return errors.New("max_request_body_bytes must be non-negative")
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	return nil
}

// ParseLogLevel converts a level name to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level: %q", s)
	}
}

// Load loads configuration from dataDir/server_config.yaml.
// Creates the file with defaults if it doesn't exist. Fields absent from the
// file keep their default value.
func Load(dataDir string) (*ServerConfig, error) {
	path := filepath.Join(dataDir, FileName)
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir, not user input
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
		}
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FileName, err)
	}
	return &cfg, nil
}

// Save saves configuration to dataDir/server_config.yaml.
func (c *ServerConfig) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, FileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	return nil
}

// Watch reloads the configuration whenever the file changes and passes it to
// onChange. Invalid edits are logged and ignored. The watcher stops when ctx
// is done.
//
// The directory is watched rather than the file so that editors replacing the
// file by rename are noticed.
func Watch(ctx context.Context, dataDir string, onChange func(*ServerConfig)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dataDir); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != FileName || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}
				cfg, err := Load(dataDir)
				if err != nil {
					slog.WarnContext(ctx, "Ignoring config change", "err", err)
					continue
				}
				slog.InfoContext(ctx, "Config reloaded", "path", event.Name)
				onChange(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching config", "err", err)
			}
		}
	}()
	return nil
}
