// Package config provides configuration loading and management for selfwrite.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/selfwrite/suppress"
	"github.com/c360studio/selfwrite/watch"
)

// Config represents the complete selfwrite configuration
type Config struct {
	Suppress SuppressConfig `yaml:"suppress"`
	Watch    WatchConfig    `yaml:"watch"`
	NATS     NATSConfig     `yaml:"nats"`
	Log      LogConfig      `yaml:"log"`
}

// SuppressConfig configures the suppression tracker
type SuppressConfig struct {
	// SettleDelay is how long a path stays suppressed after a write
	// completes, so trailing notifications drain out (default: 100ms)
	SettleDelay string `yaml:"settle_delay"`
	// AutoReleaseTimeout bounds a suppression window when the generator
	// never signals completion (default: 5s)
	AutoReleaseTimeout string `yaml:"auto_release_timeout"`
	// DebugLogging enables per-decision attribution traces
	DebugLogging bool `yaml:"debug_logging"`
}

// WatchConfig configures the tree watcher
type WatchConfig struct {
	// Root is the directory to watch (auto-detected from git if empty)
	Root string `yaml:"root"`
	// DebounceDelay is how long to collect raw notifications before
	// processing (default: 500ms)
	DebounceDelay string `yaml:"debounce_delay"`
	// FileExtensions lists file extensions to watch
	FileExtensions []string `yaml:"file_extensions"`
	// IncludePatterns optionally narrows watching to directories
	// matching these globs, relative to the root
	IncludePatterns []string `yaml:"include_patterns"`
	// ExcludeDirs lists directory names to skip
	ExcludeDirs []string `yaml:"exclude_dirs"`
	// BufferSize is the event channel capacity (default: 500)
	BufferSize int `yaml:"buffer_size"`
}

// NATSConfig configures the edit event publisher
type NATSConfig struct {
	// URL is the NATS server URL (empty = publishing disabled)
	URL string `yaml:"url"`
	// Subject is the subject user edit events are published to
	Subject string `yaml:"subject"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is the minimum log level (debug, info, warn, error)
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Suppress: SuppressConfig{
			SettleDelay:        "100ms",
			AutoReleaseTimeout: "5s",
			DebugLogging:       false,
		},
		Watch: WatchConfig{
			Root:           "", // Auto-detect
			DebounceDelay:  "500ms",
			FileExtensions: []string{".md", ".txt"},
			ExcludeDirs:    []string{".git", "node_modules", "vendor"},
			BufferSize:     500,
		},
		NATS: NATSConfig{
			URL:     "",
			Subject: "selfwrite.edits",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// GetSettleDelay returns the settle delay as a duration.
func (c *SuppressConfig) GetSettleDelay() time.Duration {
	if c.SettleDelay == "" {
		return suppress.DefaultSettleDelay
	}
	d, err := time.ParseDuration(c.SettleDelay)
	if err != nil {
		return suppress.DefaultSettleDelay
	}
	return d
}

// GetAutoReleaseTimeout returns the auto-release timeout as a duration.
func (c *SuppressConfig) GetAutoReleaseTimeout() time.Duration {
	if c.AutoReleaseTimeout == "" {
		return suppress.DefaultAutoReleaseTimeout
	}
	d, err := time.ParseDuration(c.AutoReleaseTimeout)
	if err != nil {
		return suppress.DefaultAutoReleaseTimeout
	}
	return d
}

// GetDebounceDelay returns the debounce delay as a duration.
func (c *WatchConfig) GetDebounceDelay() time.Duration {
	if c.DebounceDelay == "" {
		return 500 * time.Millisecond
	}
	d, err := time.ParseDuration(c.DebounceDelay)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// GetLevel returns the configured log level, defaulting to info.
func (c *LogConfig) GetLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Suppress.SettleDelay != "" {
		if _, err := time.ParseDuration(c.Suppress.SettleDelay); err != nil {
			return fmt.Errorf("suppress.settle_delay is not a valid duration: %w", err)
		}
	}
	if c.Suppress.AutoReleaseTimeout != "" {
		d, err := time.ParseDuration(c.Suppress.AutoReleaseTimeout)
		if err != nil {
			return fmt.Errorf("suppress.auto_release_timeout is not a valid duration: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("suppress.auto_release_timeout must be positive")
		}
	}
	if c.Watch.DebounceDelay != "" {
		if _, err := time.ParseDuration(c.Watch.DebounceDelay); err != nil {
			return fmt.Errorf("watch.debounce_delay is not a valid duration: %w", err)
		}
	}
	if c.Watch.BufferSize < 0 {
		return fmt.Errorf("watch.buffer_size must not be negative")
	}
	if c.Log.Level != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
			return fmt.Errorf("log.level must be one of debug, info, warn, error")
		}
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return fmt.Errorf("nats.subject is required when nats.url is set")
	}
	return nil
}

// TrackerConfig builds the tracker configuration from the suppress section.
func (c *Config) TrackerConfig(logger *slog.Logger) suppress.Config {
	return suppress.Config{
		SettleDelay:        c.Suppress.GetSettleDelay(),
		AutoReleaseTimeout: c.Suppress.GetAutoReleaseTimeout(),
		Logger:             logger,
	}
}

// WatcherConfig builds the watcher configuration from the watch section.
func (c *Config) WatcherConfig() watch.Config {
	return watch.Config{
		DebounceDelay:   c.Watch.GetDebounceDelay(),
		FileExtensions:  c.Watch.FileExtensions,
		IncludePatterns: c.Watch.IncludePatterns,
		ExcludeDirs:     c.Watch.ExcludeDirs,
		BufferSize:      c.Watch.BufferSize,
	}
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Suppress
	if other.Suppress.SettleDelay != "" {
		c.Suppress.SettleDelay = other.Suppress.SettleDelay
	}
	if other.Suppress.AutoReleaseTimeout != "" {
		c.Suppress.AutoReleaseTimeout = other.Suppress.AutoReleaseTimeout
	}
	if other.Suppress.DebugLogging {
		c.Suppress.DebugLogging = true
	}

	// Watch
	if other.Watch.Root != "" {
		c.Watch.Root = other.Watch.Root
	}
	if other.Watch.DebounceDelay != "" {
		c.Watch.DebounceDelay = other.Watch.DebounceDelay
	}
	if len(other.Watch.FileExtensions) > 0 {
		c.Watch.FileExtensions = other.Watch.FileExtensions
	}
	if len(other.Watch.IncludePatterns) > 0 {
		c.Watch.IncludePatterns = other.Watch.IncludePatterns
	}
	if len(other.Watch.ExcludeDirs) > 0 {
		c.Watch.ExcludeDirs = other.Watch.ExcludeDirs
	}
	if other.Watch.BufferSize != 0 {
		c.Watch.BufferSize = other.Watch.BufferSize
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Subject != "" {
		c.NATS.Subject = other.NATS.Subject
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
}
