// Package config provides configuration types and defaults for chorus.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zjrosen/chorus/internal/log"
)

// Config holds all configuration options for the chorus daemon.
type Config struct {
	// DBPath is the SQLite database file.
	// Default: ~/.chorus/chorus.db
	DBPath string `mapstructure:"db_path"`

	// Listen is the HTTP/WebSocket bind address.
	// Default: 127.0.0.1:8765
	Listen string `mapstructure:"listen"`

	// SystemPromptPath points at a file whose contents replace the
	// built-in system prompt handed to providers. Empty uses the default.
	SystemPromptPath string `mapstructure:"system_prompt_path"`

	// ModelOverridesPath points at a YAML file of extra model aliases per
	// provider, merged over the built-in mapping at startup.
	ModelOverridesPath string `mapstructure:"model_overrides_path"`

	Log          LogConfig          `mapstructure:"log"`
	Availability AvailabilityConfig `mapstructure:"availability"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

// LogConfig controls the category logger.
type LogConfig struct {
	// Level is the minimum severity: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`

	// File receives log output. Empty logs to stderr.
	File string `mapstructure:"file"`
}

// AvailabilityConfig controls provider availability probing.
type AvailabilityConfig struct {
	// TTL is how long a probe result is trusted before the CLI is probed
	// again. Viper accepts duration strings like "5m".
	TTL time.Duration `mapstructure:"ttl"`
}

// TracingConfig holds distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `mapstructure:"enabled"`

	// Exporter selects the trace export backend.
	// Options: "none", "file", "stdout", "otlp"
	// Default: "file"
	Exporter string `mapstructure:"exporter"`

	// FilePath is the output file for "file" exporter.
	// Default: ~/.config/chorus/traces/traces.jsonl
	FilePath string `mapstructure:"file_path"`

	// OTLPEndpoint is the collector endpoint for "otlp" exporter.
	// Default: "localhost:4317"
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`

	// SampleRate controls trace sampling (0.0 to 1.0).
	// 1.0 = all traces, 0.1 = 10% of traces
	// Default: 1.0
	SampleRate float64 `mapstructure:"sample_rate"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		DBPath: "", // Derived from home dir at runtime
		Listen: "127.0.0.1:8765",
		Log: LogConfig{
			Level: "info",
		},
		Availability: AvailabilityConfig{
			TTL: 5 * time.Minute,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from config dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// ResolvedDBPath returns the configured database path, or the default under
// the user's home directory when unset.
func (c Config) ResolvedDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return DefaultDBPath()
}

// SystemPrompt reads the configured system prompt file. Empty when no file
// is configured; a configured but unreadable file is an error so a typo
// does not silently fall back to the built-in prompt.
func (c Config) SystemPrompt() (string, error) {
	if c.SystemPromptPath == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.SystemPromptPath)
	if err != nil {
		return "", fmt.Errorf("reading system prompt file: %w", err)
	}
	return string(data), nil
}

// DefaultDBPath returns ~/.chorus/chorus.db, or a relative fallback if the
// home dir is unavailable.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chorus.db"
	}
	return filepath.Join(home, ".chorus", "chorus.db")
}

// DefaultTracesFilePath returns the default path for trace file export.
// Returns ~/.config/chorus/traces/traces.jsonl or empty string if home dir unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "chorus", "traces", "traces.jsonl")
}

// Validate checks the configuration for errors. Empty values use defaults
// and are always valid.
func Validate(cfg Config) error {
	if err := ValidateLog(cfg.Log); err != nil {
		return err
	}
	if err := ValidateAvailability(cfg.Availability); err != nil {
		return err
	}
	return ValidateTracing(cfg.Tracing)
}

// ValidateLog checks log configuration for errors.
func ValidateLog(lc LogConfig) error {
	switch lc.Level {
	case "", "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", lc.Level)
	}
}

// ValidateAvailability checks availability configuration for errors.
func ValidateAvailability(ac AvailabilityConfig) error {
	if ac.TTL < 0 {
		return fmt.Errorf("availability.ttl must not be negative, got %v", ac.TTL)
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
// Returns nil if the configuration is valid (empty values use defaults).
func ValidateTracing(tracing TracingConfig) error {
	// Validate SampleRate is in range [0.0, 1.0]
	if tracing.SampleRate < 0.0 || tracing.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", tracing.SampleRate)
	}

	// Validate Exporter is a valid option
	if tracing.Exporter != "" {
		switch tracing.Exporter {
		case "none", "file", "stdout", "otlp":
			// Valid
		default:
			return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", tracing.Exporter)
		}
	}

	// Only validate endpoint requirements when tracing is enabled; the file
	// exporter derives a default path at runtime.
	if tracing.Enabled && tracing.Exporter == "otlp" && tracing.OTLPEndpoint == "" {
		return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
	}

	return nil
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# Chorus Configuration

# SQLite database file (default: ~/.chorus/chorus.db)
# db_path: /path/to/chorus.db

# HTTP/WebSocket bind address
listen: 127.0.0.1:8765

# Logging
log:
  level: info   # debug, info, warn, error
  # file: ~/.chorus/chorus.log   # empty logs to stderr

# Provider availability probing
availability:
  ttl: 5m   # how long a CLI probe result is trusted

# Replace the built-in system prompt sent to providers
# system_prompt_path: ~/.chorus/system_prompt.md

# Extra model aliases per provider, merged over the built-in mapping
# model_overrides_path: ~/.chorus/models.yaml

# Distributed tracing configuration
# Enables end-to-end visibility into turn execution
# tracing:
#   enabled: false                 # Enable/disable tracing (default: false)
#   exporter: file                 # Export backend: none, file, stdout, otlp (default: file)
#   file_path: ~/.config/chorus/traces/traces.jsonl  # Output file for file exporter
#   otlp_endpoint: localhost:4317  # OTLP collector endpoint (for otlp exporter)
#   sample_rate: 1.0               # Trace sampling rate 0.0-1.0 (default: 1.0)
#
# Example: Send traces to Jaeger via OTLP
# tracing:
#   enabled: true
#   exporter: otlp
#   otlp_endpoint: jaeger.internal:4317
#   sample_rate: 0.1  # Sample 10% of traces
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	// Create parent directory if needed
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write the template
	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
