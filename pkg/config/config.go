// Package config loads and validates engine configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root engine configuration.
type Config struct {
	Browser   BrowserConfig   `yaml:"browser"`
	Capture   CaptureConfig   `yaml:"capture"`
	Vault     VaultConfig     `yaml:"vault"`
	Replay    ReplayConfig    `yaml:"replay"`
	Runner    RunnerConfig    `yaml:"runner"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// BrowserConfig controls page construction.
type BrowserConfig struct {
	Headless          bool          `yaml:"headless"`
	ViewportWidth     int           `yaml:"viewportWidth"`
	ViewportHeight    int           `yaml:"viewportHeight"`
	NavigationTimeout Duration      `yaml:"navigationTimeout"`
	MaxPages          int           `yaml:"maxPages"`
}

// CaptureConfig controls the recording pipeline.
type CaptureConfig struct {
	// SelectorStrategy is one of css, xpath, text, hybrid, ai.
	SelectorStrategy string `yaml:"selectorStrategy"`

	// AllowFallback permits a less specific selector instead of dropping an
	// action when no unique selector is found.
	AllowFallback bool `yaml:"allowFallback"`

	// Screenshots attaches best-effort screenshots to captured actions.
	Screenshots bool `yaml:"screenshots"`

	// QueueSize bounds the event queue between browser callbacks and the
	// action appender.
	QueueSize int `yaml:"queueSize"`
}

// VaultConfig controls session caching.
type VaultConfig struct {
	// EncryptionKeyEnv names the environment variable holding the 32-byte
	// hex-encoded session encryption key.
	EncryptionKeyEnv string `yaml:"encryptionKeyEnv"`

	// SessionTTL is the default validity window of a cached session.
	SessionTTL Duration `yaml:"sessionTTL"`
}

// ReplayConfig controls the validation walkthrough.
type ReplayConfig struct {
	// StepDelay is the fixed pause between highlighted steps in PlayAll.
	StepDelay Duration `yaml:"stepDelay"`
}

// RunnerConfig controls run execution.
type RunnerConfig struct {
	// DefaultMaxRetries is the per-step retry budget when the logic spec
	// has no explicit policy.
	DefaultMaxRetries int `yaml:"defaultMaxRetries"`

	// StreamBuffer is each subscriber's channel capacity.
	StreamBuffer int `yaml:"streamBuffer"`

	// StepTimeout bounds a single step execution.
	StepTimeout Duration `yaml:"stepTimeout"`
}

// SchedulerConfig controls the schedule poll loop.
type SchedulerConfig struct {
	PollInterval Duration `yaml:"pollInterval"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Browser: BrowserConfig{
			Headless:          true,
			ViewportWidth:     1280,
			ViewportHeight:    720,
			NavigationTimeout: Duration(30 * time.Second),
			MaxPages:          5,
		},
		Capture: CaptureConfig{
			SelectorStrategy: "hybrid",
			AllowFallback:    true,
			Screenshots:      false,
			QueueSize:        256,
		},
		Vault: VaultConfig{
			EncryptionKeyEnv: "REPRISE_SESSION_KEY",
			SessionTTL:       Duration(30 * time.Minute),
		},
		Replay: ReplayConfig{
			StepDelay: Duration(800 * time.Millisecond),
		},
		Runner: RunnerConfig{
			DefaultMaxRetries: 2,
			StreamBuffer:      128,
			StepTimeout:       Duration(30 * time.Second),
		},
		Scheduler: SchedulerConfig{
			PollInterval: Duration(30 * time.Second),
		},
	}
}

// Load reads a YAML config file, layering it over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Capture.SelectorStrategy {
	case "css", "xpath", "text", "hybrid", "ai":
	default:
		return fmt.Errorf("invalid selector strategy %q", c.Capture.SelectorStrategy)
	}
	if c.Capture.QueueSize <= 0 {
		return fmt.Errorf("capture queue size must be positive, got %d", c.Capture.QueueSize)
	}
	if c.Browser.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation timeout must be positive")
	}
	if c.Runner.DefaultMaxRetries < 0 {
		return fmt.Errorf("default max retries must not be negative")
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler poll interval must be positive")
	}
	return nil
}
