// Package config loads the description of a network to check: kernel
// settings, synapse models with optional delay bounds, and connections.
// It supports loading from YAML files, .env files and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/delayreg/logging"
)

// Environment variables that override the file.
const (
	EnvResolution   = "DELAYREG_RESOLUTION"
	EnvDefaultDelay = "DELAYREG_DEFAULT_DELAY"
	EnvLogLevel     = "DELAYREG_LOG_LEVEL"
)

// Config is a network description.
type Config struct {
	// Resolution is the simulation step size in milliseconds.
	Resolution float64 `json:"resolution" yaml:"resolution"`

	// DefaultDelay is used by connections that give neither delay nor
	// delay_steps.
	DefaultDelay float64 `json:"default_delay" yaml:"default_delay"`

	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Recording  RecordingConfig  `json:"recording" yaml:"recording"`
	Monitoring MonitoringConfig `json:"monitoring" yaml:"monitoring"`
	Checkpoint CheckpointConfig `json:"checkpoint" yaml:"checkpoint"`

	Models      []ModelConfig      `json:"models" yaml:"models"`
	Connections []ConnectionConfig `json:"connections" yaml:"connections"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	// Level is one of "error", "warn", "info" (default), "debug" or "trace".
	Level string `json:"level" yaml:"level"`
}

// RecordingConfig configures the SQLite trace of delay events.
type RecordingConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path is the database file name without the .sqlite3 suffix. Empty
	// picks a unique name.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// MonitoringConfig configures the web monitor.
type MonitoringConfig struct {
	Enabled     bool `json:"enabled" yaml:"enabled"`
	Port        int  `json:"port,omitempty" yaml:"port,omitempty"`
	OpenBrowser bool `json:"open_browser" yaml:"open_browser"`
}

// CheckpointConfig configures where the checked kernel state is saved.
type CheckpointConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Format is "json" (default) or "cbor".
	Format string `json:"format,omitempty" yaml:"format,omitempty"`
}

// ModelConfig declares a synapse model. MinDelay and MaxDelay fix the
// model's delay extrema and must be given together.
type ModelConfig struct {
	Name     string   `json:"name" yaml:"name"`
	MinDelay *float64 `json:"min_delay,omitempty" yaml:"min_delay,omitempty"`
	MaxDelay *float64 `json:"max_delay,omitempty" yaml:"max_delay,omitempty"`
}

// ConnectionConfig describes Count connections of a model. Delay is in
// milliseconds. DelaySteps is a pair of step delays [d, d+1] for
// connections whose delay lies between two steps. Without either, the
// default delay is used.
type ConnectionConfig struct {
	Model      string   `json:"model" yaml:"model"`
	Delay      *float64 `json:"delay,omitempty" yaml:"delay,omitempty"`
	DelaySteps []int64  `json:"delay_steps,omitempty" yaml:"delay_steps,omitempty"`
	Count      int      `json:"count,omitempty" yaml:"count,omitempty"`
}

// UsesDefaultDelay reports whether the connections use the default delay.
func (c ConnectionConfig) UsesDefaultDelay() bool {
	return c.Delay == nil && len(c.DelaySteps) == 0
}

// Default returns a Config with a 0.1 ms resolution and a 1 ms default
// delay.
func Default() *Config {
	return &Config{
		Resolution:   0.1,
		DefaultDelay: 1.0,
		Logging: LoggingConfig{
			Level: "info",
		},
		Checkpoint: CheckpointConfig{
			Format: "json",
		},
	}
}

// Load reads a network description. Order: defaults -> .env files next to
// the file and in the working directory -> the YAML file -> environment
// variables. The result is validated.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, err
	}

	config, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadFromFile reads a YAML file on top of the defaults without looking at
// the environment.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML on top of the defaults.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	config.applyDefaults()

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if c.Checkpoint.Format == "" {
		c.Checkpoint.Format = "json"
	}

	for i := range c.Connections {
		if c.Connections[i].Count == 0 {
			c.Connections[i].Count = 1
		}
	}
}

// loadDotEnv loads the files that exist. Variables already set are kept.
func loadDotEnv(files ...string) error {
	seen := map[string]bool{}

	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true

		if _, err := os.Stat(f); errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}

	return nil
}

func applyEnvOverrides(config *Config) error {
	if v := os.Getenv(EnvResolution); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvResolution, err)
		}
		config.Resolution = f
	}

	if v := os.Getenv(EnvDefaultDelay); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDefaultDelay, err)
		}
		config.DefaultDelay = f
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		config.Logging.Level = v
	}

	return nil
}

func positiveFinite(f float64) bool {
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}

// Validate checks that the configuration is consistent. Whether delays fit
// the resolution is left to the kernel.
func (c *Config) Validate() error {
	if !positiveFinite(c.Resolution) {
		return fmt.Errorf("resolution must be positive, got %v", c.Resolution)
	}

	if !positiveFinite(c.DefaultDelay) {
		return fmt.Errorf("default_delay must be positive, got %v", c.DefaultDelay)
	}

	if !logging.IsValidLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Checkpoint.Format != "json" && c.Checkpoint.Format != "cbor" {
		return fmt.Errorf("invalid checkpoint format: %s (valid: json, cbor)",
			c.Checkpoint.Format)
	}

	if c.Monitoring.Port < 0 || c.Monitoring.Port > math.MaxUint16 {
		return fmt.Errorf("invalid monitoring port: %d", c.Monitoring.Port)
	}

	models := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("models[%d]: name is required", i)
		}

		if models[m.Name] {
			return fmt.Errorf("models[%d]: %s declared twice", i, m.Name)
		}
		models[m.Name] = true

		if (m.MinDelay == nil) != (m.MaxDelay == nil) {
			return fmt.Errorf("models[%d]: min_delay and max_delay must be "+
				"given together", i)
		}
	}

	for i, conn := range c.Connections {
		if !models[conn.Model] {
			return fmt.Errorf("connections[%d]: unknown model %q", i, conn.Model)
		}

		if conn.Delay != nil && len(conn.DelaySteps) > 0 {
			return fmt.Errorf("connections[%d]: delay and delay_steps are "+
				"exclusive", i)
		}

		if len(conn.DelaySteps) != 0 && len(conn.DelaySteps) != 2 {
			return fmt.Errorf("connections[%d]: delay_steps must be a pair", i)
		}

		if conn.Count < 0 {
			return fmt.Errorf("connections[%d]: count must not be negative", i)
		}
	}

	return nil
}
