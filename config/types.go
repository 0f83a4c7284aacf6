// Package config provides configuration management for the apartment runtime
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Environment names the deployment the process runs in.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

var environments = map[Environment]bool{
	EnvDevelopment: true,
	EnvTesting:     true,
	EnvStaging:     true,
	EnvProduction:  true,
}

func (e Environment) String() string { return string(e) }

// IsValid reports whether e is one of the known environments.
func (e Environment) IsValid() bool { return environments[e] }

// LogLevel is a zerolog level name.
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

var logLevels = map[LogLevel]bool{
	LogLevelTrace: true,
	LogLevelDebug: true,
	LogLevelInfo:  true,
	LogLevelWarn:  true,
	LogLevelError: true,
	LogLevelFatal: true,
}

func (l LogLevel) String() string { return string(l) }

// IsValid reports whether l is one of the known levels.
func (l LogLevel) IsValid() bool { return logLevels[l] }

// Log output formats
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config is the full application configuration. Every section can be
// set from YAML, JSON or TOML and overridden from the environment.
type Config struct {
	App       AppConfig       `yaml:"app" json:"app" toml:"app"`
	Log       LogConfig       `yaml:"log" json:"log" toml:"log"`
	Apartment ApartmentConfig `yaml:"apartment" json:"apartment" toml:"apartment"`
	Agile     AgileConfig     `yaml:"agile" json:"agile" toml:"agile"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics" toml:"metrics"`
}

// AppConfig identifies the running application in logs and health output.
type AppConfig struct {
	Name        string            `yaml:"name" json:"name" toml:"name"`
	Version     string            `yaml:"version" json:"version" toml:"version"`
	Environment Environment       `yaml:"environment" json:"environment" toml:"environment"`
	Debug       bool              `yaml:"debug" json:"debug" toml:"debug"`
	Metadata    map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty" toml:"metadata,omitempty"`
}

// LogConfig selects the zerolog output.
type LogConfig struct {
	Level LogLevel `yaml:"level" json:"level" toml:"level"`

	// Format is LogFormatText (console writer) or LogFormatJSON
	Format string `yaml:"format" json:"format" toml:"format"`

	// Output is "stdout", "stderr" or a file path opened for append
	Output string `yaml:"output" json:"output" toml:"output"`

	// Color applies to the text format only
	Color bool `yaml:"color" json:"color" toml:"color"`

	// Fields are attached to every entry
	Fields map[string]string `yaml:"fields,omitempty" json:"fields,omitempty" toml:"fields,omitempty"`
}

// ApartmentConfig controls inboxes and cross-apartment calls.
type ApartmentConfig struct {
	// Maximum queued calls per apartment, 0 for unbounded
	InboxCapacity int `yaml:"inbox_capacity" json:"inbox_capacity" toml:"inbox_capacity"`

	// Default wait for a marshaled call when the caller set no deadline, 0 waits forever
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout" toml:"call_timeout"`

	// Upper bound on runtime shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" toml:"shutdown_timeout"`

	// Refuse calls into apartments whose thread can never pump them
	DeadlockDetection bool `yaml:"deadlock_detection" json:"deadlock_detection" toml:"deadlock_detection"`
}

// AgileConfig controls the agile reference table.
type AgileConfig struct {
	// Maximum live handles, 0 for unlimited
	MaxHandles int `yaml:"max_handles" json:"max_handles" toml:"max_handles"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	// Serve runtime metrics over HTTP
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// Listen address, e.g. ":9464"
	Address string `yaml:"address" json:"address" toml:"address"`

	// HTTP path of the scrape endpoint
	Path string `yaml:"path" json:"path" toml:"path"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "apartment",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
			Debug:       false,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
			Output: "stderr",
			Color:  true,
		},
		Apartment: ApartmentConfig{
			InboxCapacity:     0,
			CallTimeout:       0,
			ShutdownTimeout:   10 * time.Second,
			DeadlockDetection: true,
		},
		Agile: AgileConfig{
			MaxHandles: 0,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9464",
			Path:    "/metrics",
		},
	}
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	out := *c
	if c.App.Metadata != nil {
		out.App.Metadata = make(map[string]string, len(c.App.Metadata))
		for k, v := range c.App.Metadata {
			out.App.Metadata[k] = v
		}
	}
	if c.Log.Fields != nil {
		out.Log.Fields = make(map[string]string, len(c.Log.Fields))
		for k, v := range c.Log.Fields {
			out.Log.Fields[k] = v
		}
	}
	return &out
}

// Validate checks every section and reports all problems at once. Each
// problem wraps one of the ErrInvalid sentinels.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, field string, sentinel error) {
		if !ok {
			errs = append(errs, fmt.Errorf("%s: %w", field, sentinel))
		}
	}

	check(c.App.Name != "", "app.name", ErrInvalidAppName)
	check(c.App.Environment.IsValid(), "app.environment", ErrInvalidEnvironment)

	check(c.Log.Level.IsValid(), "log.level", ErrInvalidLogLevel)
	check(c.Log.Format == LogFormatText || c.Log.Format == LogFormatJSON, "log.format", ErrInvalidLogFormat)

	check(c.Apartment.InboxCapacity >= 0, "apartment.inbox_capacity", ErrInvalidInboxCapacity)
	check(c.Apartment.CallTimeout >= 0, "apartment.call_timeout", ErrInvalidTimeout)
	check(c.Apartment.ShutdownTimeout >= 0, "apartment.shutdown_timeout", ErrInvalidTimeout)

	check(c.Agile.MaxHandles >= 0, "agile.max_handles", ErrInvalidMaxHandles)

	if c.Metrics.Enabled {
		check(c.Metrics.Address != "", "metrics.address", ErrInvalidMetricsAddress)
		check(strings.HasPrefix(c.Metrics.Path, "/"), "metrics.path", ErrInvalidMetricsPath)
	}

	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool { return c.App.Environment == EnvDevelopment }

func (c *Config) IsProduction() bool { return c.App.Environment == EnvProduction }
