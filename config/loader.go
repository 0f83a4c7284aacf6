package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ConfigFormat names a supported file encoding.
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
	FormatTOML ConfigFormat = "toml"
)

// FormatFromPath maps a file extension to its ConfigFormat.
func FormatFromPath(path string) (ConfigFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Loader reads a Config from a file, a reader or the search paths and
// applies PREFIX_SECTION_KEY environment overrides on top.
type Loader struct {
	searchPaths   []string
	envPrefix     string
	defaultConfig *Config
	lookupEnv     func(string) (string, bool)
}

// NewLoader searches the working directory, ./config, ./configs,
// /etc/apartment and ~/.apartment, with the APARTMENT env prefix.
func NewLoader() *Loader {
	paths := []string{".", "./config", "./configs", "/etc/apartment"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".apartment"))
	}

	return &Loader{
		searchPaths:   paths,
		envPrefix:     "APARTMENT",
		defaultConfig: DefaultConfig(),
		lookupEnv:     os.LookupEnv,
	}
}

// SetSearchPaths replaces the directories AutoLoad looks in.
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix replaces the APARTMENT prefix; empty means no prefix.
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the base that files and the environment override.
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

func (l *Loader) defaults() *Config {
	if l.defaultConfig == nil {
		return DefaultConfig()
	}
	return l.defaultConfig.Clone()
}

// Load loads configuration from the specified file. An empty filename
// yields the defaults with environment overrides applied.
func (l *Loader) Load(filename string) (*Config, error) {
	if filename == "" {
		return l.finish(l.defaults())
	}
	return l.LoadFromFile(filename)
}

// LoadFromFile picks the decoder from the file extension.
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	format, err := FormatFromPath(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, filename)
		}
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", filename, err)
	}
	return l.finish(config)
}

// LoadFromReader decodes a document of the given format.
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}
	return l.finish(config)
}

// AutoLoad loads the first apartment.* or config.* file found on the
// search paths, or the defaults when there is none.
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, err := l.findConfigFile()
	if errors.Is(err, ErrConfigFileNotFound) {
		return l.finish(l.defaults())
	}
	if err != nil {
		return nil, err
	}
	return l.LoadFromFile(configFile)
}

// finish applies environment overrides and validates.
func (l *Loader) finish(config *Config) (*Config, error) {
	if err := l.loadFromEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigValidateError, err)
	}
	return config, nil
}

func (l *Loader) findConfigFile() (string, error) {
	filenames := []string{
		"apartment.yaml", "apartment.yml", "apartment.toml", "apartment.json",
		"config.yaml", "config.yml", "config.toml", "config.json",
	}

	for _, dir := range l.searchPaths {
		for _, name := range filenames {
			candidate := filepath.Join(dir, name)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				return candidate, nil
			}
		}
	}
	return "", ErrConfigFileNotFound
}

// parseConfig decodes data on top of the defaults, so keys the document
// leaves out keep their default values.
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := l.defaults()

	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, config)
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(config)
	case FormatTOML:
		var md toml.MetaData
		md, err = toml.Decode(string(data), config)
		if err == nil {
			if undecoded := md.Undecoded(); len(undecoded) > 0 {
				err = fmt.Errorf("unknown keys %v", undecoded)
			}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfigParseError, format, err)
	}

	return config, nil
}

// loadFromEnv applies overrides and collects every malformed value.
func (l *Loader) loadFromEnv(config *Config) error {
	var errs []error

	str := func(key string, dst *string) {
		if val, ok := l.env(key); ok {
			*dst = val
		}
	}
	boolean := func(key string, dst *bool) {
		if val, ok := l.env(key); ok {
			b, err := strconv.ParseBool(val)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", l.envName(key), err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if val, ok := l.env(key); ok {
			n, err := strconv.Atoi(val)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", l.envName(key), err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if val, ok := l.env(key); ok {
			d, err := time.ParseDuration(val)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", l.envName(key), err))
				return
			}
			*dst = d
		}
	}

	str("APP_NAME", &config.App.Name)
	str("APP_VERSION", &config.App.Version)
	if val, ok := l.env("APP_ENVIRONMENT"); ok {
		config.App.Environment = Environment(val)
	}
	boolean("APP_DEBUG", &config.App.Debug)

	if val, ok := l.env("LOG_LEVEL"); ok {
		config.Log.Level = LogLevel(strings.ToLower(val))
	}
	str("LOG_FORMAT", &config.Log.Format)
	str("LOG_OUTPUT", &config.Log.Output)
	boolean("LOG_COLOR", &config.Log.Color)

	integer("APARTMENT_INBOX_CAPACITY", &config.Apartment.InboxCapacity)
	duration("APARTMENT_CALL_TIMEOUT", &config.Apartment.CallTimeout)
	duration("APARTMENT_SHUTDOWN_TIMEOUT", &config.Apartment.ShutdownTimeout)
	boolean("APARTMENT_DEADLOCK_DETECTION", &config.Apartment.DeadlockDetection)

	integer("AGILE_MAX_HANDLES", &config.Agile.MaxHandles)

	boolean("METRICS_ENABLED", &config.Metrics.Enabled)
	str("METRICS_ADDRESS", &config.Metrics.Address)
	str("METRICS_PATH", &config.Metrics.Path)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrEnvironmentVarError, errors.Join(errs...))
	}
	return nil
}

func (l *Loader) envName(key string) string {
	if l.envPrefix == "" {
		return key
	}
	return l.envPrefix + "_" + key
}

func (l *Loader) env(key string) (string, bool) {
	lookup := l.lookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	val, ok := lookup(l.envName(key))
	if !ok || val == "" {
		return "", false
	}
	return val, true
}
