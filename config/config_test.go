package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLoader returns a loader that sees only the given environment.
func testLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Apartment.DeadlockDetection)
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"empty app name", func(c *Config) { c.App.Name = "" }, ErrInvalidAppName},
		{"bad environment", func(c *Config) { c.App.Environment = "moon" }, ErrInvalidEnvironment},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, ErrInvalidLogLevel},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, ErrInvalidLogFormat},
		{"negative inbox", func(c *Config) { c.Apartment.InboxCapacity = -1 }, ErrInvalidInboxCapacity},
		{"negative call timeout", func(c *Config) { c.Apartment.CallTimeout = -time.Second }, ErrInvalidTimeout},
		{"negative shutdown timeout", func(c *Config) { c.Apartment.ShutdownTimeout = -time.Second }, ErrInvalidTimeout},
		{"negative handles", func(c *Config) { c.Agile.MaxHandles = -5 }, ErrInvalidMaxHandles},
		{"disabled metrics ignore address", func(c *Config) { c.Metrics.Address = "" }, nil},
		{"metrics without address", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Address = ""
		}, ErrInvalidMetricsAddress},
		{"metrics relative path", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Path = "metrics"
		}, ErrInvalidMetricsPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Fields = map[string]string{"service": "henhouse"}

	clone := cfg.Clone()
	clone.Log.Fields["service"] = "barn"
	clone.Apartment.InboxCapacity = 9

	assert.Equal(t, "henhouse", cfg.Log.Fields["service"])
	assert.Zero(t, cfg.Apartment.InboxCapacity)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "apartment.yaml", `
app:
  name: henhouse
  environment: testing
log:
  level: debug
  format: json
apartment:
  inbox_capacity: 64
  call_timeout: 2s
agile:
  max_handles: 128
metrics:
  enabled: true
  address: 127.0.0.1:9100
`)

	cfg, err := testLoader(nil).LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "henhouse", cfg.App.Name)
	assert.Equal(t, EnvTesting, cfg.App.Environment)
	assert.Equal(t, LogLevelDebug, cfg.Log.Level)
	assert.Equal(t, LogFormatJSON, cfg.Log.Format)
	assert.Equal(t, 64, cfg.Apartment.InboxCapacity)
	assert.Equal(t, 2*time.Second, cfg.Apartment.CallTimeout)
	assert.Equal(t, 128, cfg.Agile.MaxHandles)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Address)

	// Keys left out keep their defaults.
	assert.Equal(t, "1.0.0", cfg.App.Version)
	assert.Equal(t, 10*time.Second, cfg.Apartment.ShutdownTimeout)
	assert.True(t, cfg.Apartment.DeadlockDetection)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "apartment.toml", `
[app]
name = "toml-house"
environment = "staging"

[apartment]
call_timeout = "750ms"
deadlock_detection = false

[log.fields]
region = "north"
`)

	cfg, err := testLoader(nil).LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "toml-house", cfg.App.Name)
	assert.Equal(t, EnvStaging, cfg.App.Environment)
	assert.Equal(t, 750*time.Millisecond, cfg.Apartment.CallTimeout)
	assert.False(t, cfg.Apartment.DeadlockDetection)
	assert.Equal(t, map[string]string{"region": "north"}, cfg.Log.Fields)
}

func TestLoadTOMLRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "apartment.toml", `
[apartment]
inbox_capacty = 3
`)

	_, err := testLoader(nil).LoadFromFile(path)
	assert.ErrorIs(t, err, ErrConfigParseError)
}

func TestLoadJSON(t *testing.T) {
	cfg, err := testLoader(nil).LoadFromReader(strings.NewReader(`{
	"app": {"name": "json-house", "environment": "production"},
	"log": {"level": "warn"},
	"apartment": {"inbox_capacity": 8}
}`), FormatJSON)
	require.NoError(t, err)

	assert.Equal(t, "json-house", cfg.App.Name)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, LogLevelWarn, cfg.Log.Level)
	assert.Equal(t, 8, cfg.Apartment.InboxCapacity)
}

func TestLoadErrors(t *testing.T) {
	l := testLoader(nil)

	_, err := l.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrConfigFileNotFound)

	_, err = l.LoadFromFile("apartment.ini")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	bad := writeFile(t, "bad.yaml", "app: [unterminated")
	_, err = l.LoadFromFile(bad)
	assert.ErrorIs(t, err, ErrConfigParseError)

	invalid := writeFile(t, "invalid.yaml", "apartment:\n  inbox_capacity: -2\n")
	_, err = l.LoadFromFile(invalid)
	assert.ErrorIs(t, err, ErrConfigValidateError)
	assert.ErrorIs(t, err, ErrInvalidInboxCapacity)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeFile(t, "apartment.yaml", `
app:
  name: base
apartment:
  inbox_capacity: 4
`)

	l := testLoader(map[string]string{
		"APARTMENT_APP_NAME":                     "from-env",
		"APARTMENT_LOG_LEVEL":                    "ERROR",
		"APARTMENT_APARTMENT_INBOX_CAPACITY":     "16",
		"APARTMENT_APARTMENT_CALL_TIMEOUT":       "3s",
		"APARTMENT_APARTMENT_DEADLOCK_DETECTION": "false",
		"APARTMENT_AGILE_MAX_HANDLES":            "10",
		"APARTMENT_METRICS_ENABLED":              "true",
		"APARTMENT_METRICS_ADDRESS":              "127.0.0.1:9100",
	})
	cfg, err := l.LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.App.Name)
	assert.Equal(t, LogLevelError, cfg.Log.Level)
	assert.Equal(t, 16, cfg.Apartment.InboxCapacity)
	assert.Equal(t, 3*time.Second, cfg.Apartment.CallTimeout)
	assert.False(t, cfg.Apartment.DeadlockDetection)
	assert.Equal(t, 10, cfg.Agile.MaxHandles)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Address)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestEnvironmentOverrideErrors(t *testing.T) {
	l := testLoader(map[string]string{
		"APARTMENT_APARTMENT_CALL_TIMEOUT": "soon",
		"APARTMENT_AGILE_MAX_HANDLES":      "many",
	})

	_, err := l.Load("")
	require.ErrorIs(t, err, ErrEnvironmentVarError)
	assert.Contains(t, err.Error(), "APARTMENT_APARTMENT_CALL_TIMEOUT")
	assert.Contains(t, err.Error(), "APARTMENT_AGILE_MAX_HANDLES")
}

func TestEnvPrefix(t *testing.T) {
	l := testLoader(map[string]string{"HEN_APP_NAME": "prefixed"}).SetEnvPrefix("HEN")
	cfg, err := l.Load("")
	require.NoError(t, err)
	assert.Equal(t, "prefixed", cfg.App.Name)
}

func TestAutoLoad(t *testing.T) {
	dir := t.TempDir()
	l := testLoader(nil).SetSearchPaths([]string{dir})

	cfg, err := l.AutoLoad()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().App.Name, cfg.App.Name)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("[app]\nname = \"found\"\n"), 0o644))
	cfg, err = l.AutoLoad()
	require.NoError(t, err)
	assert.Equal(t, "found", cfg.App.Name)
}

func TestWatcherReloads(t *testing.T) {
	path := writeFile(t, "apartment.yaml", "apartment:\n  inbox_capacity: 1\n")

	w, err := NewWatcher(path, testLoader(nil), zerolog.Nop())
	require.NoError(t, err)
	w.SetDebounce(100 * time.Millisecond)
	t.Cleanup(func() { _ = w.Stop() })

	assert.Equal(t, 1, w.Current().Apartment.InboxCapacity)

	changes := make(chan [2]int, 4)
	w.OnChange(func(oldConfig, newConfig *Config) {
		changes <- [2]int{oldConfig.Apartment.InboxCapacity, newConfig.Apartment.InboxCapacity}
	})
	w.OnChange(func(*Config, *Config) { panic("misbehaving callback") })

	require.NoError(t, w.Start())
	require.NoError(t, os.WriteFile(path, []byte("apartment:\n  inbox_capacity: 5\n"), 0o644))

	select {
	case change := <-changes:
		assert.Equal(t, [2]int{1, 5}, change)
	case <-time.After(3 * time.Second):
		t.Fatal("configuration change was not detected")
	}
	assert.Equal(t, 5, w.Current().Apartment.InboxCapacity)
}

func TestWatcherKeepsConfigOnBadReload(t *testing.T) {
	path := writeFile(t, "apartment.yaml", "apartment:\n  inbox_capacity: 1\n")

	w, err := NewWatcher(path, testLoader(nil), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("apartment:\n  inbox_capacity: -1\n"), 0o644))
	assert.ErrorIs(t, w.Reload(), ErrInvalidInboxCapacity)
	assert.Equal(t, 1, w.Current().Apartment.InboxCapacity)
}

func TestWatcherStopIsFinal(t *testing.T) {
	path := writeFile(t, "apartment.yaml", "app:\n  name: once\n")

	w, err := NewWatcher(path, testLoader(nil), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, path, w.Path())

	require.NoError(t, w.Start())
	require.NoError(t, w.Start())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.ErrorIs(t, w.Start(), ErrConfigWatchError)
	assert.Equal(t, "once", w.Current().App.Name)
}
