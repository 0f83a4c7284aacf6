package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/apartment/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[config.LogLevel]zerolog.Level{
		"":                   zerolog.InfoLevel,
		config.LogLevelTrace: zerolog.TraceLevel,
		config.LogLevelDebug: zerolog.DebugLevel,
		config.LogLevelWarn:  zerolog.WarnLevel,
		config.LogLevelError: zerolog.ErrorLevel,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("shout")
	assert.ErrorIs(t, err, config.ErrInvalidLogLevel)
}

func TestNewJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apartment.log")

	logger, closer, err := New(config.LogConfig{
		Level:  config.LogLevelWarn,
		Format: config.LogFormatJSON,
		Output: path,
		Fields: map[string]string{"service": "henhouse"},
	})
	require.NoError(t, err)

	logger.Info().Msg("filtered")
	logger.Warn().Uint32("apartment", 3).Msg("kept")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry), string(data))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "henhouse", entry["service"])
	assert.EqualValues(t, 3, entry["apartment"])
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, _, err := New(config.LogConfig{Level: config.LogLevelInfo, Format: "xml"})
	assert.ErrorIs(t, err, config.ErrInvalidLogFormat)

	_, _, err = New(config.LogConfig{Level: "noisy"})
	assert.ErrorIs(t, err, config.ErrInvalidLogLevel)

	_, _, err = New(config.LogConfig{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	assert.Equal(t, zerolog.Disabled, Nop().GetLevel())
}
