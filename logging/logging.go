// Package logging builds zerolog loggers from configuration.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/najoast/apartment/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New returns a logger configured by cfg. The closer releases the log file
// when Output names one; it is a no-op for stdout and stderr.
func New(cfg config.LogConfig) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}

	var (
		out    io.Writer
		closer io.Closer = nopCloser{}
		isFile bool
	)
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("open log output %s: %w", cfg.Output, err)
		}
		out, closer, isFile = f, f, true
	}

	switch cfg.Format {
	case "", config.LogFormatText:
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    !cfg.Color || isFile,
		}
	case config.LogFormatJSON:
	default:
		closer.Close()
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("%w: %q", config.ErrInvalidLogFormat, cfg.Format)
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	for k, v := range cfg.Fields {
		ctx = ctx.Str(k, v)
	}
	return ctx.Logger(), closer, nil
}

// ParseLevel maps a configured level onto zerolog's. An empty level is info.
func ParseLevel(level config.LogLevel) (zerolog.Level, error) {
	switch level {
	case "":
		return zerolog.InfoLevel, nil
	case config.LogLevelTrace:
		return zerolog.TraceLevel, nil
	case config.LogLevelDebug:
		return zerolog.DebugLevel, nil
	case config.LogLevelInfo:
		return zerolog.InfoLevel, nil
	case config.LogLevelWarn:
		return zerolog.WarnLevel, nil
	case config.LogLevelError:
		return zerolog.ErrorLevel, nil
	case config.LogLevelFatal:
		return zerolog.FatalLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("%w: %q", config.ErrInvalidLogLevel, level)
	}
}

// Nop returns a disabled logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
