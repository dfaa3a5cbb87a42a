// Package logging provides structured logging for the sketchbook server.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level   string // debug, info, warn, error
	Format  string // json, console
	Output  io.Writer
	Service string
}

// DefaultConfig returns default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:   "info",
		Format:  "console",
		Output:  os.Stderr,
		Service: "blockly-sketchbook",
	}
}

// Setup initializes the global logger with the given configuration.
func Setup(cfg *Config) zerolog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.Kitchen,
		}
	}

	logger := zerolog.New(output).
		With().
		Timestamp().
		Str("service", cfg.Service).
		Logger()

	log.Logger = logger
	return logger
}

// NewLogger creates a logger for one component.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithRequest adds request context to a logger.
func WithRequest(logger zerolog.Logger, requestID, method, path string) zerolog.Logger {
	return logger.With().
		Str("request_id", requestID).
		Str("method", method).
		Str("path", path).
		Logger()
}

// LogDuration logs the duration of an operation at debug level.
func LogDuration(logger zerolog.Logger, operation string, start time.Time) {
	logger.Debug().
		Str("operation", operation).
		Dur("duration", time.Since(start)).
		Msg("operation completed")
}

// LogHTTPRequest logs a served request, at warn for 4xx and error for 5xx.
func LogHTTPRequest(logger zerolog.Logger, remoteAddr string, status int, duration time.Duration, bytesWritten int64) {
	var event *zerolog.Event
	if status >= 500 {
		event = logger.Error()
	} else if status >= 400 {
		event = logger.Warn()
	} else {
		event = logger.Info()
	}

	event.
		Str("remote_addr", remoteAddr).
		Int("status", status).
		Dur("duration", duration).
		Int64("bytes", bytesWritten).
		Msg("http request")
}
