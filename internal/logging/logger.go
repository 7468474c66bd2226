// Package logging configures the global zerolog logger.
//
// Every component logs through github.com/rs/zerolog/log and tags its
// events with Str("component", ...).
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup configures the global logger. It should be called once during
// application initialization.
func Setup(level string, format string) error {
	logger, err := New(level, format, os.Stdout)
	if err != nil {
		return err
	}
	log.Logger = logger

	// gin's own banner and route dump only in debug
	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info().
		Str("component", "logging").
		Str("level", level).
		Str("format", format).
		Msg("Logger initialized")

	return nil
}

// New builds a logger writing to out and sets the global level.
// format is "json" or "console".
func New(level, format string, out io.Writer) (zerolog.Logger, error) {
	logLevel, err := parseLogLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	zerolog.SetGlobalLevel(logLevel)

	switch format {
	case "console":
		cw := zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
		return zerolog.New(cw).With().Timestamp().Caller().Logger(), nil
	case "json", "":
		return zerolog.New(out).With().Timestamp().Logger(), nil
	}
	return zerolog.Nop(), fmt.Errorf("invalid log format: %s", format)
}

// parseLogLevel converts a string log level to zerolog.Level.
func parseLogLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info", "":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	}
	return zerolog.InfoLevel, fmt.Errorf("invalid log level: %s", level)
}
