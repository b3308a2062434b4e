// Package log provides structured logging for bigstore.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. The library is silent by
// default; embedders opt in through Init.
var Logger zerolog.Logger

// Component loggers for different parts of the store.
var (
	Store  zerolog.Logger
	Engine zerolog.Logger
	Cache  zerolog.Logger
)

func init() {
	Logger = zerolog.New(os.Stderr).Level(zerolog.Disabled)
	initComponentLoggers()
}

// Init initializes the logger with the given level ("debug", "info",
// "warn", "error", or "disabled").
func Init(level string) {
	Logger = NewConsoleLogger(os.Stderr, level)
	initComponentLoggers()
}

// NewConsoleLogger creates a colored console logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
		NoColor:    false,
	}
	return zerolog.New(output).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	return zerolog.New(w).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// ParseLevel converts a string level to zerolog.Level.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "":
		return zerolog.Disabled
	default:
		return zerolog.Disabled
	}
}

// initComponentLoggers initializes loggers for each component.
func initComponentLoggers() {
	Store = Logger.With().Str("component", "store").Logger()
	Engine = Logger.With().Str("component", "engine").Logger()
	Cache = Logger.With().Str("component", "cache").Logger()
}
