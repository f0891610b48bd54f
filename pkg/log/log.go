// Package log wires the daemon's zerolog output: level, format, and the
// component/container-scoped child loggers actually used throughout the
// control loop.
package log

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger
func Init(cfg Config) {
	// Set log level
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case InfoLevel:
		level = zerolog.InfoLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Use JSON or console output
	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger scoped to one of the daemon's
// long-lived goroutines: controller, executor, aggregator, main, metrics.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithVMID creates a child logger scoped to a single container, used where
// only the VMID is known (telemetry collection failures, for example).
func WithVMID(vmid int) zerolog.Logger {
	return Logger.With().Str("vmid", strconv.Itoa(vmid)).Logger()
}

// WithContainer decorates base with the vmid and node fields that every
// scaling decision and operation carries, preserving whatever fields base
// already has (component, in practice).
func WithContainer(base zerolog.Logger, vmid int, node string) zerolog.Logger {
	return base.With().Int("vmid", vmid).Str("node", node).Logger()
}
