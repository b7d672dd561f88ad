// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"hs-backtest/internal/models"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the console-only configuration used before
// config.toml has been read.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:   "info",
		Console: true,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	// Console writer
	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			FormatLevel: func(i interface{}) string {
				if ll, ok := i.(string); ok {
					switch ll {
					case "debug":
						return "\033[36mDBG\033[0m"
					case "info":
						return "\033[32mINF\033[0m"
					case "warn":
						return "\033[33mWRN\033[0m"
					case "error":
						return "\033[31mERR\033[0m"
					default:
						return ll
					}
				}
				return "???"
			},
		}
		writers = append(writers, consoleWriter)
	}

	// File writer with rotation
	if cfg.File {
		// Ensure log directory exists
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			fileWriter := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			}
			writers = append(writers, fileWriter)
		}
	}

	// Create multi-writer
	var writer io.Writer
	if len(writers) == 0 {
		writer = os.Stderr
	} else if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	// Set log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Create logger
	logger := zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()

	return logger
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// SetDebugLevel sets the global log level to debug.
func SetDebugLevel() {
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// ContextKey is the type for context keys.
type ContextKey string

// LoggerKey is the context key for the logger.
const LoggerKey ContextKey = "logger"

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithSymbol adds a symbol to the logger context.
func WithSymbol(logger zerolog.Logger, symbol string) zerolog.Logger {
	return logger.With().Str("symbol", symbol).Logger()
}

// WithRun adds a run ID to the logger context.
func WithRun(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}

// WithCommand adds a CLI command name to the logger context.
func WithCommand(logger zerolog.Logger, command string) zerolog.Logger {
	return logger.With().Str("command", command).Logger()
}

// WithOperation adds a pipeline stage name to the logger context.
func WithOperation(logger zerolog.Logger, operation string) zerolog.Logger {
	return logger.With().Str("operation", operation).Logger()
}

// LogPattern logs a detected pattern.
func LogPattern(logger zerolog.Logger, p models.PatternInstance) {
	logger.Debug().
		Str("event", "pattern").
		Str("kind", string(p.Kind)).
		Int("window", p.Window).
		Int("start", p.Start()).
		Int("end", p.End()).
		Floats64("prices", p.Prices[:]).
		Msg("Pattern detected")
}

// LogSimulation logs a simulated trade.
func LogSimulation(logger zerolog.Logger, r models.SimulationResult) {
	event := logger.Debug().
		Str("event", "simulation").
		Str("kind", string(r.Pattern.Kind)).
		Int("window", r.Pattern.Window).
		Str("outcome", string(r.Outcome))

	if r.Breakout() {
		event = event.
			Int("entry", r.EntryIndex).
			Int("exit", r.ExitIndex).
			Str("reason", string(r.ExitReason)).
			Float64("neckline", r.Neckline).
			Float64("return", r.Return)
	}
	event.Msg("Trade simulated")
}

// LogSimulationFailure logs a pattern instance that could not be simulated.
func LogSimulationFailure(logger zerolog.Logger, p models.PatternInstance, err error) {
	logger.Warn().
		Str("event", "simulation").
		Str("kind", string(p.Kind)).
		Int("window", p.Window).
		Err(err).
		Msg("Simulation skipped")
}

// LogRunSummary logs the aggregate for one pattern kind.
func LogRunSummary(logger zerolog.Logger, kind models.PatternKind, patterns, breakouts, failures int, meanReturn float64) {
	logger.Info().
		Str("event", "summary").
		Str("kind", string(kind)).
		Int("patterns", patterns).
		Int("breakouts", breakouts).
		Int("failures", failures).
		Float64("mean_return", meanReturn).
		Msg("Run summary")
}

// LogStage logs the completion of one pipeline stage.
func LogStage(logger zerolog.Logger, stage string, count int, duration time.Duration) {
	logger.Debug().
		Str("event", "stage").
		Str("stage", stage).
		Int("count", count).
		Dur("duration", duration).
		Msg("Stage completed")
}
