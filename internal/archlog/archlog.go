// Package archlog provides archflow's structured logging setup,
// following internal/log idiom: log/slog with a
// JSON/text format switch and a small set of standard field-key
// constants shared across the codebase.
package archlog

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format selects the log output encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Standard field keys, kept consistent across packages.
const (
	ExecutionIDKey = "execution_id"
	FlowIDKey = "flow_id"
	StepIDKey = "step_id"
	ToolKey = "tool"
	DurationKey = "duration_ms"
	EventKey = "event"
)

// Config holds logger construction options.
type Config struct {
	Level string // debug, info, warn, error
	Format Format
	Output io.Writer
	AddSource bool
}

// DefaultConfig returns sensible defaults: info level, JSON to stderr.
func DefaultConfig() Config {
	return Config{
		Level: "info",
		Format: FormatJSON,
		Output: os.Stderr,
	}
}

// FromEnv builds a Config from ARCHFLOW_LOG_LEVEL / ARCHFLOW_LOG_FORMAT,
// falling back to DefaultConfig for unset or unrecognized values.
func FromEnv() Config {
	cfg := DefaultConfig()
	if lvl := os.Getenv("ARCHFLOW_LOG_LEVEL"); lvl != "" {
		cfg.Level = lvl
	}
	if fmtStr := os.Getenv("ARCHFLOW_LOG_FORMAT"); fmtStr == string(FormatText) {
		cfg.Format = FormatText
	}
	return cfg
}

func levelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a *slog.Logger from cfg.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level: levelFromString(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.Format == FormatText {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}
	return slog.New(handler)
}

// WithComponent returns a logger with a "component" field attached.
func WithComponent(logger *slog.Logger, name string) *slog.Logger {
	return logger.With("component", name)
}
