package elog

import (
	"log/slog"
	"testing"

	"github.com/elara-ai/elara-core/pkg/orchestrator"
)

func TestLoggerSatisfiesOrchestratorInterface(t *testing.T) {
	var _ orchestrator.Logger = New(slog.LevelInfo)
	var _ orchestrator.Logger = NewJSON(slog.LevelDebug)
}

func TestLoggerMethodsDoNotPanic(t *testing.T) {
	l := New(slog.LevelDebug)
	l.Debug("debug message", "key", "value")
	l.Info("info message")
	l.Warn("warn message", "count", 3)
	l.Error("error message", "err", "boom")
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    slog.Level
		wantErr bool
	}{
		{"empty defaults to info", "", slog.LevelInfo, false},
		{"info", "info", slog.LevelInfo, false},
		{"debug", "debug", slog.LevelDebug, false},
		{"warn", "warn", slog.LevelWarn, false},
		{"error", "error", slog.LevelError, false},
		{"unknown", "verbose", 0, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := ParseLevel(c.input)
			if c.wantErr {
				if err == nil {
					t.Fatalf("expected an error for %q", c.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLevel(%q): %v", c.input, err)
			}
			if got != c.want {
				t.Fatalf("ParseLevel(%q) = %v, want %v", c.input, got, c.want)
			}
		})
	}
}
