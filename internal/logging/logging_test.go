package logging

import (
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}

	for _, tc := range cases {
		if got := parseLevel(tc.input); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.input, got, tc.want)
		}
	}
}

func TestGetLoggerAndWith(t *testing.T) {
	Init(Config{Level: "debug", Format: "json", Output: "stderr"})

	log := GetLogger("test")
	if log == nil {
		t.Fatal("Expected a logger")
	}

	scoped := log.With("key", "value")
	if scoped == nil {
		t.Fatal("Expected a scoped logger")
	}

	// Smoke the level methods
	scoped.Debug("debug message")
	scoped.Info("info message")
	scoped.Warn("warn message")
}

func TestReinitIsSafe(t *testing.T) {
	Init(Config{Level: "info", Format: "console", Output: "stderr"})
	Init(Config{Level: "warn", Format: "json", Output: "stdout"})
	Info("still logging")
}
