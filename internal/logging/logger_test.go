package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	testCases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, want := range testCases {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestNewLoggerHonoursLevelAndFormat(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := NewLogger("warn", format)
		if err != nil {
			t.Fatalf("format %s: unexpected error: %v", format, err)
		}
		if logger.Core().Enabled(zapcore.InfoLevel) {
			t.Fatalf("format %s: expected info to be disabled at warn level", format)
		}
		if !logger.Core().Enabled(zapcore.ErrorLevel) {
			t.Fatalf("format %s: expected error to be enabled", format)
		}
	}
}
