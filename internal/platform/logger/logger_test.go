package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name        string
		level       string
		wantEnabled slog.Level
		wantMuted   slog.Level
	}{
		{"debug level", "debug", slog.LevelDebug, slog.LevelDebug - 4},
		{"info level", "info", slog.LevelInfo, slog.LevelDebug},
		{"warn level", "warn", slog.LevelWarn, slog.LevelInfo},
		{"error level", "error", slog.LevelError, slog.LevelWarn},
		{"case insensitive", "WARN", slog.LevelWarn, slog.LevelInfo},
		{"invalid falls back to info", "verbose", slog.LevelInfo, slog.LevelDebug},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			logger := Setup(tc.level)
			require.NotNil(t, logger)

			assert.True(t, logger.Enabled(context.Background(), tc.wantEnabled))
			assert.False(t, logger.Enabled(context.Background(), tc.wantMuted))
		})
	}
}
