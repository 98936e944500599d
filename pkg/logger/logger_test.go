package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/racesync/pkg/logger"
)

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewWithWriter(&buf, logger.Options{Level: "debug", Format: "json"}).With("component", "test")

	ctx := logger.WithRequestID(context.Background(), "req-1")
	ctx = logger.WithUserID(ctx, "u1")
	ctx = logger.WithRoom(ctx, "42")
	l.InfoContext(ctx, "poll delivered")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-1", entry["request_id"])
	assert.Equal(t, "u1", entry["user_id"])
	assert.Equal(t, "42", entry["room"])
	assert.Equal(t, "test", entry["component"])
	assert.Equal(t, "req-1", logger.RequestID(ctx))
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewWithWriter(&buf, logger.Options{Level: "warn"})

	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, logger.ParseLevel(in), in)
	}
}

func TestMetrics(t *testing.T) {
	var buf bytes.Buffer
	l := logger.NewWithWriter(&buf, logger.Options{Format: "json"})

	logger.Metrics(context.Background(), l, "janitor.sweep", 15*time.Millisecond, slog.Int("users", 3))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "janitor.sweep", entry["operation"])
	assert.EqualValues(t, 3, entry["users"])
}
