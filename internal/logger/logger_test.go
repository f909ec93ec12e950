package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel(" WARN "))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("verbose"))
}

func TestSetupWithFile_WritesJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "logs", "api.log")
	closer, err := SetupWithFile("info", path)
	require.NoError(t, err)

	slog.Info("triage request", "trace_id", "01TEST")
	slog.Debug("hidden at info level")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"triage request"`)
	assert.Contains(t, string(data), `"trace_id":"01TEST"`)
	assert.NotContains(t, string(data), "hidden at info level")
}

func TestContextIDs(t *testing.T) {
	ctx := WithSessionID(WithTraceID(context.Background(), "trace-1"), "session-1")

	assert.Equal(t, "trace-1", GetTraceID(ctx))
	assert.Equal(t, "session-1", GetSessionID(ctx))
	assert.Equal(t, "", GetTraceID(context.Background()))
	assert.NotNil(t, FromContext(ctx))
}
