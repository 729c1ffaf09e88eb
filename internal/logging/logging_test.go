package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingCloser struct{ closed bool }

func (f *failingCloser) Close() error {
	f.closed = true
	return errors.New("boom")
}

func TestLogOperationIncludesAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Options{Writer: &buf})

	LogOperation(logger, "stage_completed", slog.String("stage", "stops"), slog.Int("count", 3))

	out := buf.String()
	assert.Contains(t, out, "operation=stage_completed")
	assert.Contains(t, out, "stage=stops")
	assert.Contains(t, out, "count=3")
}

func TestLogErrorIncludesError(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Options{Writer: &buf, JSON: true})

	LogError(logger, "Request failed", errors.New("connection refused"), slog.String("url", "/stops"))

	out := buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"error":"connection refused"`)
	assert.Contains(t, out, `"url":"/stops"`)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"WARN", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestDebugSuppressedAtInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Options{Writer: &buf, Level: "info"})

	logger.Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestSafeCloseWithLoggingLogsFailure(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := New(Options{Writer: &buf})
	c := &failingCloser{}

	SafeCloseWithLogging(c, logger, "archive_file")

	assert.True(t, c.closed)
	assert.Contains(t, buf.String(), "resource=archive_file")
	assert.Contains(t, buf.String(), "boom")
}

func TestContextRoundTrip(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)

	assert.Same(t, logger, FromContext(ctx))
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harvest.log")
	logger, closer := New(Options{File: path})

	LogOperation(logger, "written_to_file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written_to_file")
}
