package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devharvest/internal/config"
)

func lastJSONLine(t *testing.T, content []byte) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[len(lines)-1]), &entry))
	return entry
}

func TestInitializeLogger(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	logFile := filepath.Join(t.TempDir(), "nested", "harvest.log")
	cfg := config.LoggingConfig{
		Level:    "info",
		Format:   "json",
		Output:   "file",
		FilePath: logFile,
	}

	logger, err := InitializeLogger(cfg)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.FileExists(t, logFile)

	logger.Info("harvest_started", "record_id", "A00123456")
	require.NoError(t, CloseLogFile())

	content, err := os.ReadFile(logFile)
	require.NoError(t, err)

	entry := lastJSONLine(t, content)
	assert.Equal(t, "harvest_started", entry["msg"])
	assert.Equal(t, "A00123456", entry["record_id"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Same(t, logger, GetLogger())
}

func TestInitializeLoggerOnlyOnce(t *testing.T) {
	ResetLoggerForTesting()
	defer ResetLoggerForTesting()

	dir := t.TempDir()
	first, err := InitializeLogger(config.LoggingConfig{Level: "info", Output: "file", FilePath: filepath.Join(dir, "a.log")})
	require.NoError(t, err)
	second, err := InitializeLogger(config.LoggingConfig{Level: "debug", Output: "file", FilePath: filepath.Join(dir, "b.log")})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.NoFileExists(t, filepath.Join(dir, "b.log"))
}

func TestTraceIDInjection(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, config.LoggingConfig{Level: "debug", Format: "json"})

	ctx := WithTraceID(context.Background(), "run-123")
	logger.InfoContext(ctx, "stage_completed")

	entry := lastJSONLine(t, buf.Bytes())
	assert.Equal(t, "run-123", entry["trace_id"])

	buf.Reset()
	logger.InfoContext(context.Background(), "no_trace")
	entry = lastJSONLine(t, buf.Bytes())
	_, ok := entry["trace_id"]
	assert.False(t, ok)
}

func TestTraceIDSurvivesWith(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, config.LoggingConfig{Level: "info"}).
		With("component", "ledger").
		WithGroup("ledger")

	logger.InfoContext(WithTraceID(context.Background(), "run-9"), "append", "file", "a.pdf")
	assert.Contains(t, buf.String(), `"trace_id":"run-9"`)
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		level      string
		debugShown bool
		warnShown  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warning", false, true},
		{"error", false, false},
		{"bogus", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, config.LoggingConfig{Level: tt.level})

			logger.Debug("debug_line")
			logger.Warn("warn_line")

			assert.Equal(t, tt.debugShown, strings.Contains(buf.String(), "debug_line"))
			assert.Equal(t, tt.warnShown, strings.Contains(buf.String(), "warn_line"))
		})
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, config.LoggingConfig{Level: "info", Format: "text"})
	logger.Info("download_saved", "file", "A00123456_form.pdf")

	assert.Contains(t, buf.String(), "msg=download_saved")
	assert.Contains(t, buf.String(), "file=A00123456_form.pdf")
}

func TestTraceIDContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Equal(t, "run-1", GetTraceID(WithTraceID(ctx, "run-1")))
	assert.Equal(t, "run-2", GetTraceID(WithTraceID(WithTraceID(ctx, "run-1"), "run-2")))
}

func TestLogWriter(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name     string
		cfg      config.LoggingConfig
		wantFile bool
		wantErr  bool
	}{
		{"console", config.LoggingConfig{Output: "console"}, false, false},
		{"default", config.LoggingConfig{}, false, false},
		{"file", config.LoggingConfig{Output: "file", FilePath: filepath.Join(dir, "f", "a.log")}, true, false},
		{"both", config.LoggingConfig{Output: "BOTH", FilePath: filepath.Join(dir, "b.log")}, true, false},
		{"unwritable", config.LoggingConfig{Output: "file", FilePath: dir}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, f, err := logWriter(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, w)
			assert.Equal(t, tt.wantFile, f != nil)
			if f != nil {
				assert.FileExists(t, tt.cfg.FilePath)
				f.Close()
			}
		})
	}
}
