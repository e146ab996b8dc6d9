package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"devharvest/internal/config"
)

var (
	loggerMu   sync.Mutex
	runLogger  *slog.Logger
	runLogFile *os.File
)

// InitializeLogger builds the process logger from cfg and installs it as the
// slog default. Later calls return the logger built by the first one.
func InitializeLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if runLogger != nil {
		return runLogger, nil
	}

	w, file, err := logWriter(cfg)
	if err != nil {
		return nil, err
	}
	runLogFile = file
	runLogger = NewLogger(w, cfg)
	slog.SetDefault(runLogger)
	return runLogger, nil
}

// GetLogger returns the process logger, or the slog default before
// InitializeLogger has run
func GetLogger() *slog.Logger {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if runLogger == nil {
		return slog.Default()
	}
	return runLogger
}

// NewLogger builds a logger writing to w. JSON is the default format;
// "text" selects the slog text handler for interactive runs. Debug level
// also records the source position.
func NewLogger(w io.Writer, cfg config.LoggingConfig) *slog.Logger {
	level := levelOf(cfg.Level)
	opts := &slog.HandlerOptions{AddSource: level == slog.LevelDebug, Level: level}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(traceHandler{h})
}

// logWriter picks the destination for cfg.Output. The file, when one is
// opened, is returned so it can be closed on shutdown.
func logWriter(cfg config.LoggingConfig) (io.Writer, *os.File, error) {
	mode := strings.ToLower(cfg.Output)
	if mode != "file" && mode != "both" {
		return os.Stdout, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.FilePath, err)
	}
	if mode == "both" {
		return io.MultiWriter(os.Stdout, f), f, nil
	}
	return f, f, nil
}

// CloseLogFile closes the log file opened by InitializeLogger, if any
func CloseLogFile() error {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if runLogFile == nil {
		return nil
	}
	err := runLogFile.Close()
	runLogFile = nil
	return err
}

// ResetLoggerForTesting forgets the process logger so a test can build a
// fresh one
func ResetLoggerForTesting() {
	_ = CloseLogFile()
	loggerMu.Lock()
	runLogger = nil
	loggerMu.Unlock()
}

// traceHandler adds the trace_id of the record's context
type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := GetTraceID(ctx); id != "" {
		r.AddAttrs(slog.String("trace_id", id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{h.Handler.WithGroup(name)}
}

func levelOf(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
