// Package download runs a download action under a bounded retry policy and
// makes sure a file only ever appears under its final name when complete.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"devharvest/internal/files"
)

var (
	// ErrExhausted is returned once every attempt has failed
	ErrExhausted = errors.New("download: retry limit exhausted")

	// ErrEmptyArtifact marks an attempt whose saved file had no content
	ErrEmptyArtifact = errors.New("download: artifact is empty")
)

// PartialSuffix replaces the final extension while a download is in flight
const PartialSuffix = ".partial"

// Artifact is a completed browser download that can be persisted
type Artifact interface {
	SaveAs(path string) error
}

// Action performs one download attempt
type Action func(ctx context.Context) (Artifact, error)

// VerifyFunc inspects the partial file before it is promoted
type VerifyFunc func(path string) error

// Policy retries a download action a fixed number of times with a fixed
// backoff between attempts.
type Policy struct {
	Limit          int
	Backoff        time.Duration
	AttemptTimeout time.Duration
	Verify         VerifyFunc
	Logger         *slog.Logger

	// sleep waits between attempts; tests replace it
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy returns a policy with limit clamped to at least one attempt
func NewPolicy(limit int, backoff time.Duration, logger *slog.Logger) *Policy {
	if limit < 1 {
		limit = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{Limit: limit, Backoff: backoff, Logger: logger}
}

// PartialPath returns the in-flight name for finalPath
func PartialPath(finalPath string) string {
	return files.ReplaceExt(finalPath, PartialSuffix)
}

// Fetch runs action until one attempt produces a verified, non-empty file at
// finalPath or the limit is reached. It returns the number of attempts made.
// On any failure no partial file is left behind and finalPath is untouched.
func (p *Policy) Fetch(ctx context.Context, finalPath string, action Action) (int, error) {
	limit := p.Limit
	if limit < 1 {
		limit = 1
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create destination directory: %w", err)
	}

	partial := PartialPath(finalPath)
	var lastErr error

	for attempt := 1; attempt <= limit; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, fmt.Errorf("download cancelled: %w", err)
		}

		err := p.attempt(ctx, partial, finalPath, action)
		if err == nil {
			logger.DebugContext(ctx, "download_attempt_succeeded",
				slog.String("file", filepath.Base(finalPath)),
				slog.Int("attempt", attempt))
			return attempt, nil
		}
		os.Remove(partial)
		lastErr = err

		if ctx.Err() != nil {
			return attempt, fmt.Errorf("download cancelled: %w", ctx.Err())
		}

		logger.WarnContext(ctx, "download_attempt_failed",
			slog.String("file", filepath.Base(finalPath)),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", limit),
			slog.String("error", err.Error()))

		if attempt < limit {
			if err := p.wait(ctx); err != nil {
				return attempt, fmt.Errorf("download cancelled: %w", err)
			}
		}
	}

	return limit, fmt.Errorf("%w after %d attempts: %v", ErrExhausted, limit, lastErr)
}

// attempt performs one action and promotes the result
func (p *Policy) attempt(ctx context.Context, partial, finalPath string, action Action) error {
	if p.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		defer cancel()
	}

	// leftovers from an interrupted run
	os.Remove(partial)

	artifact, err := action(ctx)
	if err != nil {
		return err
	}
	if artifact == nil {
		return ErrEmptyArtifact
	}
	if err := artifact.SaveAs(partial); err != nil {
		return fmt.Errorf("failed to save artifact: %w", err)
	}

	info, err := os.Stat(partial)
	if err != nil {
		return fmt.Errorf("saved artifact missing: %w", err)
	}
	if info.Size() == 0 {
		return ErrEmptyArtifact
	}

	if p.Verify != nil {
		if err := p.Verify(partial); err != nil {
			return fmt.Errorf("artifact failed verification: %w", err)
		}
	}

	if err := os.Rename(partial, finalPath); err != nil {
		return fmt.Errorf("failed to finalise %s: %w", filepath.Base(finalPath), err)
	}
	return nil
}

func (p *Policy) wait(ctx context.Context) error {
	if p.sleep != nil {
		return p.sleep(ctx, p.Backoff)
	}
	if p.Backoff <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(p.Backoff)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
