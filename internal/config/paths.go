package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Paths contains every directory and well-known file a run touches.
// All of them are absolute once Initialize returns.
type Paths struct {
	OutputDir      string
	LogsDir        string
	ScreenshotsDir string
	DebugDir       string
	StagingDir     string
	LedgerFile     string
}

// NewPaths resolves the configured locations without touching the filesystem
func NewPaths(cfg PathsConfig) (*Paths, error) {
	outputDir, err := filepath.Abs(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output dir %q: %w", cfg.OutputDir, err)
	}
	logsDir, err := filepath.Abs(cfg.LogsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve logs dir %q: %w", cfg.LogsDir, err)
	}

	ledgerName := cfg.LedgerFileName
	if ledgerName == "" {
		ledgerName = DefaultLedgerFileName
	}

	return &Paths{
		OutputDir:      outputDir,
		LogsDir:        logsDir,
		ScreenshotsDir: filepath.Join(logsDir, ScreenshotsSubdir),
		DebugDir:       filepath.Join(logsDir, DebugSubdir),
		StagingDir:     filepath.Join(outputDir, StagingDirName),
		LedgerFile:     filepath.Join(outputDir, ledgerName),
	}, nil
}

// Initialize resolves the paths and creates the directory tree. It is the
// single place where a run prepares its filesystem.
func Initialize(cfg PathsConfig) (*Paths, error) {
	p, err := NewPaths(cfg)
	if err != nil {
		return nil, err
	}
	if err := p.EnsureDirectories(); err != nil {
		return nil, err
	}
	return p, nil
}

// EnsureDirectories creates all required directories if they don't exist
func (p *Paths) EnsureDirectories() error {
	dirs := []string{
		p.OutputDir,
		p.LogsDir,
		p.ScreenshotsDir,
		p.DebugDir,
		p.StagingDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ScreenshotPath returns the PNG path for a named milestone
func (p *Paths) ScreenshotPath(name string) string {
	return filepath.Join(p.ScreenshotsDir, withExt(name, ".png"))
}

// DebugPath returns the HTML dump path for a named state
func (p *Paths) DebugPath(name string) string {
	return filepath.Join(p.DebugDir, withExt(name, ".html"))
}

// LogPath returns the full path for a log file
func (p *Paths) LogPath(filename string) string {
	return filepath.Join(p.LogsDir, filename)
}

// IsStaging reports whether path is the staging directory or lies below it
func (p *Paths) IsStaging(path string) bool {
	rel, err := filepath.Rel(p.StagingDir, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// FileExists checks if a file exists
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func withExt(name, ext string) string {
	if filepath.Ext(name) == ext {
		return name
	}
	return name + ext
}
