package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devharvest/internal/config"
	"devharvest/internal/operations"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
		check   func(t *testing.T, o *cliOptions)
	}{
		{
			name: "defaults",
			args: nil,
			check: func(t *testing.T, o *cliOptions) {
				assert.Equal(t, config.DefaultExportDays, o.days)
				assert.True(t, o.headless)
				assert.False(t, o.skipCSV)
				assert.Empty(t, o.set)
			},
		},
		{
			name: "all flags",
			args: []string{
				"--days", "7", "--headed", "--skip-csv", "--skip-forms", "--skip-enrich",
				"--csv-path", "x.csv", "--max-apps", "5", "--retry-limit", "4",
				"--out", "/tmp/out", "--status-addr", ":9090",
			},
			check: func(t *testing.T, o *cliOptions) {
				assert.Equal(t, 7, o.days)
				assert.True(t, o.headed)
				assert.True(t, o.skipCSV)
				assert.True(t, o.skipForms)
				assert.True(t, o.skipEnrich)
				assert.Equal(t, "x.csv", o.csvPath)
				assert.Equal(t, 5, o.maxApps)
				assert.Equal(t, 4, o.retryLimit)
				assert.Equal(t, "/tmp/out", o.out)
				assert.Equal(t, ":9090", o.statusAddr)
				assert.True(t, o.set["days"])
				assert.False(t, o.set["config"])
			},
		},
		{name: "unknown flag", args: []string{"--bogus"}, wantErr: true},
		{name: "stray argument", args: []string{"extra"}, wantErr: true},
		{name: "bad int", args: []string{"--days", "many"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			o, err := parseFlags(tt.args, &stderr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, o)
		})
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "unset flags keep config values",
			args: nil,
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 45, cfg.Portal.ExportDays)
				assert.False(t, cfg.Portal.Headless)
				assert.Equal(t, 6, cfg.Harvest.RetryLimit)
				assert.Equal(t, 12, cfg.Harvest.MaxRecords)
			},
		},
		{
			name: "explicit flags override",
			args: []string{"--days", "3", "--headless", "--retry-limit", "2", "--max-apps", "0"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 3, cfg.Portal.ExportDays)
				assert.True(t, cfg.Portal.Headless)
				assert.Equal(t, 2, cfg.Harvest.RetryLimit)
				assert.Equal(t, 0, cfg.Harvest.MaxRecords)
			},
		},
		{
			name: "retry limit floor",
			args: []string{"--retry-limit", "0"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, 1, cfg.Harvest.RetryLimit)
			},
		},
		{
			name: "headed wins",
			args: []string{"--headless", "--headed"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.False(t, cfg.Portal.Headless)
			},
		},
		{
			name: "paths and status address",
			args: []string{"--out", "/data/devi", "--status-addr", "127.0.0.1:0"},
			check: func(t *testing.T, cfg *config.Config) {
				assert.Equal(t, "/data/devi", cfg.Paths.OutputDir)
				assert.Equal(t, "127.0.0.1:0", cfg.Telemetry.StatusAddr)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.Portal.ExportDays = 45
			cfg.Portal.Headless = false
			cfg.Harvest.RetryLimit = 6
			cfg.Harvest.MaxRecords = 12

			o, err := parseFlags(tt.args, &bytes.Buffer{})
			require.NoError(t, err)
			applyFlags(cfg, o)
			tt.check(t, cfg)
		})
	}
}

func TestRequest(t *testing.T) {
	o, err := parseFlags([]string{"--skip-csv", "--csv-path", "in.csv", "--skip-enrich", "--max-apps", "2"}, &bytes.Buffer{})
	require.NoError(t, err)

	cfg := config.Default()
	applyFlags(cfg, o)
	req := request(cfg, o)

	assert.Equal(t, operations.Request{
		Days:        cfg.Portal.ExportDays,
		SkipExport:  true,
		SkipHarvest: false,
		SkipEnrich:  true,
		ExportPath:  "in.csv",
		MaxRecords:  2,
		RetryLimit:  cfg.Harvest.RetryLimit,
	}, req)
}

func TestRunExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"help", []string{"-h"}, config.ExitOK},
		{"bad flag", []string{"--nope"}, config.ExitFatal},
		{"missing export", []string{"--skip-csv", "--skip-forms", "--skip-enrich"}, config.ExitFatal},
		{"reused export", []string{"--skip-csv", "--csv-path", "EXPORT", "--skip-forms", "--skip-enrich"}, config.ExitOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			t.Setenv("DEVI_PATHS_OUTPUT_DIR", dir)
			t.Setenv("DEVI_PATHS_LOGS_DIR", dir+"/logs")
			t.Setenv("DEVI_TELEMETRY_METRIC_EXPORTER", "none")
			t.Setenv("DEVI_TELEMETRY_TRACE_EXPORTER", "none")

			export := filepath.Join(t.TempDir(), "export.csv")
			require.NoError(t, os.WriteFile(export, []byte("Application number\nA006543210\n"), 0o644))
			args := make([]string, len(tt.args))
			for i, a := range tt.args {
				args[i] = strings.Replace(a, "EXPORT", export, 1)
			}

			var stdout, stderr bytes.Buffer
			assert.Equal(t, tt.want, run(args, &stdout, &stderr), stderr.String())
		})
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, nil)
	assert.Empty(t, buf.String())

	printSummary(&buf, &operations.Response{
		ID:       "run-1",
		Status:   operations.OperationStatusCompleted,
		Duration: 1500 * time.Millisecond,
		Steps: []operations.StepSnapshot{
			{ID: "export", Status: operations.StepStatusCompleted},
			{ID: "enrich", Status: operations.StepStatusSkipped, Message: "nothing to enrich"},
		},
		ExportPath:   "/out/export.csv",
		Records:      3,
		Downloads:    2,
		Failures:     1,
		EnrichedPath: "/out/export_enriched.csv",
	})

	out := buf.String()
	assert.Contains(t, out, "Run run-1")
	assert.Contains(t, out, "nothing to enrich")
	assert.Contains(t, out, "Records:   3")
	assert.Contains(t, out, "Downloads: 2 (failed 1)")
	assert.Contains(t, out, "/out/export_enriched.csv")
}
