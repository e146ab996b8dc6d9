package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devharvest/internal/config"
	"devharvest/internal/portal"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  bool
		wantDays int
		wantOut  string
	}{
		{name: "defaults", wantDays: config.DefaultExportDays},
		{name: "custom", args: []string{"--days", "14", "--out", "x.csv"}, wantDays: 14, wantOut: "x.csv"},
		{name: "zero days", args: []string{"--days", "0"}, wantErr: true},
		{name: "negative days", args: []string{"--days", "-3"}, wantErr: true},
		{name: "stray argument", args: []string{"now"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := parseFlags(tt.args, &bytes.Buffer{})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDays, o.days)
			assert.Equal(t, tt.wantOut, o.out)
		})
	}
}

func TestDestination(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)

	o := &cliOptions{}
	assert.Equal(t, filepath.Join("/out", portal.ExportFileName(7, now)), destination(o, "/out", 7, now))

	o.out = "/elsewhere/export.csv"
	assert.Equal(t, "/elsewhere/export.csv", destination(o, "/out", 7, now))
}

func TestPrintFailure(t *testing.T) {
	tests := []struct {
		name     string
		result   *portal.ExportResult
		contains []string
		absent   []string
	}{
		{
			name:     "no result",
			contains: []string{"Error: no csv", "screenshots:     /logs/shots"},
			absent:   []string{"dates applied"},
		},
		{
			name:   "partial result",
			result: &portal.ExportResult{DatesApplied: true, DebugDump: "/logs/debug/error_state.html"},
			contains: []string{
				"dates applied:   true",
				"results visible: false",
				"page dump:       /logs/debug/error_state.html",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			printFailure(&buf, errors.New("no csv"), tt.result, "/logs/shots")
			for _, s := range tt.contains {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestRunRejectsBadFlags(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, config.ExitFatal, run([]string{"--days", "zero"}, &stdout, &stderr))
	assert.Equal(t, config.ExitOK, run([]string{"-help"}, &stdout, &stderr))
}
