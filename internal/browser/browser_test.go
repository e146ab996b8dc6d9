package browser

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/browser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStrategyString(t *testing.T) {
	tests := []struct {
		strategy Strategy
		expected string
	}{
		{RoleButton("CSV"), "role_button:CSV"},
		{Text("Date Range"), "text:Date Range"},
		{CSSNth("input[type='text']", 1), "css_nth:input[type='text'][1]"},
		{Within("app-date-range", "", 0), "within:app-date-range>input[0]"},
		{Within(".date-range", "input.start", 1), "within:.date-range>input.start[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.strategy.String())
		})
	}
}

func TestResolveExpression(t *testing.T) {
	expr, err := resolveExpression(Label(`from|start`), "7")
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(expr, `({"kind":"label","value":"from|start","index":0}, "7", "data-harvest-handle")`))
	assert.NotContains(t, expr, "%!")
}

func TestResolveExpressionEscapesSelectors(t *testing.T) {
	expr, err := resolveExpression(CSS(`button[title="x'); alert(1); ('"]`), "1")
	require.NoError(t, err)

	start := strings.LastIndex(expr, "})(") + 3
	var s Strategy
	require.NoError(t, json.NewDecoder(strings.NewReader(expr[start:])).Decode(&s))
	assert.Equal(t, `button[title="x'); alert(1); ('"]`, s.Value)
}

func TestHandleSelector(t *testing.T) {
	assert.Equal(t, `[data-harvest-handle="12"]`, handleSelector("12"))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "role_button:CSV, css:a.csv", Describe([]Strategy{RoleButton("CSV"), CSS("a.csv")}))
}

func TestDownloadEvents(t *testing.T) {
	s := NewSession(Options{DownloadDir: t.TempDir()}, nil)
	w := &downloadWaiter{done: make(chan error, 1)}
	s.pending = w

	s.onEvent(&browser.EventDownloadProgress{GUID: "other", State: browser.DownloadProgressStateCompleted})
	s.onEvent(&browser.EventDownloadWillBegin{GUID: "g1", SuggestedFilename: "export.csv", URL: "https://x/export"})
	s.onEvent(&browser.EventDownloadWillBegin{GUID: "g2", SuggestedFilename: "late.csv"})
	assert.Empty(t, w.done)

	s.onEvent(&browser.EventDownloadProgress{GUID: "g1", State: browser.DownloadProgressStateInProgress})
	assert.Empty(t, w.done)

	s.onEvent(&browser.EventDownloadProgress{GUID: "g1", State: browser.DownloadProgressStateCompleted})
	require.Len(t, w.done, 1)
	assert.NoError(t, <-w.done)
	assert.Equal(t, "g1", w.guid)
	assert.Equal(t, "export.csv", w.name)

	// a second terminal event is ignored
	s.onEvent(&browser.EventDownloadProgress{GUID: "g1", State: browser.DownloadProgressStateCanceled})
	assert.Empty(t, w.done)
}

func TestDownloadCanceled(t *testing.T) {
	s := NewSession(Options{DownloadDir: t.TempDir()}, nil)
	w := &downloadWaiter{done: make(chan error, 1)}
	s.pending = w

	s.onEvent(&browser.EventDownloadWillBegin{GUID: "g1"})
	s.onEvent(&browser.EventDownloadProgress{GUID: "g1", State: browser.DownloadProgressStateCanceled})
	assert.ErrorIs(t, <-w.done, ErrDownloadCanceled)
}

func TestAbandonedDownloadIsDiscarded(t *testing.T) {
	dir := t.TempDir()
	s := NewSession(Options{DownloadDir: dir}, nil)
	w := &downloadWaiter{done: make(chan error, 1)}
	s.pending = w

	s.onEvent(&browser.EventDownloadWillBegin{GUID: "g1", SuggestedFilename: "form.pdf"})
	s.release(w, true)
	assert.Nil(t, s.pending)

	// Chrome finishes writing after the wait gave up
	staged := filepath.Join(dir, "g1")
	require.NoError(t, os.WriteFile(staged, []byte("%PDF-1.4"), 0644))
	s.onEvent(&browser.EventDownloadProgress{GUID: "g1", State: browser.DownloadProgressStateInProgress})
	assert.FileExists(t, staged)

	s.onEvent(&browser.EventDownloadProgress{GUID: "g1", State: browser.DownloadProgressStateCompleted})
	assert.NoFileExists(t, staged)
	assert.Empty(t, s.orphans)
}

func TestUnclaimedDownloadIsDiscarded(t *testing.T) {
	dir := t.TempDir()
	s := NewSession(Options{DownloadDir: dir}, nil)

	s.onEvent(&browser.EventDownloadWillBegin{GUID: "stray"})
	staged := filepath.Join(dir, "stray")
	require.NoError(t, os.WriteFile(staged, []byte("late"), 0644))
	s.onEvent(&browser.EventDownloadProgress{GUID: "stray", State: browser.DownloadProgressStateCanceled})
	assert.NoFileExists(t, staged)
}

func TestReleaseKeepsSuccessfulDownload(t *testing.T) {
	dir := t.TempDir()
	s := NewSession(Options{DownloadDir: dir}, nil)
	w := &downloadWaiter{guid: "g1", done: make(chan error, 1)}
	s.pending = w

	staged := filepath.Join(dir, "g1")
	require.NoError(t, os.WriteFile(staged, []byte("%PDF-1.4"), 0644))
	s.release(w, false)

	assert.FileExists(t, staged)
	assert.Empty(t, s.orphans)
}

func TestCloseWithoutStart(t *testing.T) {
	dir := t.TempDir() + "/staging"
	s := NewSession(Options{DownloadDir: dir}, nil)
	assert.NoError(t, s.Close())
	assert.NoDirExists(t, dir)
}
