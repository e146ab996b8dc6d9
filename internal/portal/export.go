package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"devharvest/internal/browser"
	"devharvest/internal/config"
	"devharvest/internal/files"
)

// ErrExportFailed is returned when no CSV could be saved
var ErrExportFailed = errors.New("portal: export could not be saved")

const (
	bannerPattern  = `Accept|I Agree|Got it|Close|Dismiss`
	resultsSel     = "table, .mat-table, .results, .list"
	spinnerSel     = ".mat-progress-bar, .loading, .spinner"
	dateFieldWait  = 2 * time.Second
	dateApplyDelay = time.Second
	clickDelay     = 1200 * time.Millisecond
)

// DateRange returns the dd/mm/yyyy bounds of the window ending today
func DateRange(days int, now time.Time) (start, end string) {
	return now.AddDate(0, 0, -days).Format(config.PortalDateLayout), now.Format(config.PortalDateLayout)
}

// ExportFileName is the name given to a pipeline export
func ExportFileName(days int, now time.Time) string {
	return fmt.Sprintf("brisbane_last%dd_%s.csv", days, now.Format(config.FileStampLayout))
}

// ExportRequest describes one export fetch
type ExportRequest struct {
	Days int
	Dest string
	// Strict aborts as soon as the dates cannot be applied or no results
	// render. The standalone fetcher runs lenient and still tries the download.
	Strict bool
}

// ExportResult reports how far an export fetch got
type ExportResult struct {
	Path           string `json:"path"`
	Start          string `json:"start"`
	End            string `json:"end"`
	DatesApplied   bool   `json:"dates_applied"`
	ResultsVisible bool   `json:"results_visible"`
	Size           int64  `json:"size"`
	DebugDump      string `json:"debug_dump,omitempty"`
}

type fieldPair struct {
	start, end browser.Strategy
}

func dateFieldCandidates() []fieldPair {
	return []fieldPair{
		{browser.Label(`from|start`), browser.Label(`to|end`)},
		{browser.Placeholder(`from|start`), browser.Placeholder(`to|end`)},
		{browser.CSS(`input[placeholder*='Start']`), browser.CSS(`input[placeholder*='End']`)},
		{browser.CSS(`input[placeholder*='From']`), browser.CSS(`input[placeholder*='To']`)},
		{browser.CSS(`input[data-placeholder*='From']`), browser.CSS(`input[data-placeholder*='To']`)},
		{browser.CSS(`input[aria-label*='from']`), browser.CSS(`input[aria-label*='to']`)},
		{browser.Within("app-date-range", "input", 0), browser.Within("app-date-range", "input", 1)},
		{browser.Within("[data-testid='date-range']", "input", 0), browser.Within("[data-testid='date-range']", "input", 1)},
		{browser.Within(".date-range, .mat-date-range-input-container", "input", 0), browser.Within(".date-range, .mat-date-range-input-container", "input", 1)},
		{browser.CSSNth("input[type='text']", 0), browser.CSSNth("input[type='text']", 1)},
		{browser.CSSNth("input.mat-input-element", 0), browser.CSSNth("input.mat-input-element", 1)},
	}
}

var (
	scriptStartSelectors = []string{
		"input[formcontrolname='fromDate']",
		"input[formcontrolname='fromDateInput']",
		"input[aria-label*='from']",
	}
	scriptEndSelectors = []string{
		"input[formcontrolname='toDate']",
		"input[formcontrolname='toDateInput']",
		"input[aria-label*='to']",
	}
)

func csvCandidates() []browser.Strategy {
	return []browser.Strategy{
		browser.RoleButton("CSV"),
		browser.RoleButton("Download CSV"),
		browser.Text("CSV"),
		browser.Text("Download CSV"),
		browser.CSS("a[href*='csv' i], button[title*='CSV' i], a[title*='CSV' i]"),
	}
}

// FetchExport searches the portal for the last req.Days days and saves the
// CSV export to req.Dest. The returned result is non-nil even on failure so
// callers can report what was reached.
func (c *Client) FetchExport(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	start, end := DateRange(req.Days, c.now().In(c.loc))
	result := &ExportResult{Path: req.Dest, Start: start, End: end}
	logger := c.logger.With(slog.String("start", start), slog.String("end", end))

	if err := os.MkdirAll(filepath.Dir(req.Dest), 0755); err != nil {
		return result, fmt.Errorf("failed to create export directory: %w", err)
	}

	navCtx, cancel := withTimeout(ctx, c.opts.LoadTimeout)
	err := c.page.Navigate(navCtx, c.opts.BaseURL)
	cancel()
	if err != nil {
		return result, fmt.Errorf("failed to open application search: %w", err)
	}
	c.screenshot(ctx, "01_loaded")
	logger.InfoContext(ctx, "application_search_opened", slog.String("url", c.opts.BaseURL))

	c.tryClick(ctx, 2*time.Second, browser.RoleButton(bannerPattern), browser.Text(bannerPattern))

	c.openDateRange(ctx)
	result.DatesApplied = c.setDateRange(ctx, start, end)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if !result.DatesApplied {
		logger.WarnContext(ctx, "date_range_not_applied")
		if req.Strict {
			return result, errors.New("unable to set the date range inputs")
		}
	}

	c.showResults(ctx)
	result.ResultsVisible = c.waitForResults(ctx)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	if !result.ResultsVisible {
		logger.WarnContext(ctx, "results_not_visible")
		if req.Strict {
			return result, errors.New("search results did not render in time")
		}
	}

	size, ok := c.downloadCSV(ctx, req.Dest)
	c.screenshot(ctx, "05_after_download")
	if !ok {
		result.DebugDump = c.dumpDOM(ctx, "error_state")
		if err := ctx.Err(); err != nil {
			return result, err
		}
		return result, fmt.Errorf("%w (dates applied: %t, results visible: %t)",
			ErrExportFailed, result.DatesApplied, result.ResultsVisible)
	}

	result.Size = size
	logger.InfoContext(ctx, "export_saved",
		slog.String("path", req.Dest),
		slog.Int64("size_bytes", size))
	return result, nil
}

func (c *Client) openDateRange(ctx context.Context) {
	c.tryClick(ctx, 8*time.Second, browser.RoleButton("Date Range"), browser.Text("Date Range"))
	_ = c.sleep(ctx, 300*time.Millisecond)
	c.screenshot(ctx, "02_date_range_open")
}

// setDateRange tries each input pair in rank order, then a script fallback
func (c *Client) setDateRange(ctx context.Context, start, end string) bool {
	for _, pair := range dateFieldCandidates() {
		if ctx.Err() != nil {
			return false
		}
		if c.fillPair(ctx, pair, start, end) {
			c.logger.InfoContext(ctx, "date_range_applied", slog.String("via", pair.start.String()))
			c.screenshot(ctx, "03_dates_set")
			return true
		}
	}

	for _, startSel := range scriptStartSelectors {
		for _, endSel := range scriptEndSelectors {
			startOK, err := c.page.SetInputValue(ctx, startSel, start)
			if err != nil {
				return false
			}
			endOK, err := c.page.SetInputValue(ctx, endSel, end)
			if err != nil {
				return false
			}
			if startOK && endOK {
				_ = c.page.PressEnter(ctx)
				_ = c.sleep(ctx, dateApplyDelay)
				c.logger.InfoContext(ctx, "date_range_applied", slog.String("via", "script"))
				c.screenshot(ctx, "03_dates_set")
				return true
			}
		}
	}
	return false
}

func (c *Client) fillPair(ctx context.Context, pair fieldPair, start, end string) bool {
	startCtl, err := c.page.FindControl(ctx, dateFieldWait, pair.start)
	if err != nil {
		return false
	}
	endCtl, err := c.page.FindControl(ctx, dateFieldWait, pair.end)
	if err != nil {
		return false
	}

	if err := c.page.FillField(ctx, startCtl, start); err != nil {
		return false
	}
	if err := c.page.FillField(ctx, endCtl, end); err != nil {
		return false
	}
	_ = c.page.PressEnter(ctx)
	if err := c.sleep(ctx, dateApplyDelay); err != nil {
		return false
	}

	gotStart, err := c.page.Value(ctx, startCtl)
	if err != nil {
		return false
	}
	gotEnd, err := c.page.Value(ctx, endCtl)
	if err != nil {
		return false
	}
	return strings.TrimSpace(gotStart) == start && strings.TrimSpace(gotEnd) == end
}

func (c *Client) showResults(ctx context.Context) {
	c.tryClick(ctx, 10*time.Second, browser.Text("Show Results"), browser.RoleButton("Show Results"))
	_ = c.sleep(ctx, clickDelay)
	c.tryClick(ctx, 6*time.Second, browser.Text(`\bList\b`), browser.RoleButton(`\bList\b`))
	_ = c.sleep(ctx, clickDelay)
	c.screenshot(ctx, "04_results_view")
}

func (c *Client) waitForResults(ctx context.Context) bool {
	waitCtx, cancel := withTimeout(ctx, c.opts.ResultsTimeout)
	err := c.page.WaitVisible(waitCtx, resultsSel)
	cancel()
	if err != nil {
		return false
	}

	spinCtx, cancel := withTimeout(ctx, c.opts.SpinnerTimeout)
	defer cancel()
	if err := c.page.WaitHidden(spinCtx, spinnerSel); err != nil {
		c.logger.DebugContext(ctx, "spinner_still_visible")
	}
	return true
}

// downloadCSV clicks through the CSV candidates until one saves a non-empty file
func (c *Client) downloadCSV(ctx context.Context, dest string) (int64, bool) {
	for _, strategy := range csvCandidates() {
		if err := c.sleep(ctx, 800*time.Millisecond); err != nil {
			return 0, false
		}
		ctl, err := c.page.FindControl(ctx, 8*time.Second, strategy)
		if err != nil {
			continue
		}

		dlCtx, cancel := withTimeout(ctx, c.opts.ExportDownloadTimeout)
		dl, err := c.page.TriggerDownload(dlCtx, func(ctx context.Context) error {
			return c.page.Click(ctx, ctl)
		})
		cancel()
		if err != nil {
			c.logger.DebugContext(ctx, "csv_download_attempt_failed",
				slog.String("control", ctl.String()),
				slog.String("error", err.Error()))
			continue
		}

		if err := dl.SaveAs(dest); err != nil {
			c.logger.WarnContext(ctx, "csv_save_failed",
				slog.String("path", dest),
				slog.String("error", err.Error()))
			continue
		}
		if files.NonEmpty(dest) {
			info, err := os.Stat(dest)
			if err == nil {
				return info.Size(), true
			}
		}
	}
	return 0, false
}
