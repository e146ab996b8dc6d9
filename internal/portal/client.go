package portal

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"devharvest/internal/browser"
	"devharvest/internal/config"
)

// Page is the browser capability the portal flows need
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitReady(ctx context.Context, selector string) error
	WaitVisible(ctx context.Context, selector string) error
	WaitHidden(ctx context.Context, selector string) error
	FindControl(ctx context.Context, wait time.Duration, strategies ...browser.Strategy) (browser.Control, error)
	Click(ctx context.Context, c browser.Control) error
	FillField(ctx context.Context, c browser.Control, value string) error
	Value(ctx context.Context, c browser.Control) (string, error)
	PressEnter(ctx context.Context) error
	SetInputValue(ctx context.Context, selector, value string) (bool, error)
	SelectOption(ctx context.Context, selector, value string) error
	Evaluate(ctx context.Context, expr string, res any) error
	OuterHTML(ctx context.Context, selector string) (string, error)
	TriggerDownload(ctx context.Context, trigger func(ctx context.Context) error) (*browser.Download, error)
	Screenshot(ctx context.Context, path string) error
	DumpDOM(ctx context.Context, path string) error
}

var _ Page = (*browser.Session)(nil)

// Options configures a Client
type Options struct {
	BaseURL     string
	DocumentURL string
	Timezone    string

	LoadTimeout           time.Duration
	NavigationTimeout     time.Duration
	SettleDelay           time.Duration
	DownloadTimeout       time.Duration
	ExportDownloadTimeout time.Duration
	ResultsTimeout        time.Duration
	SpinnerTimeout        time.Duration

	PageSizeSelector string
	PageSize         string

	ScreenshotsDir string
	DebugDir       string
}

// OptionsFromConfig maps the portal and harvest settings onto client options
func OptionsFromConfig(cfg *config.Config, paths *config.Paths) Options {
	return Options{
		BaseURL:               cfg.Portal.BaseURL,
		DocumentURL:           cfg.Portal.DocumentURL,
		Timezone:              cfg.Portal.Timezone,
		LoadTimeout:           config.PageLoadTimeout,
		NavigationTimeout:     cfg.Portal.NavigationTimeout,
		SettleDelay:           cfg.Portal.SettleDelay,
		DownloadTimeout:       cfg.Harvest.DownloadTimeout,
		ExportDownloadTimeout: config.ExportDownloadLimit,
		ResultsTimeout:        config.ResultsWaitTimeout,
		SpinnerTimeout:        config.SpinnerWaitTimeout,
		PageSizeSelector:      config.DocumentPageSizeSelector,
		PageSize:              cfg.Harvest.PageSize,
		ScreenshotsDir:        paths.ScreenshotsDir,
		DebugDir:              paths.DebugDir,
	}
}

// Client runs the portal flows on one page
type Client struct {
	page   Page
	opts   Options
	loc    *time.Location
	logger *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client. An unknown timezone falls back to local time.
func NewClient(page Page, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	loc := time.Local
	if opts.Timezone != "" {
		if l, err := time.LoadLocation(opts.Timezone); err == nil {
			loc = l
		} else {
			logger.Warn("timezone_unavailable",
				slog.String("timezone", opts.Timezone),
				slog.String("error", err.Error()))
		}
	}
	return &Client{
		page:   page,
		opts:   opts,
		loc:    loc,
		logger: logger.With("component", "portal"),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// screenshot captures a milestone. Failures are logged and ignored.
func (c *Client) screenshot(ctx context.Context, name string) {
	if c.opts.ScreenshotsDir == "" {
		return
	}
	path := filepath.Join(c.opts.ScreenshotsDir, name+".png")
	if err := c.page.Screenshot(ctx, path); err != nil {
		c.logger.DebugContext(ctx, "screenshot_failed",
			slog.String("name", name),
			slog.String("error", err.Error()))
	}
}

// dumpDOM saves the page markup for debugging. Failures are logged and ignored.
func (c *Client) dumpDOM(ctx context.Context, name string) string {
	if c.opts.DebugDir == "" {
		return ""
	}
	path := filepath.Join(c.opts.DebugDir, name+".html")
	if err := c.page.DumpDOM(ctx, path); err != nil {
		c.logger.DebugContext(ctx, "dom_dump_failed",
			slog.String("name", name),
			slog.String("error", err.Error()))
		return ""
	}
	return path
}

// tryClick clicks the first control any strategy resolves within wait
func (c *Client) tryClick(ctx context.Context, wait time.Duration, strategies ...browser.Strategy) bool {
	ctl, err := c.page.FindControl(ctx, wait, strategies...)
	if err != nil {
		c.logger.DebugContext(ctx, "control_not_found",
			slog.String("strategies", browser.Describe(strategies)))
		return false
	}
	if err := c.page.Click(ctx, ctl); err != nil {
		c.logger.DebugContext(ctx, "click_failed",
			slog.String("control", ctl.String()),
			slog.String("error", err.Error()))
		return false
	}
	return true
}
