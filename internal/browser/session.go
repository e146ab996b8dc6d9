package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// Options configures a Session
type Options struct {
	Headless       bool
	ViewportWidth  int
	ViewportHeight int
	Timezone       string
	Locale         string
	// DownloadDir receives browser downloads. The session owns it and removes
	// it on Close.
	DownloadDir string
	// ExecPath overrides the Chrome binary lookup
	ExecPath string
}

// Session is one Chrome tab shared by every step of a run
type Session struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  func()
	handles int

	dlMu    sync.Mutex
	pending *downloadWaiter
	orphans map[string]struct{}
}

// NewSession returns a session that starts Chrome on first use
func NewSession(opts Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{opts: opts, logger: logger.With("component", "browser")}
}

func (s *Session) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", s.opts.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
	)
	if s.opts.ViewportWidth > 0 && s.opts.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(s.opts.ViewportWidth, s.opts.ViewportHeight))
	}
	if s.opts.Locale != "" {
		opts = append(opts, chromedp.Flag("lang", s.opts.Locale))
	}
	if s.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.opts.ExecPath))
	}
	return opts
}

// Start launches Chrome if it is not running yet
func (s *Session) Start(ctx context.Context) error {
	_, err := s.browserContext(ctx)
	return err
}

func (s *Session) browserContext(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return s.ctx, nil
	}

	if s.opts.DownloadDir == "" {
		return nil, errors.New("browser: download directory not configured")
	}
	if err := os.MkdirAll(s.opts.DownloadDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), s.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	cancel := func() {
		browserCancel()
		allocCancel()
	}
	chromedp.ListenTarget(browserCtx, s.onEvent)

	setup := chromedp.Tasks{
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(s.opts.DownloadDir).
			WithEventsEnabled(true),
	}
	if s.opts.Timezone != "" {
		setup = append(setup, emulation.SetTimezoneOverride(s.opts.Timezone))
	}
	if s.opts.Locale != "" {
		setup = append(setup, emulation.SetLocaleOverride().WithLocale(s.opts.Locale))
	}
	if s.opts.ViewportWidth > 0 && s.opts.ViewportHeight > 0 {
		setup = append(setup, chromedp.EmulateViewport(int64(s.opts.ViewportWidth), int64(s.opts.ViewportHeight)))
	}

	// the first Run allocates the browser and must use the NewContext context
	stop := context.AfterFunc(ctx, cancel)
	err := chromedp.Run(browserCtx, setup)
	stop()
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	s.ctx = browserCtx
	s.cancel = cancel
	s.logger.Info("browser_started",
		slog.Bool("headless", s.opts.Headless),
		slog.String("timezone", s.opts.Timezone),
		slog.String("locale", s.opts.Locale))
	return browserCtx, nil
}

// run executes actions in the tab, bounded by ctx's cancellation and deadline
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	bctx, err := s.browserContext(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(bctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}

	err = chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads url and waits for the load event
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

// WaitReady waits until selector is present in the DOM
func (s *Session) WaitReady(ctx context.Context, selector string) error {
	return s.run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

// WaitVisible waits until an element matching selector is visible
func (s *Session) WaitVisible(ctx context.Context, selector string) error {
	return s.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// WaitHidden waits until no element matching selector is visible. Absent
// elements count as hidden.
func (s *Session) WaitHidden(ctx context.Context, selector string) error {
	expr := fmt.Sprintf(`!Array.from(document.querySelectorAll(%s)).some(el => !!(el.offsetWidth || el.offsetHeight || el.getClientRects().length))`,
		strconv.Quote(selector))
	var hidden bool
	return s.run(ctx, chromedp.Poll(expr, &hidden, chromedp.WithPollingInterval(200*time.Millisecond)))
}

// FindControl tries the strategies in rank order until one resolves to a
// visible element, polling until wait elapses.
func (s *Session) FindControl(ctx context.Context, wait time.Duration, strategies ...Strategy) (Control, error) {
	deadline := time.Now().Add(wait)
	for {
		for _, strategy := range strategies {
			handle := s.nextHandle()
			expr, err := resolveExpression(strategy, handle)
			if err != nil {
				return Control{}, err
			}
			var ok bool
			if err := s.run(ctx, chromedp.Evaluate(expr, &ok)); err != nil {
				if ctx.Err() != nil {
					return Control{}, ctx.Err()
				}
				continue
			}
			if ok {
				s.logger.Debug("control_resolved", slog.String("strategy", strategy.String()))
				return Control{Selector: handleSelector(handle), Strategy: strategy}, nil
			}
		}

		if !time.Now().Before(deadline) {
			return Control{}, fmt.Errorf("%w: tried %s", ErrControlNotFound, Describe(strategies))
		}
		select {
		case <-ctx.Done():
			return Control{}, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (s *Session) nextHandle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles++
	return strconv.Itoa(s.handles)
}

// Click scrolls the control into view and clicks it
func (s *Session) Click(ctx context.Context, c Control) error {
	return s.run(ctx,
		chromedp.ScrollIntoView(c.Selector, chromedp.ByQuery),
		chromedp.Click(c.Selector, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

// FillField replaces the control's value by typing into it
func (s *Session) FillField(ctx context.Context, c Control, value string) error {
	return s.run(ctx,
		chromedp.ScrollIntoView(c.Selector, chromedp.ByQuery),
		chromedp.Click(c.Selector, chromedp.ByQuery, chromedp.NodeVisible),
		chromedp.SetValue(c.Selector, "", chromedp.ByQuery),
		chromedp.SendKeys(c.Selector, value, chromedp.ByQuery),
	)
}

// Value returns the control's current value
func (s *Session) Value(ctx context.Context, c Control) (string, error) {
	var v string
	err := s.run(ctx, chromedp.Value(c.Selector, &v, chromedp.ByQuery))
	return v, err
}

// PressEnter sends an Enter key to the focused element
func (s *Session) PressEnter(ctx context.Context) error {
	return s.run(ctx, chromedp.KeyEvent(kb.Enter))
}

// SetInputValue assigns value to the first element matching selector and
// fires an input event. It reports false when nothing matched.
func (s *Session) SetInputValue(ctx context.Context, selector, value string) (bool, error) {
	expr := fmt.Sprintf(`(function(sel, value) {
		const el = document.querySelector(sel);
		if (!el) return false;
		el.value = value;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		return true;
	})(%s, %s)`, strconv.Quote(selector), strconv.Quote(value))
	var ok bool
	err := s.run(ctx, chromedp.Evaluate(expr, &ok))
	return ok, err
}

// SelectOption sets a <select> to value and fires a change event
func (s *Session) SelectOption(ctx context.Context, selector, value string) error {
	expr := fmt.Sprintf(`(function(sel, value) {
		const el = document.querySelector(sel);
		if (!el) return false;
		if (!Array.from(el.options || []).some(o => o.value === value)) return false;
		el.value = value;
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})(%s, %s)`, strconv.Quote(selector), strconv.Quote(value))
	var ok bool
	if err := s.run(ctx, chromedp.Evaluate(expr, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: select %s with option %q", ErrControlNotFound, selector, value)
	}
	return nil
}

// Evaluate runs a JavaScript expression and decodes its result into res
func (s *Session) Evaluate(ctx context.Context, expr string, res any) error {
	return s.run(ctx, chromedp.Evaluate(expr, res))
}

// OuterHTML returns the markup of the first element matching selector
func (s *Session) OuterHTML(ctx context.Context, selector string) (string, error) {
	var html string
	err := s.run(ctx, chromedp.OuterHTML(selector, &html, chromedp.ByQuery))
	return html, err
}

// Screenshot writes a full page PNG to path
func (s *Session) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return fmt.Errorf("failed to capture screenshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0644)
}

// DumpDOM writes the current document markup to path
func (s *Session) DumpDOM(ctx context.Context, path string) error {
	html, err := s.OuterHTML(ctx, "html")
	if err != nil {
		return fmt.Errorf("failed to read DOM: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(html), 0644)
}

// Close shuts Chrome down and removes the download directory
func (s *Session) Close() error {
	s.mu.Lock()
	cancel := s.cancel
	started := s.ctx != nil
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if started {
		s.logger.Info("browser_closed")
	}
	if s.opts.DownloadDir != "" {
		if err := os.RemoveAll(s.opts.DownloadDir); err != nil {
			return fmt.Errorf("failed to remove download directory: %w", err)
		}
	}
	return nil
}
