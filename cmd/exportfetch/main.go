// Command exportfetch downloads a single Development.i records export
// without harvesting attachments.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"devharvest/internal/browser"
	"devharvest/internal/config"
	"devharvest/internal/infrastructure"
	"devharvest/internal/portal"
)

type cliOptions struct {
	days       int
	out        string
	headless   bool
	headed     bool
	configPath string
	set        map[string]bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (*cliOptions, error) {
	o := &cliOptions{}
	fs := flag.NewFlagSet("exportfetch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&o.days, "days", config.DefaultExportDays, "export window in days")
	fs.StringVar(&o.out, "out", "", "destination file (default: <output dir>/<dated export name>)")
	fs.BoolVar(&o.headless, "headless", true, "run the browser headless")
	fs.BoolVar(&o.headed, "headed", false, "show the browser window (overrides --headless)")
	fs.StringVar(&o.configPath, "config", "", "optional YAML config file")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if o.days <= 0 {
		return nil, fmt.Errorf("--days must be positive, got %d", o.days)
	}

	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// destination resolves where the export is written
func destination(o *cliOptions, outputDir string, days int, now time.Time) string {
	if o.out != "" {
		return o.out
	}
	return filepath.Join(outputDir, portal.ExportFileName(days, now))
}

func run(args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return config.ExitOK
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return config.ExitFatal
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return config.ExitFatal
	}
	if o.set["days"] {
		cfg.Portal.ExportDays = o.days
	}
	if o.set["headless"] {
		cfg.Portal.Headless = o.headless
	}
	if o.headed {
		cfg.Portal.Headless = false
	}
	cfg.Portal.ViewportWidth = config.FetcherViewportWidth
	cfg.Portal.ViewportHeight = config.FetcherViewportHeight

	paths, err := config.Initialize(cfg.Paths)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to prepare directories: %v\n", err)
		return config.ExitFatal
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = filepath.Join(paths.LogsDir, config.DefaultLogFileName)
	}
	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "Warning: failed to initialize logger, using default: %v\n", err)
		logger = slog.Default()
	}
	defer infrastructure.CloseLogFile()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := browser.NewSession(browser.Options{
		Headless:       cfg.Portal.Headless,
		ViewportWidth:  cfg.Portal.ViewportWidth,
		ViewportHeight: cfg.Portal.ViewportHeight,
		Timezone:       cfg.Portal.Timezone,
		Locale:         cfg.Portal.Locale,
		DownloadDir:    paths.StagingDir,
	}, logger)
	defer session.Close()

	client := portal.NewClient(session, portal.OptionsFromConfig(cfg, paths), logger)
	dest := destination(o, paths.OutputDir, cfg.Portal.ExportDays, time.Now())

	result, err := client.FetchExport(ctx, portal.ExportRequest{
		Days: cfg.Portal.ExportDays,
		Dest: dest,
	})
	if err != nil {
		logger.Error("export_fetch_failed", slog.String("error", err.Error()))
		printFailure(stderr, err, result, paths.ScreenshotsDir)
		return config.ExitFatal
	}

	fmt.Fprintf(stdout, "Saved export %s (%d bytes, %s to %s)\n", result.Path, result.Size, result.Start, result.End)
	if !result.DatesApplied {
		fmt.Fprintln(stdout, "Warning: the date range could not be applied; the export may use the portal default window")
	}
	return config.ExitOK
}

func printFailure(w io.Writer, err error, result *portal.ExportResult, screenshotsDir string) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if result != nil {
		fmt.Fprintf(w, "  dates applied:   %t\n", result.DatesApplied)
		fmt.Fprintf(w, "  results visible: %t\n", result.ResultsVisible)
		if result.DebugDump != "" {
			fmt.Fprintf(w, "  page dump:       %s\n", result.DebugDump)
		}
	}
	fmt.Fprintf(w, "  screenshots:     %s\n", screenshotsDir)
}
