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
	"regexp"
	"runtime/debug"
	"syscall"

	"golang.org/x/sync/errgroup"

	"devharvest/internal/browser"
	"devharvest/internal/config"
	"devharvest/internal/download"
	"devharvest/internal/enrich"
	"devharvest/internal/files"
	"devharvest/internal/harvest"
	"devharvest/internal/infrastructure"
	"devharvest/internal/ledger"
	"devharvest/internal/operations"
	"devharvest/internal/pdftext"
	"devharvest/internal/portal"
	"devharvest/internal/records"
	transport "devharvest/internal/transport/http"
	"devharvest/internal/websocket"
)

// cliOptions holds the parsed command line
type cliOptions struct {
	days       int
	headless   bool
	headed     bool
	skipCSV    bool
	skipForms  bool
	skipEnrich bool
	csvPath    string
	maxApps    int
	retryLimit int
	out        string
	configPath string
	statusAddr string

	// set records which flags were given explicitly
	set map[string]bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (*cliOptions, error) {
	o := &cliOptions{}
	fs := flag.NewFlagSet("harvester", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&o.days, "days", config.DefaultExportDays, "export window in days")
	fs.BoolVar(&o.headless, "headless", true, "run the browser headless")
	fs.BoolVar(&o.headed, "headed", false, "show the browser window (overrides --headless)")
	fs.BoolVar(&o.skipCSV, "skip-csv", false, "reuse an existing export instead of fetching one")
	fs.BoolVar(&o.skipForms, "skip-forms", false, "skip attachment harvesting")
	fs.BoolVar(&o.skipEnrich, "skip-enrich", false, "skip the enriched report")
	fs.StringVar(&o.csvPath, "csv-path", "", "export to reuse with --skip-csv (default: newest in --out)")
	fs.IntVar(&o.maxApps, "max-apps", 0, "harvest at most this many records (0 = all)")
	fs.IntVar(&o.retryLimit, "retry-limit", config.DefaultRetryLimit, "download attempts per attachment (minimum 1)")
	fs.StringVar(&o.out, "out", "", "output root (default from config)")
	fs.StringVar(&o.configPath, "config", "", "optional YAML config file")
	fs.StringVar(&o.statusAddr, "status-addr", "", "serve /healthz, /metrics and /status on this address")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	o.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o, nil
}

// applyFlags overrides configuration values with explicitly given flags
func applyFlags(cfg *config.Config, o *cliOptions) {
	if o.set["days"] {
		cfg.Portal.ExportDays = o.days
	}
	if o.set["headless"] {
		cfg.Portal.Headless = o.headless
	}
	if o.headed {
		cfg.Portal.Headless = false
	}
	if o.set["retry-limit"] {
		cfg.Harvest.RetryLimit = max(1, o.retryLimit)
	}
	if o.set["max-apps"] {
		cfg.Harvest.MaxRecords = o.maxApps
	}
	if o.out != "" {
		cfg.Paths.OutputDir = o.out
	}
	if o.statusAddr != "" {
		cfg.Telemetry.StatusAddr = o.statusAddr
	}
}

// request builds the pipeline request from the effective configuration
func request(cfg *config.Config, o *cliOptions) operations.Request {
	return operations.Request{
		Days:        cfg.Portal.ExportDays,
		SkipExport:  o.skipCSV,
		SkipHarvest: o.skipForms,
		SkipEnrich:  o.skipEnrich,
		ExportPath:  o.csvPath,
		MaxRecords:  cfg.Harvest.MaxRecords,
		RetryLimit:  cfg.Harvest.RetryLimit,
	}
}

func run(args []string, stdout, stderr io.Writer) (code int) {
	var logger *slog.Logger
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(stderr, "PANIC RECOVERED: %v\n%s\n", r, debug.Stack())
			if logger != nil {
				logger.Error("harvester_panicked",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
			}
			code = config.ExitFatal
		}
	}()

	o, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return config.ExitOK
		}
		return config.ExitFatal
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return config.ExitFatal
	}
	applyFlags(cfg, o)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: invalid configuration: %v\n", err)
		return config.ExitFatal
	}

	paths, err := config.Initialize(cfg.Paths)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to prepare directories: %v\n", err)
		return config.ExitFatal
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = filepath.Join(paths.LogsDir, config.DefaultLogFileName)
	}

	logger, err = infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "Warning: failed to initialize logger, using default: %v\n", err)
		logger = slog.Default()
	}
	defer infrastructure.CloseLogFile()

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		logger.Error("otel_init_failed", slog.String("error", err.Error()))
		return config.ExitFatal
	}
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			logger.Warn("otel_shutdown_failed", slog.String("error", err.Error()))
		}
	}()

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
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("browser_close_failed", slog.String("error", err.Error()))
		}
	}()

	manager, err := buildPipeline(cfg, paths, session, providers, logger)
	if err != nil {
		logger.Error("pipeline_setup_failed", slog.String("error", err.Error()))
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return config.ExitFatal
	}

	resp, err := execute(ctx, cfg, manager, providers, request(cfg, o), logger)
	printSummary(stdout, resp)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if operations.IsFatal(err) {
			return config.ExitFatal
		}
	}
	return config.ExitOK
}

// buildPipeline wires every component of a run into a manager
func buildPipeline(cfg *config.Config, paths *config.Paths, session *browser.Session, providers *infrastructure.OTelProviders, logger *slog.Logger) (*operations.Manager, error) {
	ids, err := records.NewExtractor(cfg.Harvest.RecordIDPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid record id pattern: %w", err)
	}
	docPattern, err := regexp.Compile(cfg.Harvest.DocTypePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid document type pattern: %w", err)
	}

	client := portal.NewClient(session, portal.OptionsFromConfig(cfg, paths), logger)

	policy := download.NewPolicy(cfg.Harvest.RetryLimit, cfg.Harvest.RetryBackoff, logger)
	policy.AttemptTimeout = cfg.Harvest.DownloadTimeout
	if cfg.Harvest.ValidatePDF {
		policy.Verify = pdftext.VerifyDownload
	}

	harvester := harvest.NewHarvester(client, ledger.Open(paths.LedgerFile, logger), policy, harvest.Options{
		OutputRoot:    paths.OutputDir,
		DocPattern:    docPattern,
		DocFolder:     cfg.Harvest.DocTypeFolder,
		MaxNameLength: config.MaxFileNameLength,
		MaxAddrLength: config.MaxAddressLength,
		Pacing:        cfg.Harvest.DownloadPacing,
	}, providers.Metrics, logger)

	text := pdftext.NewPdfToText(cfg.Enrich.PdfToText)
	if !text.Available() {
		logger.Warn("pdftotext_unavailable", slog.String("binary", cfg.Enrich.PdfToText))
	}
	merger := enrich.NewMerger(enrich.Options{
		Root:       paths.OutputDir,
		Extensions: cfg.Enrich.Extensions,
		MaxChars:   cfg.Enrich.MaxChars,
		CountPages: cfg.Enrich.CountPages,
		WriteXLSX:  cfg.Enrich.WriteXLSX,
	}, ids, text, providers.Metrics, logger)

	discovery := files.NewDiscovery(paths.OutputDir, filepath.Base(paths.LedgerFile))

	manager := operations.NewManager(nil, nil, operations.NewOperationTracer(providers), logger)
	for _, step := range []operations.Step{
		operations.NewExportStage(client, discovery, paths.OutputDir, cfg.Portal.ExportDays, logger),
		operations.NewHarvestStage(ids, harvester, providers.Metrics, logger),
		operations.NewEnrichStage(merger),
	} {
		if err := manager.RegisterStage(step); err != nil {
			return nil, err
		}
	}
	return manager, nil
}

// execute runs the pipeline, alongside the status server and its snapshot
// stream when one is configured. The server stops once the run is over.
func execute(ctx context.Context, cfg *config.Config, manager *operations.Manager, providers *infrastructure.OTelProviders, req operations.Request, logger *slog.Logger) (*operations.Response, error) {
	if cfg.Telemetry.StatusAddr == "" {
		return manager.Execute(ctx, req)
	}

	hub := websocket.NewHub(logger)
	hub.Start()
	defer hub.Stop()
	manager.OnUpdate(func(resp *operations.Response) {
		hub.BroadcastWithTrace(websocket.TypeRunSnapshot, resp, resp.ID)
	})

	router := transport.NewRouter(transport.RouterDeps{
		Status:  manager,
		Metrics: providers.PrometheusHTTP,
		Events:  websocket.Handler(hub, logger),
		Version: config.AppVersion,
		Logger:  logger,
	})
	server := transport.NewServer(cfg.Telemetry.StatusAddr, router, logger)

	g, gctx := errgroup.WithContext(ctx)
	serverCtx, stopServer := context.WithCancel(gctx)
	defer stopServer()

	var (
		resp   *operations.Response
		runErr error
	)
	g.Go(func() error {
		return server.Run(serverCtx)
	})
	g.Go(func() error {
		defer stopServer()
		resp, runErr = manager.Execute(gctx, req)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("status_server_failed", slog.String("error", err.Error()))
	}
	return resp, runErr
}

func printSummary(w io.Writer, resp *operations.Response) {
	if resp == nil {
		return
	}
	fmt.Fprintf(w, "Run %s: %s in %s\n", resp.ID, resp.Status, resp.Duration.Round(1e6))
	for _, s := range resp.Steps {
		line := fmt.Sprintf("  %-8s %s", s.ID, s.Status)
		if s.Message != "" {
			line += " (" + s.Message + ")"
		}
		if s.Error != "" {
			line += ": " + s.Error
		}
		fmt.Fprintln(w, line)
	}
	if resp.ExportPath != "" {
		fmt.Fprintf(w, "Export:    %s\n", resp.ExportPath)
	}
	fmt.Fprintf(w, "Records:   %d\n", resp.Records)
	fmt.Fprintf(w, "Downloads: %d (failed %d)\n", resp.Downloads, resp.Failures)
	if resp.EnrichedPath != "" {
		fmt.Fprintf(w, "Enriched:  %s\n", resp.EnrichedPath)
	}
}
