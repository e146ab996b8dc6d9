package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"devharvest/internal/enrich"
	"devharvest/internal/files"
	"devharvest/internal/harvest"
	"devharvest/internal/infrastructure"
	"devharvest/internal/portal"
	"devharvest/pkg/contracts/domain"
)

// ErrNoExport is returned when skip-export finds nothing to reuse
var ErrNoExport = files.ErrNoExport

// ExportFetcher retrieves a fresh export from the portal
type ExportFetcher interface {
	FetchExport(ctx context.Context, req portal.ExportRequest) (*portal.ExportResult, error)
}

// ExportLocator finds a previously saved export
type ExportLocator interface {
	LatestExport(dir string) (files.FileInfo, error)
}

// RecordSource turns an export file into record descriptors
type RecordSource interface {
	ExtractFile(path string) ([]domain.RecordDescriptor, error)
}

// RecordHarvester downloads the attachments of each record
type RecordHarvester interface {
	Run(ctx context.Context, descs []domain.RecordDescriptor) (*harvest.Summary, error)
	OnProgress(fn harvest.ProgressFunc)
	SetRetryLimit(n int)
}

// ReportMerger joins attachment text onto an export
type ReportMerger interface {
	Merge(ctx context.Context, exportPath string) (*enrich.Result, error)
}

// ExportStage fetches the export or, when asked to skip, resolves the one
// to reuse. Either failure aborts the run.
type ExportStage struct {
	BaseStage
	fetcher     ExportFetcher
	locator     ExportLocator
	outputDir   string
	defaultDays int
	now         func() time.Time
	logger      *slog.Logger
}

// NewExportStage creates the export Step. fetcher may be nil when the run
// only ever reuses existing exports.
func NewExportStage(fetcher ExportFetcher, locator ExportLocator, outputDir string, defaultDays int, logger *slog.Logger) *ExportStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportStage{
		BaseStage:   NewBaseStage(StageIDExport, StageNameExport),
		fetcher:     fetcher,
		locator:     locator,
		outputDir:   outputDir,
		defaultDays: defaultDays,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "export_stage")),
	}
}

// Validate refuses to fetch without a fetcher
func (s *ExportStage) Validate(state *OperationState) error {
	if !state.Request.SkipExport && s.fetcher == nil {
		return NewFatalError(s.ID(), "no export fetcher configured", nil)
	}
	return nil
}

// Execute runs the export Step
func (s *ExportStage) Execute(ctx context.Context, state *OperationState) error {
	step := state.GetStage(s.ID())
	req := state.Request

	if req.SkipExport {
		path, err := s.reuse(req.ExportPath)
		if err != nil {
			return NewFatalError(s.ID(), "no export to reuse", err)
		}
		state.SetContext(ContextKeyExportPath, path)
		step.SetMetadata("reused", true)
		step.UpdateProgress(100, "reusing "+filepath.Base(path))
		s.logger.InfoContext(ctx, "export_reused", slog.String("path", path))
		return nil
	}

	days := req.Days
	if days <= 0 {
		days = s.defaultDays
	}
	dest := filepath.Join(s.outputDir, portal.ExportFileName(days, s.now()))
	step.UpdateProgress(0, fmt.Sprintf("fetching last %d days", days))

	result, err := s.fetcher.FetchExport(ctx, portal.ExportRequest{Days: days, Dest: dest, Strict: true})
	if result != nil {
		step.SetMetadata("dates_applied", result.DatesApplied)
		step.SetMetadata("results_visible", result.ResultsVisible)
		if result.DebugDump != "" {
			step.SetMetadata("debug_dump", result.DebugDump)
		}
	}
	if err != nil {
		// a stage deadline leaves the run without an export
		if errors.Is(ctx.Err(), context.Canceled) {
			return err
		}
		return NewFatalError(s.ID(), "export fetch failed", err)
	}

	state.SetContext(ContextKeyExportPath, result.Path)
	step.SetMetadata("size_bytes", result.Size)
	return nil
}

func (s *ExportStage) reuse(path string) (string, error) {
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrNoExport, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%w: %s is a directory", ErrNoExport, path)
		}
		return path, nil
	}
	latest, err := s.locator.LatestExport(s.outputDir)
	if err != nil {
		return "", err
	}
	return latest.Path, nil
}

// HarvestStage extracts records from the export and harvests their
// attachments in order
type HarvestStage struct {
	BaseStage
	source    RecordSource
	harvester RecordHarvester
	metrics   *infrastructure.HarvestMetrics
	logger    *slog.Logger
}

// NewHarvestStage creates the harvest Step. metrics may be nil.
func NewHarvestStage(source RecordSource, harvester RecordHarvester, metrics *infrastructure.HarvestMetrics, logger *slog.Logger) *HarvestStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &HarvestStage{
		BaseStage: NewBaseStage(StageIDHarvest, StageNameHarvest),
		source:    source,
		harvester: harvester,
		metrics:   metrics,
		logger:    logger.With(slog.String("component", "harvest_stage")),
	}
}

// Validate skips the Step when the request disables harvesting
func (s *HarvestStage) Validate(state *OperationState) error {
	if state.Request.SkipHarvest {
		return NewSkippedError(s.ID(), "harvesting disabled", nil)
	}
	return nil
}

// Execute runs the harvest Step
func (s *HarvestStage) Execute(ctx context.Context, state *OperationState) error {
	step := state.GetStage(s.ID())
	req := state.Request

	exportPath := state.GetString(ContextKeyExportPath)
	if exportPath == "" {
		return NewSkippedError(s.ID(), "no export available", nil)
	}

	descs, err := s.source.ExtractFile(exportPath)
	if err != nil {
		return fmt.Errorf("failed to extract records from %s: %w", exportPath, err)
	}
	s.metrics.RecordRecords(ctx, len(descs))

	if len(descs) == 0 {
		s.logger.WarnContext(ctx, "no_records_found", slog.String("export", exportPath))
		return NewSkippedError(s.ID(), "export contains no record identifiers", nil)
	}

	if req.MaxRecords > 0 && len(descs) > req.MaxRecords {
		s.logger.InfoContext(ctx, "records_capped",
			slog.Int("found", len(descs)),
			slog.Int("max_records", req.MaxRecords))
		descs = descs[:req.MaxRecords]
	}
	state.SetContext(ContextKeyRecords, len(descs))

	if req.RetryLimit > 0 {
		s.harvester.SetRetryLimit(req.RetryLimit)
	}

	tracker := NewProgressTracker(step, len(descs))
	s.harvester.OnProgress(func(done, total int, recordID string) {
		tracker.Update(done, fmt.Sprintf("%d/%d records, last %s", done, total, recordID))
		state.Notify()
	})
	defer s.harvester.OnProgress(nil)

	summary, err := s.harvester.Run(ctx, descs)
	if summary != nil {
		state.SetContext(ContextKeyDownloads, summary.Downloaded)
		state.SetContext(ContextKeyFailures, summary.Failed)
		step.SetMetadata("records", summary.Records)
		step.SetMetadata("downloaded", summary.Downloaded)
		step.SetMetadata("skipped", summary.Skipped)
		step.SetMetadata("failed", summary.Failed)
		step.SetMetadata("listing_errors", summary.ListingErrors)

		s.logger.InfoContext(ctx, "harvest_summary",
			slog.Int("records", summary.Records),
			slog.Int("downloaded", summary.Downloaded),
			slog.Int("skipped", summary.Skipped),
			slog.Int("failed", summary.Failed),
			slog.Int("listing_errors", summary.ListingErrors))
	}
	return err
}

// EnrichStage writes the enriched report
type EnrichStage struct {
	BaseStage
	merger ReportMerger
}

// NewEnrichStage creates the enrichment Step
func NewEnrichStage(merger ReportMerger) *EnrichStage {
	return &EnrichStage{
		BaseStage: NewBaseStage(StageIDEnrich, StageNameEnrich),
		merger:    merger,
	}
}

// Validate skips the Step when the request disables enrichment
func (s *EnrichStage) Validate(state *OperationState) error {
	if state.Request.SkipEnrich {
		return NewSkippedError(s.ID(), "enrichment disabled", nil)
	}
	return nil
}

// Execute runs the enrichment Step
func (s *EnrichStage) Execute(ctx context.Context, state *OperationState) error {
	step := state.GetStage(s.ID())

	exportPath := state.GetString(ContextKeyExportPath)
	if exportPath == "" {
		return NewSkippedError(s.ID(), "no export available", nil)
	}

	result, err := s.merger.Merge(ctx, exportPath)
	if errors.Is(err, enrich.ErrNoAttachments) {
		return NewSkippedError(s.ID(), "no attachment text to merge", err)
	}
	if err != nil {
		return err
	}

	state.SetContext(ContextKeyEnrichedPath, result.OutputPath)
	step.SetMetadata("rows", result.Rows)
	step.SetMetadata("matched_rows", result.Matched)
	step.SetMetadata("attachments", result.Attachments)
	if result.XLSXPath != "" {
		step.SetMetadata("xlsx_path", result.XLSXPath)
	}
	return nil
}
