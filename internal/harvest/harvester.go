package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"golang.org/x/time/rate"

	"devharvest/internal/download"
	"devharvest/internal/infrastructure"
	"devharvest/pkg/contracts/domain"
)

// Ledger is the part of the download ledger the harvester needs
type Ledger interface {
	IsLogged(recordID, fileName string) bool
	Append(recordID, fileName, filePath string) error
}

// Options configures a Harvester
type Options struct {
	OutputRoot    string
	DocPattern    *regexp.Regexp
	DocFolder     string
	MaxNameLength int
	MaxAddrLength int
	// Pacing is the minimum gap between two download triggers
	Pacing time.Duration
}

// Harvester downloads the matching attachments of one record at a time
type Harvester struct {
	listing Listing
	ledger  Ledger
	policy  *download.Policy
	opts    Options
	limiter *rate.Limiter
	metrics *infrastructure.HarvestMetrics
	logger  *slog.Logger
	onDone  ProgressFunc
}

// ProgressFunc is called after each record of a Run finishes
type ProgressFunc func(done, total int, recordID string)

// NewHarvester wires a harvester. metrics may be nil.
func NewHarvester(listing Listing, ledger Ledger, policy *download.Policy, opts Options, metrics *infrastructure.HarvestMetrics, logger *slog.Logger) *Harvester {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if opts.Pacing > 0 {
		limit = rate.Every(opts.Pacing)
	}
	return &Harvester{
		listing: listing,
		ledger:  ledger,
		policy:  policy,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		metrics: metrics,
		logger:  logger.With("component", "harvester"),
	}
}

// OnProgress registers fn to be called after each record of a Run
func (h *Harvester) OnProgress(fn ProgressFunc) {
	h.onDone = fn
}

// SetRetryLimit overrides the download retry limit. Values below one are
// raised to one.
func (h *Harvester) SetRetryLimit(n int) {
	h.policy.Limit = max(1, n)
}

// Report describes what happened to one record's document listing
type Report struct {
	RecordID    string                  `json:"record_id"`
	Folder      string                  `json:"folder"`
	RowsScanned int                     `json:"rows_scanned"`
	Results     []domain.DownloadResult `json:"results"`
}

// Count returns how many results ended in status
func (r *Report) Count(status domain.DownloadStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Harvest opens the record's listing, queues the matching rows and downloads
// each one under the retry policy. The error is non-nil only when the listing
// itself could not be read or ctx ended; per-file failures are in the report.
func (h *Harvester) Harvest(ctx context.Context, desc domain.RecordDescriptor) (*Report, error) {
	logger := h.logger.With(slog.String("record_id", desc.RecordID))

	if err := h.listing.OpenListing(ctx, desc.RecordID); err != nil {
		return nil, fmt.Errorf("failed to open document listing for %s: %w", desc.RecordID, err)
	}
	rows, err := h.listing.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read document listing for %s: %w", desc.RecordID, err)
	}

	folder := RecordFolder(h.opts.OutputRoot, desc.RecordID, desc.Address, h.opts.DocFolder, h.opts.MaxAddrLength)
	report := &Report{RecordID: desc.RecordID, Folder: folder, RowsScanned: len(rows)}

	candidates := Plan(desc, rows, h.opts.DocPattern, folder, h.opts.MaxNameLength)
	logger.InfoContext(ctx, "document_rows_scanned",
		slog.Int("rows", len(rows)),
		slog.Int("matched", len(candidates)))

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if reason, skip := h.skipReason(desc.RecordID, c); skip {
			logger.DebugContext(ctx, "document_skipped",
				slog.String("file", c.SafeName),
				slog.String("reason", string(reason)))
			h.metrics.RecordSkip(ctx, string(reason))
			report.Results = append(report.Results, domain.DownloadResult{
				Target:   c.Target,
				FileName: c.SafeName,
				FilePath: c.FinalPath,
				Status:   domain.DownloadStatusSkipped,
				Reason:   reason,
			})
			continue
		}

		result, err := h.fetch(ctx, logger, c)
		report.Results = append(report.Results, result)
		if err != nil {
			return report, err
		}
	}

	logger.InfoContext(ctx, "record_harvested",
		slog.Int("downloaded", report.Count(domain.DownloadStatusDownloaded)),
		slog.Int("skipped", report.Count(domain.DownloadStatusSkipped)),
		slog.Int("failed", report.Count(domain.DownloadStatusFailed)))
	return report, nil
}

func (h *Harvester) skipReason(recordID string, c Candidate) (domain.SkipReason, bool) {
	if _, err := os.Stat(c.FinalPath); err == nil {
		return domain.SkipReasonOnDisk, true
	}
	if h.ledger.IsLogged(recordID, c.SafeName) {
		return domain.SkipReasonLedger, true
	}
	return "", false
}

// fetch downloads one candidate. It only returns an error when ctx ended.
func (h *Harvester) fetch(ctx context.Context, logger *slog.Logger, c Candidate) (domain.DownloadResult, error) {
	result := domain.DownloadResult{
		Target:   c.Target,
		FileName: c.SafeName,
		FilePath: c.FinalPath,
	}

	if err := h.limiter.Wait(ctx); err != nil {
		result.Status = domain.DownloadStatusFailed
		result.Error = err.Error()
		return result, ctx.Err()
	}

	attempts, err := h.policy.Fetch(ctx, c.FinalPath, func(ctx context.Context) (download.Artifact, error) {
		return h.listing.Download(ctx, c.Target)
	})
	result.Attempts = attempts

	if err != nil {
		result.Status = domain.DownloadStatusFailed
		result.Error = err.Error()
		h.metrics.RecordDownload(ctx, string(domain.DownloadStatusFailed), attempts)

		if ctx.Err() != nil && !errors.Is(err, download.ErrExhausted) {
			return result, ctx.Err()
		}
		logger.ErrorContext(ctx, "document_download_failed",
			slog.String("file", c.Target.FileName),
			slog.Int("attempts", attempts),
			slog.String("error", err.Error()))
		return result, nil
	}

	result.Status = domain.DownloadStatusDownloaded
	h.metrics.RecordDownload(ctx, string(domain.DownloadStatusDownloaded), attempts)

	if err := h.ledger.Append(c.Target.RecordID, c.SafeName, c.FinalPath); err != nil {
		// the file is in place, so the on-disk check still prevents a re-download
		logger.ErrorContext(ctx, "ledger_append_failed",
			slog.String("file", c.SafeName),
			slog.String("error", err.Error()))
	}

	logger.InfoContext(ctx, "document_downloaded",
		slog.String("file", c.SafeName),
		slog.String("path", c.FinalPath),
		slog.Int("attempts", attempts))
	return result, nil
}

// Summary aggregates the reports of a harvest run
type Summary struct {
	Records       int       `json:"records"`
	Reports       []*Report `json:"reports"`
	Downloaded    int       `json:"downloaded"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
	ListingErrors int       `json:"listing_errors"`
}

// Run harvests each descriptor in order. A record whose listing cannot be
// opened is logged and counted; processing moves on to the next record.
func (h *Harvester) Run(ctx context.Context, descs []domain.RecordDescriptor) (*Summary, error) {
	summary := &Summary{}

	for i, desc := range descs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Records++

		h.logger.InfoContext(ctx, "record_started",
			slog.String("record_id", desc.RecordID),
			slog.Int("index", i+1),
			slog.Int("total", len(descs)))

		report, err := h.Harvest(ctx, desc)
		if report != nil {
			summary.Reports = append(summary.Reports, report)
			summary.Downloaded += report.Count(domain.DownloadStatusDownloaded)
			summary.Skipped += report.Count(domain.DownloadStatusSkipped)
			summary.Failed += report.Count(domain.DownloadStatusFailed)
		}
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.ListingErrors++
			h.logger.WarnContext(ctx, "record_listing_failed",
				slog.String("record_id", desc.RecordID),
				slog.String("error", err.Error()))
		}
		if h.onDone != nil {
			h.onDone(i+1, len(descs), desc.RecordID)
		}
	}

	return summary, nil
}
