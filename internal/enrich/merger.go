package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"devharvest/internal/files"
	"devharvest/internal/infrastructure"
	"devharvest/internal/pdftext"
	"devharvest/internal/records"
	"devharvest/internal/tabular"
	"devharvest/pkg/contracts/domain"
)

// Columns added to the enriched report
const (
	ColRecordID   = "Application_No"
	ColRawText    = "RawText"
	ColSourceFile = "Source_File"
	ColPageCount  = "Page_Count"
)

const stampLayout = "20060102_150405"

// ErrNoAttachments means there was nothing to merge. It is a no-op outcome,
// not a failure, and no output file is written.
var ErrNoAttachments = errors.New("enrich: no attachment text to merge")

// Options configures a Merger
type Options struct {
	// Root is searched recursively for attachments and receives the output
	Root       string
	Extensions []string
	// MaxChars caps the stored text per attachment, in runes
	MaxChars   int
	CountPages bool
	WriteXLSX  bool
}

// Merger builds attachment records from disk and joins them onto an export
type Merger struct {
	opts      Options
	ids       *records.Extractor
	text      pdftext.Extractor
	discovery *files.Discovery
	pages     func(path string) (int, error)
	metrics   *infrastructure.HarvestMetrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewMerger creates a merger. metrics may be nil.
func NewMerger(opts Options, ids *records.Extractor, text pdftext.Extractor, metrics *infrastructure.HarvestMetrics, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = []string{".pdf"}
	}
	return &Merger{
		opts:      opts,
		ids:       ids,
		text:      text,
		discovery: files.NewDiscovery(""),
		pages:     pdftext.PageCount,
		metrics:   metrics,
		logger:    logger.With("component", "enrich"),
		now:       time.Now,
	}
}

// Result describes one merge
type Result struct {
	ExportPath  string `json:"export_path"`
	OutputPath  string `json:"output_path,omitempty"`
	XLSXPath    string `json:"xlsx_path,omitempty"`
	Attachments int    `json:"attachments"`
	Rows        int    `json:"rows"`
	Matched     int    `json:"matched"`
	NoOp        bool   `json:"no_op"`
}

// Collect walks the root and returns one record per attachment with usable
// text, ordered by path. Files without a record id in their path, files whose
// text cannot be extracted and files with blank text are dropped.
func (m *Merger) Collect(ctx context.Context) ([]domain.AttachmentRecord, int, error) {
	found, err := m.discovery.FindAttachments(m.opts.Root, m.opts.Extensions)
	if err != nil {
		return nil, 0, err
	}

	var out []domain.AttachmentRecord
	for _, f := range found {
		if err := ctx.Err(); err != nil {
			return nil, len(found), err
		}

		rel, err := filepath.Rel(m.opts.Root, f.Path)
		if err != nil {
			rel = f.Path
		}
		id := m.ids.FindInText(rel)
		if id == "" {
			m.logger.DebugContext(ctx, "attachment_without_record_id", slog.String("path", f.Path))
			continue
		}

		text, err := m.text.ExtractText(ctx, f.Path)
		if err != nil {
			m.logger.WarnContext(ctx, "text_extraction_failed",
				slog.String("path", f.Path),
				slog.String("error", err.Error()))
			continue
		}
		text = pdftext.Truncate(text, m.opts.MaxChars)
		if strings.TrimSpace(text) == "" {
			m.logger.DebugContext(ctx, "attachment_without_text", slog.String("path", f.Path))
			continue
		}

		rec := domain.AttachmentRecord{RecordID: id, Text: text, SourceFile: f.Path}
		if m.opts.CountPages && strings.EqualFold(filepath.Ext(f.Path), ".pdf") {
			if n, err := m.pages(f.Path); err == nil {
				rec.PageCount = n
			}
		}
		out = append(out, rec)
	}
	return out, len(found), nil
}

// Join left-joins attachments onto t by record id. Existing columns that
// share a name with an enrichment column are replaced.
func Join(t *tabular.Table, attachments []domain.AttachmentRecord, ids *records.Extractor, withPages bool) (*tabular.Table, int) {
	added := []string{ColRecordID, ColRawText, ColSourceFile}
	if withPages {
		added = append(added, ColPageCount)
	}
	replaced := make(map[string]bool, len(added))
	for _, c := range added {
		replaced[c] = true
	}

	var keep []int
	var headers []string
	for i, h := range t.Headers {
		if replaced[h] {
			continue
		}
		keep = append(keep, i)
		headers = append(headers, h)
	}
	out := tabular.New(append(headers, added...)...)

	byID := make(map[string][]domain.AttachmentRecord)
	for _, a := range attachments {
		byID[a.RecordID] = append(byID[a.RecordID], a)
	}

	matched := 0
	for _, row := range t.Rows {
		base := make([]string, 0, len(out.Headers))
		for _, i := range keep {
			if i < len(row) {
				base = append(base, row[i])
			} else {
				base = append(base, "")
			}
		}

		id := ids.FindID(row)
		hits := byID[id]
		if id == "" || len(hits) == 0 {
			out.Append(append(base, id)...)
			continue
		}

		matched++
		for _, a := range hits {
			cells := append(append([]string(nil), base...), id, a.Text, a.SourceFile)
			if withPages {
				pages := ""
				if a.PageCount > 0 {
					pages = strconv.Itoa(a.PageCount)
				}
				cells = append(cells, pages)
			}
			out.Append(cells...)
		}
	}
	return out, matched
}

// OutputName returns "<stem>_enriched_<YYYYMMDD_HHMMSS>.csv"
func OutputName(exportPath string, at time.Time) string {
	base := filepath.Base(exportPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return stem + files.EnrichedMarker + at.Format(stampLayout) + ".csv"
}

// Merge enriches the export at exportPath and writes the result into the
// root. When there is nothing to merge it returns a no-op result together
// with ErrNoAttachments.
func (m *Merger) Merge(ctx context.Context, exportPath string) (*Result, error) {
	result := &Result{ExportPath: exportPath}

	export, err := tabular.ReadFile(exportPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}

	attachments, found, err := m.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect attachments: %w", err)
	}
	result.Attachments = len(attachments)

	if found == 0 {
		m.logger.WarnContext(ctx, "no_attachments_found", slog.String("root", m.opts.Root))
		result.NoOp = true
		return result, fmt.Errorf("%w: no attachment files under %s", ErrNoAttachments, m.opts.Root)
	}
	if len(attachments) == 0 {
		m.logger.WarnContext(ctx, "no_attachment_text", slog.Int("files", found))
		result.NoOp = true
		return result, fmt.Errorf("%w: %d files but no extractable text", ErrNoAttachments, found)
	}

	joined, matched := Join(export, attachments, m.ids, m.opts.CountPages)
	result.Rows = joined.Len()
	result.Matched = matched

	result.OutputPath = filepath.Join(m.opts.Root, OutputName(exportPath, m.now()))
	if err := tabular.WriteCSV(result.OutputPath, joined); err != nil {
		return nil, fmt.Errorf("failed to write enriched report: %w", err)
	}

	if m.opts.WriteXLSX {
		result.XLSXPath = files.ReplaceExt(result.OutputPath, ".xlsx")
		if err := tabular.WriteXLSX(result.XLSXPath, joined); err != nil {
			m.logger.WarnContext(ctx, "xlsx_companion_failed",
				slog.String("path", result.XLSXPath),
				slog.String("error", err.Error()))
			result.XLSXPath = ""
		}
	}

	m.metrics.RecordEnrichedRows(ctx, result.Rows)
	m.logger.InfoContext(ctx, "enriched_report_written",
		slog.String("path", result.OutputPath),
		slog.Int("rows", result.Rows),
		slog.Int("matched_rows", matched),
		slog.Int("attachments", len(attachments)))
	return result, nil
}
