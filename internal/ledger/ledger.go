// Package ledger records which attachments have already been downloaded so a
// (record, file) pair is fetched at most once across runs.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"devharvest/internal/config"
	"devharvest/internal/tabular"
	"devharvest/pkg/contracts/domain"
)

// Store columns
const (
	ColRecordID     = "record_id"
	ColFileName     = "file_name"
	ColFilePath     = "file_path"
	ColDownloadedAt = "downloaded_at"

	// legacyColRecordID is accepted in place of ColRecordID when reading
	legacyColRecordID = "app_no"
)

var storeHeaders = []string{ColRecordID, ColFileName, ColFilePath, ColDownloadedAt}

// Ledger is the CSV-backed download ledger. Every operation reads the whole
// store and Append rewrites it; a mutex serialises callers in one process.
type Ledger struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// Open returns a ledger backed by path. The file does not have to exist.
func Open(path string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		path:   path,
		logger: logger.With("component", "ledger"),
		now:    time.Now,
	}
}

// Path returns the backing file
func (l *Ledger) Path() string {
	return l.path
}

// IsLogged reports whether the pair has been recorded. An unreadable store
// counts as empty.
func (l *Ledger) IsLogged(recordID, fileName string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.load() {
		if e.RecordID == recordID && e.FileName == fileName {
			return true
		}
	}
	return false
}

// Append records a completed download. Appending a pair that is already
// present is a no-op.
func (l *Ledger) Append(recordID, fileName, filePath string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.load()
	for _, e := range entries {
		if e.RecordID == recordID && e.FileName == fileName {
			l.logger.Debug("ledger_entry_exists",
				slog.String("record_id", recordID),
				slog.String("file", fileName))
			return nil
		}
	}

	entries = append(entries, domain.LedgerEntry{
		RecordID:     recordID,
		FileName:     fileName,
		FilePath:     filePath,
		DownloadedAt: l.now(),
	})

	if err := l.save(entries); err != nil {
		return fmt.Errorf("failed to save ledger: %w", err)
	}

	l.logger.Debug("ledger_entry_appended",
		slog.String("record_id", recordID),
		slog.String("file", fileName),
		slog.Int("entries", len(entries)))
	return nil
}

// Entries returns a snapshot of the store
func (l *Ledger) Entries() []domain.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

// load reads the store. Any failure is logged and treated as an empty ledger.
func (l *Ledger) load() []domain.LedgerEntry {
	table, err := tabular.ReadCSV(l.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			l.logger.Warn("ledger_unreadable",
				slog.String("path", l.path),
				slog.String("error", err.Error()))
		}
		return nil
	}

	idCol := table.Index(ColRecordID)
	if idCol < 0 {
		idCol = table.Index(legacyColRecordID)
	}
	nameCol := table.Index(ColFileName)
	if idCol < 0 || nameCol < 0 {
		l.logger.Warn("ledger_missing_columns",
			slog.String("path", l.path),
			slog.Any("headers", table.Headers))
		return nil
	}
	pathCol := table.Index(ColFilePath)
	timeCol := table.Index(ColDownloadedAt)

	entries := make([]domain.LedgerEntry, 0, table.Len())
	for _, row := range table.Rows {
		e := domain.LedgerEntry{
			RecordID: row[idCol],
			FileName: row[nameCol],
		}
		if pathCol >= 0 {
			e.FilePath = row[pathCol]
		}
		if timeCol >= 0 {
			if ts, err := time.ParseInLocation(config.LedgerTimeLayout, row[timeCol], time.Local); err == nil {
				e.DownloadedAt = ts
			}
		}
		entries = append(entries, e)
	}
	return entries
}

func (l *Ledger) save(entries []domain.LedgerEntry) error {
	table := tabular.New(storeHeaders...)
	for _, e := range entries {
		table.Append(e.RecordID, e.FileName, e.FilePath, e.DownloadedAt.Format(config.LedgerTimeLayout))
	}
	return tabular.WriteCSV(l.path, table)
}
