package domain

import (
	"time"
)

// RecordDescriptor identifies one application found in a portal export.
// Address is free text and may be empty.
type RecordDescriptor struct {
	RecordID string `json:"record_id" validate:"required"`
	Address  string `json:"address"`
}

// LedgerEntry is one row of the download ledger. The (RecordID, FileName)
// pair is unique across the whole ledger.
type LedgerEntry struct {
	RecordID     string    `json:"record_id"`
	FileName     string    `json:"file_name"`
	FilePath     string    `json:"file_path"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// DownloadTarget describes a single attachment that can be requested from a
// document listing. It is derived from the row's download trigger.
type DownloadTarget struct {
	RecordID string `json:"record_id"`
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	FileType string `json:"file_type"`
}

// DownloadStatus is the terminal state of one queued or skipped document row
type DownloadStatus string

const (
	DownloadStatusDownloaded DownloadStatus = "downloaded"
	DownloadStatusSkipped    DownloadStatus = "skipped"
	DownloadStatusFailed     DownloadStatus = "failed"
)

// SkipReason explains why a document row was not downloaded
type SkipReason string

const (
	SkipReasonOnDisk SkipReason = "on_disk"
	SkipReasonLedger SkipReason = "ledger"
)

// DownloadResult records what happened to one download target
type DownloadResult struct {
	Target   DownloadTarget `json:"target"`
	FileName string         `json:"file_name"`
	FilePath string         `json:"file_path"`
	Status   DownloadStatus `json:"status"`
	Reason   SkipReason     `json:"reason,omitempty"`
	Attempts int            `json:"attempts,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// AttachmentRecord is the text extracted from one attachment on disk,
// keyed by the record id found in its path.
type AttachmentRecord struct {
	RecordID   string `json:"record_id"`
	Text       string `json:"text"`
	SourceFile string `json:"source_file"`
	PageCount  int    `json:"page_count,omitempty"`
}
