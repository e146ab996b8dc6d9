package operations

import (
	"time"
)

// Pipeline Step identifiers
const (
	StageIDExport  = "export"
	StageIDHarvest = "harvest"
	StageIDEnrich  = "enrich"
)

// Pipeline Step names
const (
	StageNameExport  = "Export Fetch"
	StageNameHarvest = "Attachment Harvest"
	StageNameEnrich  = "Enrichment"
)

// Context keys for operation state
const (
	ContextKeyExportPath   = "export_path"
	ContextKeyEnrichedPath = "enriched_path"
	ContextKeyRecords      = "records"
	ContextKeyDownloads    = "downloads"
	ContextKeyFailures     = "failures"
)

// Default timeouts. Zero means the Step only ends with the run context.
const (
	DefaultStageTimeout   = 30 * time.Minute
	DefaultExportTimeout  = 10 * time.Minute
	DefaultHarvestTimeout = 0
	DefaultEnrichTimeout  = 30 * time.Minute
)

// Config represents the pipeline execution configuration
type Config struct {
	// Step-specific timeouts
	StageTimeouts map[string]time.Duration
}

// NewConfig returns the default pipeline configuration
func NewConfig() *Config {
	return &Config{
		StageTimeouts: map[string]time.Duration{
			StageIDExport:  DefaultExportTimeout,
			StageIDHarvest: DefaultHarvestTimeout,
			StageIDEnrich:  DefaultEnrichTimeout,
		},
	}
}

// GetStageTimeout returns the timeout for a specific Step
func (c *Config) GetStageTimeout(stageID string) time.Duration {
	if timeout, ok := c.StageTimeouts[stageID]; ok {
		return timeout
	}
	return DefaultStageTimeout
}

// SetStageTimeout sets the timeout for a specific Step
func (c *Config) SetStageTimeout(stageID string, timeout time.Duration) {
	if c.StageTimeouts == nil {
		c.StageTimeouts = make(map[string]time.Duration)
	}
	c.StageTimeouts[stageID] = timeout
}

// Request represents a request to run the pipeline
type Request struct {
	ID          string `json:"id"`
	Days        int    `json:"days"`
	SkipExport  bool   `json:"skip_export"`
	SkipHarvest bool   `json:"skip_harvest"`
	SkipEnrich  bool   `json:"skip_enrich"`
	// ExportPath is reused when SkipExport is set. Empty means the newest
	// export in the output root.
	ExportPath string `json:"export_path,omitempty"`
	// MaxRecords caps the number of records harvested; zero means no cap
	MaxRecords int `json:"max_records,omitempty"`
	// RetryLimit overrides the configured download retry limit when > 0
	RetryLimit int `json:"retry_limit,omitempty"`
}

// StepSnapshot is the serialisable view of a StepState
type StepSnapshot struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    StepStatus     `json:"status"`
	StartTime *time.Time     `json:"start_time,omitempty"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
	Progress  float64        `json:"progress"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Response represents the outcome of a pipeline run
type Response struct {
	ID           string               `json:"id"`
	Status       OperationStatusValue `json:"status"`
	Duration     time.Duration        `json:"duration"`
	Steps        []StepSnapshot       `json:"steps"`
	ExportPath   string               `json:"export_path,omitempty"`
	EnrichedPath string               `json:"enriched_path,omitempty"`
	Records      int                  `json:"records"`
	Downloads    int                  `json:"downloads"`
	Failures     int                  `json:"failures"`
	Error        string               `json:"error,omitempty"`
}
