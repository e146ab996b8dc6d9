package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Portal    PortalConfig    `yaml:"portal" envconfig:"PORTAL"`
	Harvest   HarvestConfig   `yaml:"harvest" envconfig:"HARVEST"`
	Enrich    EnrichConfig    `yaml:"enrich" envconfig:"ENRICH"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Telemetry TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// PortalConfig describes the records portal and the browser used to drive it
type PortalConfig struct {
	BaseURL           string        `yaml:"base_url" envconfig:"BASE_URL" validate:"required,url"`
	DocumentURL       string        `yaml:"document_url" envconfig:"DOCUMENT_URL" validate:"required,contains=%s"`
	Timezone          string        `yaml:"timezone" envconfig:"TIMEZONE"`
	Locale            string        `yaml:"locale" envconfig:"LOCALE"`
	ViewportWidth     int           `yaml:"viewport_width" envconfig:"VIEWPORT_WIDTH" validate:"gt=0"`
	ViewportHeight    int           `yaml:"viewport_height" envconfig:"VIEWPORT_HEIGHT" validate:"gt=0"`
	Headless          bool          `yaml:"headless" envconfig:"HEADLESS"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" envconfig:"NAVIGATION_TIMEOUT" validate:"gt=0"`
	SettleDelay       time.Duration `yaml:"settle_delay" envconfig:"SETTLE_DELAY" validate:"gte=0"`
	ExportDays        int           `yaml:"export_days" envconfig:"EXPORT_DAYS" validate:"gt=0"`
}

// HarvestConfig controls attachment discovery and the retry policy
type HarvestConfig struct {
	RecordIDPattern string        `yaml:"record_id_pattern" envconfig:"RECORD_ID_PATTERN" validate:"required"`
	DocTypePattern  string        `yaml:"doc_type_pattern" envconfig:"DOC_TYPE_PATTERN" validate:"required"`
	DocTypeFolder   string        `yaml:"doc_type_folder" envconfig:"DOC_TYPE_FOLDER" validate:"required"`
	RetryLimit      int           `yaml:"retry_limit" envconfig:"RETRY_LIMIT" validate:"min=1"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" envconfig:"RETRY_BACKOFF" validate:"gte=0"`
	DownloadTimeout time.Duration `yaml:"download_timeout" envconfig:"DOWNLOAD_TIMEOUT" validate:"gt=0"`
	DownloadPacing  time.Duration `yaml:"download_pacing" envconfig:"DOWNLOAD_PACING" validate:"gte=0"`
	PageSize        string        `yaml:"page_size" envconfig:"PAGE_SIZE"`
	MaxRecords      int           `yaml:"max_records" envconfig:"MAX_RECORDS" validate:"gte=0"`
	ValidatePDF     bool          `yaml:"validate_pdf" envconfig:"VALIDATE_PDF"`
}

// EnrichConfig controls text extraction and the enriched report
type EnrichConfig struct {
	MaxChars   int      `yaml:"max_chars" envconfig:"MAX_CHARS" validate:"gt=0"`
	Extensions []string `yaml:"extensions" envconfig:"EXTENSIONS" validate:"min=1,dive,startswith=."`
	PdfToText  string   `yaml:"pdftotext" envconfig:"PDFTOTEXT" validate:"required"`
	WriteXLSX  bool     `yaml:"write_xlsx" envconfig:"WRITE_XLSX"`
	CountPages bool     `yaml:"count_pages" envconfig:"COUNT_PAGES"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	OutputDir      string `yaml:"output_dir" envconfig:"OUTPUT_DIR" validate:"required"`
	LogsDir        string `yaml:"logs_dir" envconfig:"LOGS_DIR" validate:"required"`
	LedgerFileName string `yaml:"ledger_file" envconfig:"LEDGER_FILE" validate:"required,excludesall=/\\"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// TelemetryConfig selects exporters and the optional status listener
type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
	MetricExporter string `yaml:"metric_exporter" envconfig:"METRIC_EXPORTER" validate:"oneof=prometheus none"`
	StatusAddr     string `yaml:"status_addr" envconfig:"STATUS_ADDR"`
}

var validate = validator.New()

// Load builds the configuration from defaults, the optional YAML file at
// path and DEVI_* environment variables, in that order. An empty path or a
// missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Fields whose variable is unset keep the default or file value.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays the YAML file onto cfg
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// Validate checks struct constraints and normalises a few legacy values
func (c *Config) Validate() error {
	if c.Logging.Level == "warning" {
		c.Logging.Level = "warn"
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("logging.file_path is required when logging.output is file")
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("invalid %s: failed %q constraint", first.Namespace(), first.Tag())
		}
		return err
	}

	return nil
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Portal: PortalConfig{
			BaseURL:           DefaultBaseURL,
			DocumentURL:       DefaultDocumentURL,
			Timezone:          DefaultTimezone,
			Locale:            DefaultLocale,
			ViewportWidth:     DefaultViewportWidth,
			ViewportHeight:    DefaultViewportHeight,
			Headless:          true,
			NavigationTimeout: NavigationTimeout,
			SettleDelay:       ListingSettleDelay,
			ExportDays:        DefaultExportDays,
		},
		Harvest: HarvestConfig{
			RecordIDPattern: DefaultRecordIDPattern,
			DocTypePattern:  DefaultDocTypePattern,
			DocTypeFolder:   DefaultDocTypeFolder,
			RetryLimit:      DefaultRetryLimit,
			RetryBackoff:    DefaultRetryBackoff,
			DownloadTimeout: DocumentDownloadLimit,
			DownloadPacing:  DefaultDownloadPacing,
			PageSize:        DocumentPageSize,
			ValidatePDF:     true,
		},
		Enrich: EnrichConfig{
			MaxChars:   DefaultMaxChars,
			Extensions: []string{".pdf"},
			PdfToText:  DefaultPdfToTextBin,
			CountPages: true,
		},
		Paths: PathsConfig{
			OutputDir:      DefaultOutputDir,
			LogsDir:        DefaultLogsDir,
			LedgerFileName: DefaultLedgerFileName,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "both",
			FilePath: DefaultLogsDir + "/" + DefaultLogFileName,
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
		},
	}
}
