package config

import "time"

// Application constants for the Development.i harvester
const (
	// Application Info
	AppName    = "devharvest"
	AppVersion = "1.0.0"

	// Environment variable prefix used by Load
	EnvPrefix = "DEVI"

	// Portal endpoints
	DefaultBaseURL     = "https://developmenti.brisbane.qld.gov.au/Home/ApplicationSearch"
	DefaultDocumentURL = "https://developmenti.brisbane.qld.gov.au/DocumentSearch/GetAllDocument?applicationId=%s"

	// Browser emulation
	DefaultTimezone       = "Australia/Brisbane"
	DefaultLocale         = "en-AU"
	DefaultViewportWidth  = 1600
	DefaultViewportHeight = 1000
	FetcherViewportWidth  = 1440
	FetcherViewportHeight = 900

	// Record and document matching
	DefaultRecordIDPattern = `A00\d{6,}`
	DefaultDocTypePattern  = `(?i)\bDA\s*Form\b`
	DefaultDocTypeFolder   = "DA Form"

	// Name normalisation
	MaxFileNameLength = 120
	MaxAddressLength  = 90

	// Document listing
	DocumentPageSizeSelector = "select[name='logisticList_length']"
	DocumentPageSize         = "100"

	// Retry policy
	DefaultRetryLimit   = 3
	DefaultRetryBackoff = 2 * time.Second

	// Timeouts
	PageLoadTimeout       = 60 * time.Second
	NavigationTimeout     = 30 * time.Second
	ListingSettleDelay    = 3 * time.Second
	DocumentDownloadLimit = 90 * time.Second
	ExportDownloadLimit   = 20 * time.Second
	ResultsWaitTimeout    = 20 * time.Second
	SpinnerWaitTimeout    = 5 * time.Second
	DefaultDownloadPacing = 500 * time.Millisecond

	// Export window
	DefaultExportDays = 30

	// Enrichment
	DefaultMaxChars     = 3000
	DefaultPdfToTextBin = "pdftotext"

	// File layout (relative to the output root)
	DefaultOutputDir      = "output"
	DefaultLogsDir        = "logs"
	ScreenshotsSubdir     = "screenshots"
	DebugSubdir           = "debug"
	StagingDirName        = ".staging"
	DefaultLedgerFileName = "download_log.csv"
	DefaultLogFileName    = "harvest.log"
	EnrichedMarker        = "_enriched_"

	// Timestamp layouts
	LedgerTimeLayout = "2006-01-02 15:04:05"
	FileStampLayout  = "20060102_150405"
	PortalDateLayout = "02/01/2006"

	// Status surface
	HealthEndpoint  = "/healthz"
	MetricsEndpoint = "/metrics"
	StatusEndpoint  = "/status"
)

// Exit codes for the command line tools
const (
	ExitOK    = 0
	ExitFatal = 2
)
