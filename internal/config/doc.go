// Package config provides configuration management for the harvester.
// It loads settings from built-in defaults, an optional YAML file and the
// environment, validates them, and lays out the directories a run writes to.
//
// # Configuration Sources
//
// Configuration is resolved in the following order of precedence:
//
//	1. Environment variables (highest priority)
//	2. YAML configuration file
//	3. Default values (lowest priority)
//
// Command line flags are applied by the commands on top of the loaded Config.
//
// # Environment Variables
//
// All environment variables follow the pattern DEVI_<SECTION>_<FIELD>:
//
//	DEVI_HARVEST_RETRY_LIMIT=5
//	DEVI_HARVEST_RETRY_BACKOFF=2s
//	DEVI_PATHS_OUTPUT_DIR=/srv/devi/output
//	DEVI_LOGGING_LEVEL=debug
//	DEVI_TELEMETRY_STATUS_ADDR=:9090
//
// # Path Management
//
// Initialize resolves the output root and creates every directory a run needs:
//
//	paths, err := config.Initialize(cfg.Paths)
//	if err != nil {
//	    return err
//	}
//	ledgerFile := paths.LedgerFile
package config
