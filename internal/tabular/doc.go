// Package tabular reads and writes the rectangular tables the harvester works
// with: portal exports, the download ledger and enriched reports.
//
// CSV files are written with a UTF-8 BOM so spreadsheet tools pick the right
// encoding, and a BOM on input is ignored. XLSX files are read from their first
// sheet with the first row taken as the header.
package tabular
