// Package operations runs the harvest pipeline as an ordered list of steps.
//
// A run executes three steps in order:
//
//   - export: fetch a fresh portal export, or reuse the caller's file or the
//     newest export in the output root
//   - harvest: extract record identifiers from the export and download the
//     matching attachments of each record
//   - enrich: join the attachment text back onto the export
//
// Each Step may be skipped by the Request. A Step that returns a fatal
// OperationError aborts the run and the remaining steps are marked skipped.
// Every other error is recorded on the Step and the run moves on, so a
// failed harvest still lets enrichment work on whatever is already on disk.
//
// Manager.Current exposes a snapshot of the most recent run for the status
// endpoint.
package operations
