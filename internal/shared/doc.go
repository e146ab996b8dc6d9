// Package shared holds helpers used across the harvester packages.
//
// The testutil subpackage provides a buffered slog handler so tests can assert
// on the structured log lines a component emits:
//
//	logger, handler := testutil.NewTestLogger(t)
//	ledger := ledger.Open(path, logger)
//	...
//	testutil.AssertLogContains(t, handler, slog.LevelWarn, "ledger_unreadable")
package shared
