package operations

import (
	"context"
	"log/slog"
	"time"
)

// logOperationStart logs the start of a pipeline run
func (m *Manager) logOperationStart(ctx context.Context, req Request, steps int) {
	m.logger.InfoContext(ctx, "operation_start",
		slog.String("operation_id", req.ID),
		slog.Int("days", req.Days),
		slog.Bool("skip_export", req.SkipExport),
		slog.Bool("skip_harvest", req.SkipHarvest),
		slog.Bool("skip_enrich", req.SkipEnrich),
		slog.String("export_path", req.ExportPath),
		slog.Int("max_records", req.MaxRecords),
		slog.Int("step_count", steps))
}

// logOperationComplete logs the completion of a pipeline run
func (m *Manager) logOperationComplete(ctx context.Context, resp *Response) {
	m.logger.InfoContext(ctx, "operation_complete",
		slog.String("operation_id", resp.ID),
		slog.String("status", string(resp.Status)),
		slog.Duration("duration", resp.Duration),
		slog.Int("records", resp.Records),
		slog.Int("downloads", resp.Downloads),
		slog.Int("failures", resp.Failures),
		slog.String("enriched_path", resp.EnrichedPath))
}

// logOperationError logs a pipeline error
func (m *Manager) logOperationError(ctx context.Context, operationID string, err error) {
	m.logger.ErrorContext(ctx, "operation_error",
		slog.String("operation_id", operationID),
		slog.String("error", err.Error()))
}

// logStageStart logs the start of a Step execution
func (m *Manager) logStageStart(ctx context.Context, operationID, stageID string) {
	m.logger.InfoContext(ctx, "stage_start",
		slog.String("operation_id", operationID),
		slog.String("step", stageID))
}

// logStageComplete logs the completion of a Step execution
func (m *Manager) logStageComplete(ctx context.Context, operationID, stageID string, duration time.Duration) {
	m.logger.InfoContext(ctx, "stage_complete",
		slog.String("operation_id", operationID),
		slog.String("step", stageID),
		slog.Duration("duration", duration))
}

// logStageError logs a Step error. Fatal errors log at error level,
// everything else is recoverable and logs as a warning.
func (m *Manager) logStageError(ctx context.Context, operationID, stageID string, err error) {
	level := slog.LevelWarn
	if IsFatal(err) {
		level = slog.LevelError
	}
	m.logger.Log(ctx, level, "stage_error",
		slog.String("operation_id", operationID),
		slog.String("step", stageID),
		slog.String("error_type", string(GetErrorType(err))),
		slog.String("error", err.Error()))
}
