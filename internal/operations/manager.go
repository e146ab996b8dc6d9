package operations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"devharvest/internal/infrastructure"
)

// Manager runs the registered steps in order. A fatal Step error aborts the
// run; any other Step error is recorded and the next Step still runs.
type Manager struct {
	registry *Registry
	config   *Config
	tracer   *OperationTracer
	logger   *slog.Logger

	mu        sync.RWMutex
	current   *OperationState
	observers []UpdateFunc
}

// UpdateFunc receives a snapshot whenever a run changes
type UpdateFunc func(resp *Response)

// NewManager creates a pipeline manager. Nil arguments get defaults.
func NewManager(registry *Registry, config *Config, tracer *OperationTracer, logger *slog.Logger) *Manager {
	if registry == nil {
		registry = NewRegistry()
	}
	if config == nil {
		config = NewConfig()
	}
	if tracer == nil {
		tracer = NewOperationTracer(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: registry,
		config:   config,
		tracer:   tracer,
		logger:   logger.With(slog.String("component", "pipeline")),
	}
}

// RegisterStage registers a Step with the pipeline
func (m *Manager) RegisterStage(step Step) error {
	return m.registry.Register(step)
}

// GetRegistry returns the registry for accessing registered stages
func (m *Manager) GetRegistry() *Registry {
	return m.registry
}

// OnUpdate adds an observer called with a snapshot after the run starts,
// after every step settles, on step progress and when the run ends.
// Observers run synchronously and must not block.
func (m *Manager) OnUpdate(fn UpdateFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Manager) publish(state *OperationState) {
	m.mu.RLock()
	observers := m.observers
	m.mu.RUnlock()
	if len(observers) == 0 {
		return
	}
	resp := m.createResponse(state)
	for _, fn := range observers {
		fn(resp)
	}
}

// Current returns a snapshot of the most recent run, or ErrNoRun
func (m *Manager) Current() (*Response, error) {
	m.mu.RLock()
	state := m.current
	m.mu.RUnlock()
	if state == nil {
		return nil, ErrNoRun
	}
	return m.createResponse(state), nil
}

// Execute runs the pipeline for req. The response is always non-nil; the
// error is non-nil only when the run was aborted.
func (m *Manager) Execute(ctx context.Context, req Request) (*Response, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ctx = infrastructure.WithTraceID(ctx, req.ID)

	state := NewOperationState(req)
	state.notify = func() { m.publish(state) }
	steps := m.registry.Steps()
	for _, step := range steps {
		state.AddStage(NewStepState(step.ID(), step.Name()))
	}

	m.mu.Lock()
	m.current = state
	m.mu.Unlock()

	ctx, span := m.tracer.TraceOperationExecution(ctx, req)
	defer span.End()

	state.Start()
	m.logOperationStart(ctx, req, len(steps))
	m.publish(state)

	err := m.executeSequential(ctx, state, steps)
	switch {
	case err == nil:
		state.Complete()
	case GetErrorType(err) == ErrorTypeCancellation:
		state.Cancel(err)
	default:
		state.Fail(err)
	}

	m.publish(state)
	resp := m.createResponse(state)
	m.tracer.RecordOperationCompletion(ctx, span, resp, err)
	if err != nil {
		m.logOperationError(ctx, req.ID, err)
	}
	m.logOperationComplete(ctx, resp)
	return resp, err
}

// executeSequential executes steps one by one
func (m *Manager) executeSequential(ctx context.Context, state *OperationState, steps []Step) error {
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			m.skipRemaining(state, steps[i:], "operation cancelled")
			return NewCancellationError(step.ID(), err)
		}

		m.logger.InfoContext(ctx, "executing_stage",
			slog.String("operation_id", state.ID),
			slog.String("step", step.ID()),
			slog.Int("stage_number", i+1),
			slog.Int("total_stages", len(steps)))

		err := m.executeStage(ctx, state, step)
		m.publish(state)
		if err == nil {
			continue
		}
		if IsFatal(err) {
			m.skipRemaining(state, steps[i+1:], fmt.Sprintf("step %s aborted the run", step.ID()))
			return err
		}
		m.logger.WarnContext(ctx, "stage_failed_continuing",
			slog.String("operation_id", state.ID),
			slog.String("step", step.ID()),
			slog.String("error", err.Error()))
	}
	return nil
}

// executeStage runs one Step and settles its state. Skips return nil.
func (m *Manager) executeStage(ctx context.Context, state *OperationState, step Step) error {
	stepState := state.GetStage(step.ID())
	if stepState == nil {
		return NewFatalError(step.ID(), "step state not found", nil)
	}

	ctx, span := m.tracer.TraceStageExecution(ctx, state.ID, step.ID())
	defer span.End()

	if err := step.Validate(state); err != nil {
		if IsSkipped(err) {
			m.settleSkip(ctx, state, stepState, span, err)
			return nil
		}
		var verr error = NewValidationError(step.ID(), err.Error())
		if IsFatal(err) {
			verr = err
		}
		stepState.Fail(verr)
		m.tracer.RecordStageCompletion(ctx, span, step.ID(), StepStatusFailed, 0, verr)
		m.logStageError(ctx, state.ID, step.ID(), verr)
		return verr
	}

	stageCtx := ctx
	timeout := m.config.GetStageTimeout(step.ID())
	if timeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stepState.Start()
	m.logStageStart(ctx, state.ID, step.ID())
	err := step.Execute(stageCtx, state)

	if err == nil {
		stepState.Complete()
		m.tracer.RecordStageCompletion(ctx, span, step.ID(), StepStatusCompleted, stepState.Duration(), nil)
		m.logStageComplete(ctx, state.ID, step.ID(), stepState.Duration())
		return nil
	}
	if IsSkipped(err) {
		m.settleSkip(ctx, state, stepState, span, err)
		return nil
	}

	switch {
	case ctx.Err() != nil:
		err = NewCancellationError(step.ID(), ctx.Err())
	case IsFatal(err):
		// reported as returned
	case errors.Is(stageCtx.Err(), context.DeadlineExceeded):
		err = NewTimeoutError(step.ID(), timeout.String())
	default:
		err = WrapError(err, step.ID(), "step execution failed")
	}

	stepState.Fail(err)
	m.tracer.RecordStageCompletion(ctx, span, step.ID(), StepStatusFailed, stepState.Duration(), err)
	m.logStageError(ctx, state.ID, step.ID(), err)
	return err
}

func (m *Manager) settleSkip(ctx context.Context, state *OperationState, stepState *StepState, span trace.Span, err error) {
	reason := err.Error()
	var opErr *OperationError
	if errors.As(err, &opErr) {
		reason = opErr.Message
	}
	stepState.Skip(reason)
	m.tracer.RecordStageCompletion(ctx, span, stepState.ID, StepStatusSkipped, stepState.Duration(), nil)
	m.logger.InfoContext(ctx, "stage_skipped",
		slog.String("operation_id", state.ID),
		slog.String("step", stepState.ID),
		slog.String("reason", reason))
}

// skipRemaining marks steps that will never run as skipped
func (m *Manager) skipRemaining(state *OperationState, steps []Step, reason string) {
	for _, step := range steps {
		if s := state.GetStage(step.ID()); s != nil && s.GetStatus() == StepStatusPending {
			s.Skip(reason)
		}
	}
}

// createResponse builds a serialisable snapshot of state
func (m *Manager) createResponse(state *OperationState) *Response {
	state.mu.RLock()
	resp := &Response{
		ID:     state.ID,
		Status: state.Status,
	}
	if state.Error != nil {
		resp.Error = state.Error.Error()
	}
	stepStates := append([]*StepState(nil), state.Steps...)
	state.mu.RUnlock()

	resp.Duration = state.Duration()
	resp.ExportPath = state.GetString(ContextKeyExportPath)
	resp.EnrichedPath = state.GetString(ContextKeyEnrichedPath)
	resp.Records = state.GetInt(ContextKeyRecords)
	resp.Downloads = state.GetInt(ContextKeyDownloads)
	resp.Failures = state.GetInt(ContextKeyFailures)

	resp.Steps = make([]StepSnapshot, 0, len(stepStates))
	for _, s := range stepStates {
		resp.Steps = append(resp.Steps, s.Snapshot())
	}
	return resp
}
