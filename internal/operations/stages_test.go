package operations

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devharvest/internal/enrich"
	"devharvest/internal/files"
	"devharvest/internal/harvest"
	"devharvest/internal/portal"
	"devharvest/internal/shared/testutil"
	"devharvest/pkg/contracts/domain"
)

type fakeFetcher struct {
	reqs  []portal.ExportRequest
	err   error
	stall bool
}

func (f *fakeFetcher) FetchExport(ctx context.Context, req portal.ExportRequest) (*portal.ExportResult, error) {
	f.reqs = append(f.reqs, req)
	if f.stall {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	res := &portal.ExportResult{Path: req.Dest, DatesApplied: f.err == nil, ResultsVisible: f.err == nil}
	if f.err != nil {
		return res, f.err
	}
	if err := os.WriteFile(req.Dest, []byte("Application\nA00123456\n"), 0644); err != nil {
		return res, err
	}
	res.Size = 22
	return res, nil
}

type fakeSource struct {
	descs []domain.RecordDescriptor
	err   error
	paths []string
}

func (f *fakeSource) ExtractFile(path string) ([]domain.RecordDescriptor, error) {
	f.paths = append(f.paths, path)
	return f.descs, f.err
}

type fakeHarvester struct {
	ran        []domain.RecordDescriptor
	retryLimit int
	progress   harvest.ProgressFunc
	err        error
}

func (f *fakeHarvester) Run(ctx context.Context, descs []domain.RecordDescriptor) (*harvest.Summary, error) {
	f.ran = descs
	summary := &harvest.Summary{}
	for i, d := range descs {
		summary.Records++
		summary.Downloaded += 2
		if f.progress != nil {
			f.progress(i+1, len(descs), d.RecordID)
		}
	}
	if len(descs) > 0 {
		summary.Failed = 1
	}
	return summary, f.err
}

func (f *fakeHarvester) OnProgress(fn harvest.ProgressFunc) { f.progress = fn }
func (f *fakeHarvester) SetRetryLimit(n int)                { f.retryLimit = n }

type fakeMerger struct {
	exportPath string
	err        error
}

func (f *fakeMerger) Merge(ctx context.Context, exportPath string) (*enrich.Result, error) {
	f.exportPath = exportPath
	if f.err != nil {
		return &enrich.Result{ExportPath: exportPath, NoOp: true}, f.err
	}
	return &enrich.Result{
		ExportPath: exportPath,
		OutputPath: files.ReplaceExt(exportPath, "") + "_enriched_20240312_103000.csv",
		Rows:       3,
		Matched:    2,
	}, nil
}

func descriptors(n int) []domain.RecordDescriptor {
	out := make([]domain.RecordDescriptor, n)
	for i := range out {
		out[i] = domain.RecordDescriptor{RecordID: fmt.Sprintf("A00%06d", i+1)}
	}
	return out
}

type pipelineFixture struct {
	dir       string
	fetcher   *fakeFetcher
	source    *fakeSource
	harvester *fakeHarvester
	merger    *fakeMerger
	manager   *Manager
}

func newPipeline(t *testing.T) *pipelineFixture {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	f := &pipelineFixture{
		dir:       t.TempDir(),
		fetcher:   &fakeFetcher{},
		source:    &fakeSource{descs: descriptors(3)},
		harvester: &fakeHarvester{},
		merger:    &fakeMerger{},
	}

	export := NewExportStage(f.fetcher, files.NewDiscovery(""), f.dir, 30, logger)
	export.now = func() time.Time { return time.Date(2024, 3, 12, 10, 15, 0, 0, time.UTC) }

	f.manager = NewManager(nil, nil, nil, logger)
	require.NoError(t, f.manager.RegisterStage(export))
	require.NoError(t, f.manager.RegisterStage(NewHarvestStage(f.source, f.harvester, nil, logger)))
	require.NoError(t, f.manager.RegisterStage(NewEnrichStage(f.merger)))
	return f
}

func TestPipelineFullRun(t *testing.T) {
	f := newPipeline(t)

	resp, err := f.manager.Execute(context.Background(), Request{ID: "run", Days: 7})
	require.NoError(t, err)

	wantExport := filepath.Join(f.dir, "brisbane_last7d_20240312_101500.csv")
	require.Len(t, f.fetcher.reqs, 1)
	assert.Equal(t, portal.ExportRequest{Days: 7, Dest: wantExport, Strict: true}, f.fetcher.reqs[0])

	assert.Equal(t, []string{wantExport}, f.source.paths)
	assert.Len(t, f.harvester.ran, 3)
	assert.Equal(t, wantExport, f.merger.exportPath)

	assert.Equal(t, OperationStatusCompleted, resp.Status)
	assert.Equal(t, []StepStatus{StepStatusCompleted, StepStatusCompleted, StepStatusCompleted}, statuses(resp))
	assert.Equal(t, wantExport, resp.ExportPath)
	assert.NotEmpty(t, resp.EnrichedPath)
	assert.Equal(t, 3, resp.Records)
	assert.Equal(t, 6, resp.Downloads)
	assert.Equal(t, 1, resp.Failures)
	assert.InDelta(t, 100.0, resp.Steps[1].Progress, 0.001)
	assert.Equal(t, 3, resp.Steps[2].Metadata["rows"])
}

func TestPipelineDefaultDays(t *testing.T) {
	f := newPipeline(t)

	_, err := f.manager.Execute(context.Background(), Request{ID: "run"})
	require.NoError(t, err)
	require.Len(t, f.fetcher.reqs, 1)
	assert.Equal(t, 30, f.fetcher.reqs[0].Days)
}

func TestPipelineExportFailureIsFatal(t *testing.T) {
	f := newPipeline(t)
	f.fetcher.err = errors.New("unable to set the date range inputs")

	resp, err := f.manager.Execute(context.Background(), Request{ID: "run"})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.Equal(t, OperationStatusFailed, resp.Status)
	assert.Equal(t, []StepStatus{StepStatusFailed, StepStatusSkipped, StepStatusSkipped}, statuses(resp))
	assert.Empty(t, f.source.paths)
	assert.Empty(t, f.merger.exportPath)
	assert.Equal(t, false, resp.Steps[0].Metadata["dates_applied"])
}

func TestPipelineExportTimeoutIsFatal(t *testing.T) {
	f := newPipeline(t)
	f.fetcher.stall = true
	f.manager.config.SetStageTimeout(StageIDExport, 20*time.Millisecond)

	resp, err := f.manager.Execute(context.Background(), Request{ID: "run"})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, OperationStatusFailed, resp.Status)
	assert.Equal(t, []StepStatus{StepStatusFailed, StepStatusSkipped, StepStatusSkipped}, statuses(resp))
	assert.Empty(t, f.source.paths)
}

func TestPipelineSkipExport(t *testing.T) {
	t.Run("reuses newest export", func(t *testing.T) {
		f := newPipeline(t)
		older := filepath.Join(f.dir, "brisbane_last30d_20240301_090000.csv")
		newer := filepath.Join(f.dir, "brisbane_last30d_20240310_090000.csv")
		require.NoError(t, os.WriteFile(older, []byte("a\n"), 0644))
		require.NoError(t, os.WriteFile(newer, []byte("a\n"), 0644))
		past := time.Now().Add(-time.Hour)
		require.NoError(t, os.Chtimes(older, past, past))

		resp, err := f.manager.Execute(context.Background(), Request{ID: "run", SkipExport: true})
		require.NoError(t, err)
		assert.Empty(t, f.fetcher.reqs)
		assert.Equal(t, newer, resp.ExportPath)
		assert.Equal(t, true, resp.Steps[0].Metadata["reused"])
	})

	t.Run("uses caller path", func(t *testing.T) {
		f := newPipeline(t)
		path := filepath.Join(t.TempDir(), "mine.csv")
		require.NoError(t, os.WriteFile(path, []byte("a\n"), 0644))

		resp, err := f.manager.Execute(context.Background(), Request{ID: "run", SkipExport: true, ExportPath: path})
		require.NoError(t, err)
		assert.Equal(t, path, resp.ExportPath)
		assert.Equal(t, []string{path}, f.source.paths)
	})

	t.Run("nothing to reuse is fatal", func(t *testing.T) {
		f := newPipeline(t)

		resp, err := f.manager.Execute(context.Background(), Request{ID: "run", SkipExport: true})
		require.Error(t, err)
		assert.True(t, IsFatal(err))
		assert.ErrorIs(t, err, ErrNoExport)
		assert.Equal(t, OperationStatusFailed, resp.Status)
		assert.Empty(t, f.source.paths)
	})

	t.Run("missing caller path is fatal", func(t *testing.T) {
		f := newPipeline(t)

		_, err := f.manager.Execute(context.Background(), Request{ID: "run", SkipExport: true, ExportPath: filepath.Join(f.dir, "gone.csv")})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrNoExport)
	})
}

func TestPipelineSkipFlags(t *testing.T) {
	f := newPipeline(t)

	resp, err := f.manager.Execute(context.Background(), Request{ID: "run", SkipHarvest: true, SkipEnrich: true})
	require.NoError(t, err)
	assert.Equal(t, []StepStatus{StepStatusCompleted, StepStatusSkipped, StepStatusSkipped}, statuses(resp))
	assert.Empty(t, f.source.paths)
	assert.Empty(t, f.merger.exportPath)
	assert.Equal(t, "harvesting disabled", resp.Steps[1].Message)
}

func TestPipelineHarvestCapAndRetryLimit(t *testing.T) {
	f := newPipeline(t)

	resp, err := f.manager.Execute(context.Background(), Request{ID: "run", MaxRecords: 2, RetryLimit: 5})
	require.NoError(t, err)
	require.Len(t, f.harvester.ran, 2)
	assert.Equal(t, "A00000001", f.harvester.ran[0].RecordID)
	assert.Equal(t, 5, f.harvester.retryLimit)
	assert.Equal(t, 2, resp.Records)
	assert.Nil(t, f.harvester.progress)
}

func TestPipelineNoRecords(t *testing.T) {
	f := newPipeline(t)
	f.source.descs = nil

	resp, err := f.manager.Execute(context.Background(), Request{ID: "run"})
	require.NoError(t, err)
	assert.Equal(t, []StepStatus{StepStatusCompleted, StepStatusSkipped, StepStatusCompleted}, statuses(resp))
	assert.Nil(t, f.harvester.ran)
	assert.NotEmpty(t, f.merger.exportPath)
}

func TestPipelineHarvestErrorIsRecoverable(t *testing.T) {
	f := newPipeline(t)
	f.source.err = errors.New("unreadable export")

	resp, err := f.manager.Execute(context.Background(), Request{ID: "run"})
	require.NoError(t, err)
	assert.Equal(t, []StepStatus{StepStatusCompleted, StepStatusFailed, StepStatusCompleted}, statuses(resp))
	assert.Contains(t, resp.Steps[1].Error, "unreadable export")
}

func TestPipelineNothingToEnrich(t *testing.T) {
	f := newPipeline(t)
	f.merger.err = fmt.Errorf("%w: no attachment files", enrich.ErrNoAttachments)

	resp, err := f.manager.Execute(context.Background(), Request{ID: "run"})
	require.NoError(t, err)
	assert.Equal(t, StepStatusSkipped, resp.Steps[2].Status)
	assert.Empty(t, resp.EnrichedPath)
}

func TestExportStageRequiresFetcher(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	m := NewManager(nil, nil, nil, logger)
	require.NoError(t, m.RegisterStage(NewExportStage(nil, files.NewDiscovery(""), t.TempDir(), 30, logger)))

	_, err := m.Execute(context.Background(), Request{ID: "run"})
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestPipelinePublishesUpdates(t *testing.T) {
	f := newPipeline(t)

	var updates []*Response
	f.manager.OnUpdate(func(resp *Response) { updates = append(updates, resp) })

	_, err := f.manager.Execute(context.Background(), Request{ID: "run", Days: 7})
	require.NoError(t, err)

	// start, one per harvested record, one per settled step, end
	require.Len(t, updates, 1+3+3+1)
	assert.Equal(t, OperationStatusRunning, updates[0].Status)
	assert.Equal(t, []StepStatus{StepStatusPending, StepStatusPending, StepStatusPending}, statuses(updates[0]))

	progress := updates[2]
	assert.Equal(t, StepStatusActive, progress.Steps[1].Status)
	assert.Contains(t, progress.Steps[1].Message, "1/3 records")

	last := updates[len(updates)-1]
	assert.Equal(t, OperationStatusCompleted, last.Status)
	assert.Equal(t, "run", last.ID)
}
