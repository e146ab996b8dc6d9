package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devharvest/internal/operations"
	"devharvest/internal/shared/testutil"
	ws "devharvest/internal/websocket"
)

type fakeStatus struct {
	resp *operations.Response
	err  error
}

func (f *fakeStatus) Current() (*operations.Response, error) {
	return f.resp, f.err
}

func newTestRouter(t *testing.T, status StatusSource) http.Handler {
	t.Helper()
	logger, _ := testutil.NewTestLogger(t)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "harvest_records_total 3")
	})
	return NewRouter(RouterDeps{Status: status, Metrics: metrics, Version: "test", Logger: logger})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	tests := []struct {
		name       string
		status     *fakeStatus
		wantCode   int
		wantInBody string
	}{
		{
			name:       "before first run",
			status:     &fakeStatus{err: operations.ErrNoRun},
			wantCode:   http.StatusNotFound,
			wantInBody: "RUN_NOT_STARTED",
		},
		{
			name:       "lookup failure",
			status:     &fakeStatus{err: errors.New("boom")},
			wantCode:   http.StatusInternalServerError,
			wantInBody: "INTERNAL_SERVER_ERROR",
		},
		{
			name: "running",
			status: &fakeStatus{resp: &operations.Response{
				ID:     "run-1",
				Status: operations.OperationStatusRunning,
				Steps: []operations.StepSnapshot{
					{ID: operations.StageIDExport, Status: operations.StepStatusCompleted},
					{ID: operations.StageIDHarvest, Status: operations.StepStatusActive, Progress: 40},
				},
				Downloads: 7,
			}},
			wantCode:   http.StatusOK,
			wantInBody: `"downloads":7`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, newTestRouter(t, tt.status), "/status")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantInBody)
		})
	}
}

func TestStatusEndpointDecodes(t *testing.T) {
	h := newTestRouter(t, &fakeStatus{resp: &operations.Response{
		ID:     "run-1",
		Status: operations.OperationStatusCompleted,
		Steps:  []operations.StepSnapshot{{ID: operations.StageIDEnrich, Status: operations.StepStatusSkipped}},
	}})

	rec := get(t, h, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp operations.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.ID)
	assert.Equal(t, operations.StepStatusSkipped, resp.Steps[0].Status)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestRouter(t, &fakeStatus{err: operations.ErrNoRun})

	rec := get(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = get(t, h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "harvest_records_total")

	rec = get(t, h, "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestServerStopsWithContext(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(ln.Addr().String(), newTestRouter(t, &fakeStatus{err: operations.ErrNoRun}), logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get("http://" + ln.Addr().String() + "/healthz")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "ok")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("server did not stop")
	}
}

func TestEventsEndpoint(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	hub := ws.NewHub(logger)
	hub.Start()
	defer hub.Stop()

	srv := httptest.NewServer(NewRouter(RouterDeps{
		Status:  &fakeStatus{err: operations.ErrNoRun},
		Events:  ws.Handler(hub, logger),
		Version: "test",
		Logger:  logger,
	}))
	defer srv.Close()

	conn, resp, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg ws.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ws.TypeConnection, msg.Type)

	hub.Broadcast(ws.TypeRunSnapshot, &operations.Response{ID: "run-9", Status: operations.OperationStatusRunning})
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ws.TypeRunSnapshot, msg.Type)
	assert.Equal(t, "run-9", msg.Data.(map[string]any)["id"])
}
