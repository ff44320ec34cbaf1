package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/cadenza/internal/config"
	"github.com/phrazzld/cadenza/internal/progress"
	"github.com/phrazzld/cadenza/internal/state"
	"github.com/phrazzld/cadenza/internal/task"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

// newTestServer spins up the runtime over an in-memory store and returns the
// API under httptest.
func newTestServer(t *testing.T) (*httptest.Server, *task.Runtime) {
	t.Helper()
	manager := state.NewManager("test", state.NewMemory(), setupTestLogger())
	runtime := task.NewRuntime(map[string]config.DomainConfig{
		"media-prep": {
			MinWorkers:              1,
			MaxWorkers:              4,
			TargetQueuePerWorker:    2,
			ScaleDownQueuePerWorker: 1,
			CooldownPeriod:          time.Minute,
			WorkerConcurrency:       1,
			TaskTimeout:             time.Second,
		},
	}, 16, manager.Status, progress.NewBroadcaster(setupTestLogger()), "container-a", setupTestLogger())
	require.NoError(t, runtime.RegisterHandler("media-prep", task.Handler{
		Run: func(context.Context, []byte) error { return nil },
	}))
	require.NoError(t, runtime.Start(context.Background()))
	t.Cleanup(runtime.Stop)

	srv := httptest.NewServer(NewHandler(runtime, manager, setupTestLogger()).Router())
	t.Cleanup(srv.Close)
	return srv, runtime
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestSubmitTask(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/tasks",
		`{"task_id":"track-1","domain":"media-prep","payload":{"url":"https://example.com/a"}}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"track-1"`)
	assert.Contains(t, string(body), `"queued"`)
}

func TestSubmitTask_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/tasks", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/tasks", `{"task_id":"t","unknown_field":1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown fields are rejected")

	resp = postJSON(t, srv.URL+"/tasks", `{"task_id":"t"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "domain is required")
}

func TestSubmitTask_UnknownDomain(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/tasks", `{"domain":"ghost"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetTaskStatus(t *testing.T) {
	srv, runtime := newTestServer(t)

	_, err := runtime.Submit(context.Background(), task.SubmitRequest{
		TaskID: "track-1", Domain: "media-prep",
	})
	require.NoError(t, err)

	resp := getJSON(t, srv.URL+"/tasks/track-1")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = getJSON(t, srv.URL+"/tasks/ghost")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetWorkerStatus(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := getJSON(t, srv.URL+"/domains/media-prep/workers")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"queue_depth"`)

	resp = getJSON(t, srv.URL+"/domains/ghost/workers")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := getJSON(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHealth_StoreDown(t *testing.T) {
	manager := state.NewManager("test", state.NewMemory(), setupTestLogger())
	runtime := task.NewRuntime(nil, 16, manager.Status,
		progress.NewBroadcaster(setupTestLogger()), "container-a", setupTestLogger())

	srv := httptest.NewServer(NewHandler(runtime, failingPinger{}, setupTestLogger()).Router())
	defer srv.Close()

	resp := getJSON(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
