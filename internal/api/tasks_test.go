package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/turnstile/internal/model"
	"github.com/seantiz/turnstile/internal/task"
)

// waitForTaskStatus polls GET /v1/tasks/{id} until the expected status.
func waitForTaskStatus(t *testing.T, baseURL, id, expected string) model.TaskStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		var st model.TaskStatus
		resp := doJSON(t, http.MethodGet, baseURL+"/v1/tasks/"+id, nil, &st)
		if resp.StatusCode == http.StatusOK && st.Status == expected {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach status %q", id, expected)
	return model.TaskStatus{}
}

// registerGate adds a "gate" kind that blocks until the returned function is
// called or the queue shuts down.
func registerGate(t *testing.T, srv *Server) func() {
	t.Helper()
	release := make(chan struct{})
	srv.kinds.Register("gate", "blocks until released", func(ctx context.Context, _ task.Params) (any, error) {
		select {
		case <-release:
			return "released", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	open := sync.OnceFunc(func() { close(release) })
	t.Cleanup(open)
	return open
}

func TestSubmitTask(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var st model.TaskStatus
	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{
		"kind":   "echo",
		"params": map[string]any{"n": 1},
	}, &st)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Len(t, st.ID, 26)
	assert.Equal(t, "echo", st.Kind)
	assert.False(t, st.CreatedAt.IsZero())
}

func TestSubmitTaskValidation(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	tests := []struct {
		name string
		body any
	}{
		{"missing kind", map[string]any{"params": map[string]any{}}},
		{"unknown kind", map[string]any{"kind": "nope"}},
		{"params not an object", map[string]any{"kind": "echo", "params": "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]string
			resp := doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", tt.body, &body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestSubmitTaskInvalidJSON(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/tasks", "application/json", http.NoBody)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetTaskNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/tasks/nonexistent", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResultLifecycle(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var st model.TaskStatus
	doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{
		"kind":   "echo",
		"params": map[string]any{"word": "hi"},
	}, &st)

	done := waitForTaskStatus(t, ts.URL, st.ID, model.StatusCompleted)
	require.NotNil(t, done.FinishedAt)

	var res resultResponse
	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/tasks/"+st.ID+"/result", nil, &res)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, st.ID, res.ID)
	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.Equal(t, map[string]any{"word": "hi"}, res.Value)
	assert.Empty(t, res.Error)

	// Results are delivered once.
	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/tasks/"+st.ID+"/result", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = doJSON(t, http.MethodGet, ts.URL+"/v1/tasks/"+st.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestResultFailure(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var st model.TaskStatus
	doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{"kind": "fail"}, &st)
	waitForTaskStatus(t, ts.URL, st.ID, model.StatusFailed)

	var res resultResponse
	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/tasks/"+st.ID+"/result", nil, &res)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, "boom", res.Error)
	assert.Nil(t, res.Value)
}

func TestResultNotReady(t *testing.T) {
	srv := newTestServer(t)
	release := registerGate(t, srv)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var st model.TaskStatus
	doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{"kind": "gate"}, &st)
	waitForTaskStatus(t, ts.URL, st.ID, model.StatusProcessing)

	var body map[string]string
	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/tasks/"+st.ID+"/result", nil, &body)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, model.StatusProcessing, body["status"])

	release()
	waitForTaskStatus(t, ts.URL, st.ID, model.StatusCompleted)
}

func TestResultUnknown(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/tasks/nonexistent/result", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelTask(t *testing.T) {
	srv := newTestServer(t)
	release := registerGate(t, srv)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var running, waiting model.TaskStatus
	doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{"kind": "gate"}, &running)
	waitForTaskStatus(t, ts.URL, running.ID, model.StatusProcessing)
	doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{"kind": "echo"}, &waiting)

	var got cancelResponse
	resp := doJSON(t, http.MethodDelete, ts.URL+"/v1/tasks/"+waiting.ID, nil, &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, got.Cancelled)

	// Processing tasks are not interrupted; the record is dropped.
	resp = doJSON(t, http.MethodDelete, ts.URL+"/v1/tasks/"+running.ID, nil, &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, got.Cancelled)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/v1/tasks/"+waiting.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	release()
	assert.Equal(t, 2, srv.queue.Stats().CancelledSinceSweep)
}

func TestHeartbeat(t *testing.T) {
	srv := newTestServer(t)
	release := registerGate(t, srv)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var st model.TaskStatus
	doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{"kind": "gate"}, &st)

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/tasks/"+st.ID+"/heartbeat", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	var got model.TaskStatus
	doJSON(t, http.MethodGet, ts.URL+"/v1/tasks/"+st.ID, nil, &got)
	assert.NotNil(t, got.LastHeartbeat)

	resp = doJSON(t, http.MethodPost, ts.URL+"/v1/tasks/nonexistent/heartbeat", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	release()
}

func TestQueuedStatusCarriesPositionAndEstimate(t *testing.T) {
	cfg := testQueueConfig()
	cfg.CooldownPeriod = 3 * time.Second
	srv := newTestServerWithConfig(t, cfg)
	release := registerGate(t, srv)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var first, second, third model.TaskStatus
	doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{"kind": "gate"}, &first)
	waitForTaskStatus(t, ts.URL, first.ID, model.StatusProcessing)

	// The cooldown keeps later submissions queued.
	doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{"kind": "echo"}, &second)
	doJSON(t, http.MethodPost, ts.URL+"/v1/tasks", map[string]any{"kind": "echo"}, &third)

	assert.Equal(t, model.StatusQueued, second.Status)
	assert.Equal(t, 1, second.Position)
	assert.Equal(t, 8, second.EstimatedSeconds)
	assert.Equal(t, 2, third.Position)
	assert.Equal(t, 11, third.EstimatedSeconds)

	release()
}

func TestForceCleanupEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := doJSON(t, http.MethodPost, ts.URL+"/v1/cleanup", nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestListKinds(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var kinds []task.KindInfo
	resp := doJSON(t, http.MethodGet, ts.URL+"/v1/kinds", nil, &kinds)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, kinds, 2)
	assert.Equal(t, "echo", kinds[0].Name)
	assert.Equal(t, "fail", kinds[1].Name)
}
