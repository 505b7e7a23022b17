package e2e

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/turnstile/internal/api"
	"github.com/seantiz/turnstile/internal/engine"
	"github.com/seantiz/turnstile/internal/store"
	"github.com/seantiz/turnstile/internal/task"
)

// stackServer is a full in-process stack: sqlite history, queue, HTTP API.
type stackServer struct {
	ts    *httptest.Server
	queue *engine.Queue

	mu      sync.Mutex
	active  int
	maxSeen int
	started map[string]time.Time
}

func newStackServer(t *testing.T, cfg engine.Config) *stackServer {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	p := &stackServer{started: make(map[string]time.Time)}

	kinds := task.NewRegistry()
	kinds.Register("work", "sleeps params.ms milliseconds while tracking overlap", p.work)

	p.queue = engine.New(cfg, s, logger)
	p.queue.Start(context.Background())

	srv := api.NewServer(":0", p.queue, kinds, s, logger)
	p.ts = httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		p.ts.Close()
		p.queue.Stop()
	})
	return p
}

func (p *stackServer) work(ctx context.Context, params task.Params) (any, error) {
	p.mu.Lock()
	p.active++
	p.maxSeen = max(p.maxSeen, p.active)
	p.started[params.String("name")] = time.Now()
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}()

	ms, _ := params["ms"].(float64)
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return params.String("name"), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *stackServer) submit(t *testing.T, name string, ms int) string {
	t.Helper()
	code, st := postJSON(t, p.ts.URL+"/v1/tasks",
		fmt.Sprintf(`{"kind":"work","params":{"name":%q,"ms":%d}}`, name, ms))
	require.Equal(t, http.StatusAccepted, code)
	return st["id"].(string)
}

func (p *stackServer) startedAt(name string) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	at, ok := p.started[name]
	return at, ok
}

func stackConfig() engine.Config {
	cfg := engine.DefaultConfig()
	cfg.IdlePoll = 10 * time.Millisecond
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.Step = 0
	cfg.Retry.Jitter = 0
	return cfg
}

func TestBatchesRunSequentiallyAndRespectCooldown(t *testing.T) {
	cfg := stackConfig()
	cfg.MaxConcurrent = 2
	cfg.CooldownPeriod = 400 * time.Millisecond
	p := newStackServer(t, cfg)

	// Start a cooldown so the next three submissions queue up together.
	warm := p.submit(t, "warm", 0)
	pollStatus(t, p.ts.URL, warm, "completed", 5*time.Second)

	ids := []string{
		p.submit(t, "a", 50),
		p.submit(t, "b", 50),
		p.submit(t, "c", 50),
	}
	for _, id := range ids {
		pollStatus(t, p.ts.URL, id, "completed", 5*time.Second)
	}

	p.mu.Lock()
	assert.Equal(t, 1, p.maxSeen, "tasks overlapped")
	p.mu.Unlock()

	a, _ := p.startedAt("a")
	b, _ := p.startedAt("b")
	c, _ := p.startedAt("c")

	// a and b share a batch; c waits for the next admission window.
	assert.Less(t, b.Sub(a), cfg.CooldownPeriod)
	assert.GreaterOrEqual(t, c.Sub(a), cfg.CooldownPeriod-20*time.Millisecond)
}

func TestQueuedPositionsShiftAfterCancel(t *testing.T) {
	cfg := stackConfig()
	cfg.CooldownPeriod = 2 * time.Second
	p := newStackServer(t, cfg)

	first := p.submit(t, "first", 0)
	pollStatus(t, p.ts.URL, first, "completed", 5*time.Second)

	// The cooldown now holds everything else in the queue.
	second := p.submit(t, "second", 0)
	third := p.submit(t, "third", 0)

	_, st := getJSON(t, p.ts.URL+"/v1/tasks/"+third)
	assert.EqualValues(t, 2, st["position"])

	req, _ := http.NewRequest(http.MethodDelete, p.ts.URL+"/v1/tasks/"+second, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	_, st = getJSON(t, p.ts.URL+"/v1/tasks/"+third)
	assert.EqualValues(t, 1, st["position"])
	assert.EqualValues(t, 7, st["estimated_seconds"])

	_, ok := p.startedAt("second")
	assert.False(t, ok)
}

func TestForceCleanupEvictsSilentTasks(t *testing.T) {
	cfg := stackConfig()
	cfg.CooldownPeriod = 5 * time.Second
	cfg.HeartbeatTimeout = 150 * time.Millisecond
	p := newStackServer(t, cfg)

	first := p.submit(t, "first", 0)
	pollStatus(t, p.ts.URL, first, "completed", 5*time.Second)

	silent := p.submit(t, "silent", 0)
	alive := p.submit(t, "alive", 0)

	// Keep one task alive with heartbeats while the other goes quiet.
	for range 4 {
		time.Sleep(60 * time.Millisecond)
		code, _ := postJSON(t, p.ts.URL+"/v1/tasks/"+alive+"/heartbeat", "")
		require.Equal(t, http.StatusNoContent, code)
	}

	code, _ := postJSON(t, p.ts.URL+"/v1/cleanup", "")
	require.Equal(t, http.StatusNoContent, code)

	code, _ = getJSON(t, p.ts.URL+"/v1/tasks/"+silent)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = getJSON(t, p.ts.URL+"/v1/tasks/"+alive)
	assert.Equal(t, http.StatusOK, code)
}

func TestStatsReflectQueueAndHistory(t *testing.T) {
	p := newStackServer(t, stackConfig())

	id := p.submit(t, "one", 0)
	pollStatus(t, p.ts.URL, id, "completed", 5*time.Second)

	require.Eventually(t, func() bool {
		_, stats := getJSON(t, p.ts.URL+"/v1/stats")
		queue, _ := stats["queue"].(map[string]any)
		history, _ := stats["history"].(map[string]any)
		return queue["completed_pending"] == float64(1) && history["total"] == float64(1)
	}, 5*time.Second, 20*time.Millisecond)
}
