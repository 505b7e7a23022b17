// testserver starts a Turnstile API server with stub task kinds for E2E testing.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/seantiz/turnstile/internal/api"
	"github.com/seantiz/turnstile/internal/engine"
	"github.com/seantiz/turnstile/internal/store"
	"github.com/seantiz/turnstile/internal/task"
)

// flakyKind fails the first `failures` calls per task with a rate-limit
// error, then succeeds.
type flakyKind struct {
	failures int

	mu    sync.Mutex
	calls map[string]int
}

func (f *flakyKind) run(_ context.Context, p task.Params) (any, error) {
	key := p.String("key")

	f.mu.Lock()
	f.calls[key]++
	n := f.calls[key]
	f.mu.Unlock()

	if n <= f.failures {
		return nil, fmt.Errorf("upstream: %w", task.ErrRateLimited)
	}
	return map[string]any{"key": key, "calls": n}, nil
}

func registerStubs(kinds *task.Registry) {
	kinds.Register("echo", "returns its params", func(_ context.Context, p task.Params) (any, error) {
		return map[string]any(p), nil
	})
	kinds.Register("fail", "always fails", func(context.Context, task.Params) (any, error) {
		return nil, errors.New("stub failure")
	})
	kinds.Register("slow", "sleeps for 500ms then returns", func(ctx context.Context, _ task.Params) (any, error) {
		select {
		case <-time.After(500 * time.Millisecond):
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	flaky := &flakyKind{failures: 2, calls: make(map[string]int)}
	kinds.Register("ratelimited", "rate limited twice per params.key, then succeeds", flaky.run)
}

func main() {
	addr := ":8080"
	if v := os.Getenv("TURNSTILE_LISTEN_ADDR"); v != "" {
		addr = v
	}

	db, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	kinds := task.NewRegistry()
	registerStubs(kinds)

	cfg := engine.DefaultConfig()
	cfg.MaxConcurrent = 2
	cfg.CooldownPeriod = 200 * time.Millisecond
	cfg.IdlePoll = 50 * time.Millisecond
	cfg.Retry.BaseDelay = 50 * time.Millisecond
	cfg.Retry.Step = 10 * time.Millisecond
	cfg.Retry.Jitter = 10 * time.Millisecond

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := engine.New(cfg, db, logger)
	q.Start(ctx)
	defer q.Stop()

	srv := api.NewServer(addr, q, kinds, db, logger)

	logger.Info("testserver: starting", "addr", addr)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
