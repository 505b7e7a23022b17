package main

import (
	"context"
	"log"
	"os"

	"github.com/seantiz/turnstile/internal/api"
	"github.com/seantiz/turnstile/internal/config"
	"github.com/seantiz/turnstile/internal/engine"
	"github.com/seantiz/turnstile/internal/store"
	"github.com/seantiz/turnstile/internal/task"
	"github.com/seantiz/turnstile/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.Level())

	logger.Info("turnstile: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"upstream", cfg.Upstream.BaseURL,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	kinds := task.NewRegistry()
	client := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.Token, cfg.Upstream.Timeout)
	client.Register(kinds)
	if client.Token() == "" {
		logger.Warn("upstream token not set; fetch tasks will fail")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := engine.New(cfg.Queue.Engine(), db, logger)
	q.Start(ctx)
	defer q.Stop()

	srv := api.NewServer(cfg.ListenAddr, q, kinds, db, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
