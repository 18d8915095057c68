package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/jupark12/go-display-pdf/cache"
	"github.com/jupark12/go-display-pdf/config"
	"github.com/jupark12/go-display-pdf/httpclient"
	"github.com/jupark12/go-display-pdf/models"
	"github.com/jupark12/go-display-pdf/pipeline"
	"github.com/jupark12/go-display-pdf/server"
	"github.com/jupark12/go-display-pdf/task"
)

func main() {
	cfg := config.Load()

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if cfg.LogPretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// One pooled HTTP client for the whole process; every fetch goes
	// through it.
	client := httpclient.New(cfg, logger)
	defer client.Close()

	fetcher := pipeline.NewFetcher(client, cfg.DownloadConcurrency, logger)
	registry := task.NewRegistry(cfg.JobRetention, logger)
	artifacts := cache.New(cfg.CacheTTL, logger)
	orch := task.New(cfg, client, fetcher, registry, artifacts, logger)
	hub := models.NewHub(logger)

	srv := server.New(cfg, orch, registry, hub, logger)
	srv.Start()

	logger.Info().
		Str("addr", cfg.HTTPAddr).
		Int("max_tasks", cfg.MaxTasks).
		Int("download_concurrency", cfg.DownloadConcurrency).
		Msg("display-pdf service started")

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown did not complete cleanly")
	}
}
