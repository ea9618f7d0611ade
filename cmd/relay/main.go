package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/workflow-relay/internal/config"
	"github.com/tjfontaine/workflow-relay/internal/github"
	"github.com/tjfontaine/workflow-relay/internal/relay"
	"github.com/tjfontaine/workflow-relay/internal/server"
	"github.com/tjfontaine/workflow-relay/internal/telemetry"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := telemetry.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("workflow-relay", cfg.Telemetry.Tracing, os.Stderr, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	client, err := github.NewClient(cfg.GitHub.Token, github.WithBaseURL(cfg.GitHub.BaseURL))
	if err != nil {
		log.Fatalf("Failed to create GitHub client: %v", err)
	}

	workflow := github.Workflow{
		Owner: cfg.GitHub.Owner,
		Repo:  cfg.GitHub.Repo,
		File:  cfg.GitHub.WorkflowFile,
		Ref:   cfg.GitHub.Ref,
	}
	handler := relay.NewHandler(client, workflow, logger, relay.WithMaxBodyBytes(cfg.Server.MaxBodyBytes))

	srv := server.New(cfg.Server, logger)
	srv.Router.Post("/trigger-workflow", handler.HandleTriggerWorkflow)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("relay ready",
		slog.String("repository", cfg.GitHub.Owner+"/"+cfg.GitHub.Repo),
		slog.String("workflow", cfg.GitHub.WorkflowFile),
		slog.String("ref", cfg.GitHub.Ref),
		slog.String("allowed_origin", cfg.Server.AllowedOrigin),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		return
	case <-sigChan:
	}

	logger.Info("shutdown signal received, stopping relay...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("relay shutdown complete")
}
