// Dispatcher server - accepts chat messages, runs asynchronous pipeline
// jobs, and streams incremental results to connected clients.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/splunk-chatops/dispatcher/internal/adapters"
	"github.com/splunk-chatops/dispatcher/internal/api"
	"github.com/splunk-chatops/dispatcher/internal/bus"
	"github.com/splunk-chatops/dispatcher/internal/config"
	"github.com/splunk-chatops/dispatcher/internal/models"
	"github.com/splunk-chatops/dispatcher/internal/pipeline"
	"github.com/splunk-chatops/dispatcher/internal/scheduler"
	"github.com/splunk-chatops/dispatcher/internal/session"
	"github.com/splunk-chatops/dispatcher/internal/store"
	"github.com/splunk-chatops/dispatcher/internal/stream"
	"github.com/splunk-chatops/dispatcher/internal/version"
)

const healthProbeInterval = 30 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config", getEnv("CONFIG_FILE", "./dispatcher.yaml"),
		"Path to YAML configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file loaded, using existing environment", "error", err)
	}

	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting dispatcher",
		"version", version.Full(),
		"http_port", httpPort,
		"llm_enabled", cfg.LLM.Enabled,
		"streaming_enabled", cfg.Streaming.Enabled,
		"mock_enabled", cfg.Mock.Enabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("Error closing store", "error", err)
		}
	}()

	eventBus := bus.New()
	registry := session.New(5 * time.Second)

	// Bus -> registry bridge: every envelope on the events topic is built
	// once and fanned out to all live channels.
	eventBus.Subscribe(bus.TopicEvents, func(ctx context.Context, payload any) error {
		registry.Broadcast(ctx, payload)
		return nil
	})

	llm := adapters.NewHTTPLLM(cfg.LLM, cfg.Adapters)
	retrieval := adapters.NewHTTPRetrieval(cfg.Retrieval, cfg.Adapters)
	analytics := adapters.NewHTTPAnalytics(cfg.Analytics, cfg.Adapters)
	go llm.StartHealthProbe(ctx, healthProbeInterval)
	go retrieval.StartHealthProbe(ctx, healthProbeInterval)
	go analytics.StartHealthProbe(ctx, healthProbeInterval)

	streamer := stream.New(st, eventBus)
	engine := pipeline.NewEngine(st, eventBus, llm, retrieval, analytics, streamer, cfg)
	sched := scheduler.New(cfg.Scheduler.WorkerCount, cfg.Scheduler.ShutdownGrace)

	server := api.NewServer(cfg, st, sched, engine, registry, eventBus)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(":" + httpPort)
	}()
	slog.Info("HTTP server listening", "addr", ":"+httpPort)

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			slog.Error("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}

	// Cancel live tasks and give them the configured grace period; any
	// job still non-terminal afterwards is failed with reason "shutdown",
	// best-effort.
	leftover := sched.Shutdown()
	for _, jobID := range leftover {
		if _, err := st.Jobs().Transition(shutdownCtx, jobID, models.JobTransition{
			Status: models.JobStatusFailed,
			Error:  "shutdown",
		}); err != nil {
			slog.Warn("Could not fail job on shutdown", "job_id", jobID, "error", err)
		}
	}

	slog.Info("Dispatcher stopped")
}

// openStore selects the persistence backend: Postgres for a real URL,
// the in-memory store when STORE_URL is set to "memory" (local
// development without a database).
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Store.URL == "memory" {
		slog.Info("Using in-memory store")
		return store.NewMemoryStore(), nil
	}
	st, err := store.NewPostgresStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	slog.Info("Connected to PostgreSQL store")
	return st, nil
}
