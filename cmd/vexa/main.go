// Vexa server — launches meeting bots, collects transcription segments from
// the Redis streams, promotes settled segments to PostgreSQL and serves the
// HTTP API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vexa-ai/vexa/pkg/api"
	"github.com/vexa-ai/vexa/pkg/bots"
	"github.com/vexa-ai/vexa/pkg/bus"
	"github.com/vexa-ai/vexa/pkg/collector"
	"github.com/vexa-ai/vexa/pkg/config"
	"github.com/vexa-ai/vexa/pkg/database"
	"github.com/vexa-ai/vexa/pkg/docker"
	"github.com/vexa-ai/vexa/pkg/services"
	"github.com/vexa-ai/vexa/pkg/tasks"
	"github.com/vexa-ai/vexa/pkg/transcripts"
	"github.com/vexa-ai/vexa/pkg/version"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting Vexa", "version", version.Full(), "http_port", cfg.HTTPPort)

	ctx := context.Background()

	// 1. Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	// 2. Redis bus
	b, err := bus.NewRedisBus(ctx, cfg.Bus.RedisURL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "url", cfg.Bus.RedisURL, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := b.Close(); err != nil {
			slog.Error("Error closing Redis bus", "error", err)
		}
	}()
	slog.Info("Connected to Redis", "url", cfg.Bus.RedisURL)

	// 3. Container engine
	driver, err := docker.NewEngineDriver(ctx, cfg.Bots.DockerHost)
	if err != nil {
		slog.Error("Failed to connect to Docker engine", "host", cfg.Bots.DockerHost, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := driver.Close(); err != nil {
			slog.Error("Error closing Docker client", "error", err)
		}
	}()

	// 4. Domain services
	userService := services.NewUserService(dbClient.Pool)
	meetingService := services.NewMeetingService(dbClient.Pool)
	sessionService := services.NewSessionService(dbClient.Pool)
	transcriptService := services.NewTranscriptService(dbClient.Pool)
	slog.Info("Services initialized")

	// 5. Post-meeting task runner
	runner := tasks.NewRunner(meetingService, tasks.NewWebhookTask(userService))

	// 6. Bot lifecycle manager
	manager := bots.NewManager(meetingService, sessionService, driver, b, runner, cfg.Bots, cfg.Bus.RedisURL)

	// 7. Stream consumer
	processor := collector.NewProcessor(userService, meetingService, sessionService, b, cfg.Bus)
	consumer := collector.NewConsumer(b, processor, cfg.Bus)
	if err := consumer.Start(ctx); err != nil {
		slog.Error("Failed to start stream consumer", "error", err)
		os.Exit(1)
	}
	slog.Info("Stream consumer started",
		"transcription_stream", cfg.Bus.TranscriptionStream,
		"speaker_stream", cfg.Bus.SpeakerStream)

	// 8. Segment promoter
	promoter := collector.NewPromoter(b, transcriptService, collector.NewFilter(), cfg.Collector)
	promoter.Start(ctx)
	slog.Info("Segment promoter started", "interval", cfg.Collector.PromoterInterval)

	// 9. HTTP server
	assembler := transcripts.NewAssembler(meetingService, sessionService, transcriptService, b)
	httpServer := api.NewServer(userService, manager, assembler, meetingService, dbClient.Pool, b, cfg.AdminAPIToken)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Vexa started successfully")

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: stop ingest first so nothing new lands in the
	// buffer, then drain the API, then wait out delayed container stops.
	consumer.Stop()
	slog.Info("Stream consumer stopped")

	promoter.Stop()
	slog.Info("Segment promoter stopped")

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	managerDone := make(chan struct{})
	go func() {
		manager.Wait()
		close(managerDone)
	}()
	select {
	case <-managerDone:
	case <-time.After(cfg.Bots.DelayedStopAfter + cfg.Bots.StopTimeout):
		slog.Warn("Timed out waiting for delayed bot stops")
	}

	slog.Info("Shutdown complete")
}
