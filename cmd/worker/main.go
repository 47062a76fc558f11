package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/frauddetect/fraud-engine/configs"
	"github.com/frauddetect/fraud-engine/internal/queue"
	"github.com/frauddetect/fraud-engine/internal/repositories"
	"github.com/frauddetect/fraud-engine/internal/stats"
	"github.com/frauddetect/fraud-engine/internal/store"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg := configs.Load()

	// Setup logging
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Int("concurrency", cfg.Worker.Concurrency).
		Msg("Starting Fraud Engine Stats Worker")

	// Initialize store; the stats service reads rule metadata from it
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	st, err := store.Open(ctx, cfg.Store.URI, cfg.Store.Database, cfg.Store.Testing)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to store")
	}
	defer st.Close(context.Background())

	// Initialize Redis Stream client
	streamClient, err := queue.NewRedisStreamClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Stream")
	}
	defer streamClient.Close()

	// Initialize Redis Cache client
	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Cache")
	}
	defer cacheClient.Close()

	// Initialize stats service and worker
	ruleRepo := repositories.NewRuleRepository(st)
	statsService := stats.NewService(cacheClient, ruleRepo)
	worker := stats.NewWorker(uuid.NewString()[:8], statsService, streamClient, cfg.Worker)

	// Setup context with cancellation
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Start worker in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- worker.Start(runCtx)
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancelRun()
		<-errCh
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("Stats worker error")
		}
	}

	log.Info().Msg("Worker shutdown complete")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
