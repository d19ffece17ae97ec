package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"genwatch/internal/history"
	"genwatch/internal/httpapi"
	"genwatch/internal/infra"
	"genwatch/internal/monitor"
)

func main() {
	// Muat .env (opsional)
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()

	// History recorder is optional; the watcher runs without a database.
	var recorder *history.RecorderPG
	if cfg.DatabaseURL != "" {
		dbpool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer dbpool.Close()

		recorder = history.NewRecorder(dbpool)
		if err := recorder.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare history schema")
		}
	}

	registry, err := monitor.NewRegistry(monitor.Options{
		Identity:      cfg.Identity,
		EndpointBase:  cfg.BackendBaseURL,
		StreamTimeout: cfg.StreamTimeout,
		PollInterval:  cfg.PollInterval,
		Logger:        &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build job registry")
	}

	registry.SetCallbacks(monitor.Callbacks{
		OnComplete: func(jobID, resultURL string) {
			logger.Info().Str("job_id", jobID).Str("result_url", resultURL).Msg("generation completed")
			persistOutcome(registry, recorder, logger, jobID)
		},
		OnError: func(jobID, message string) {
			logger.Warn().Str("job_id", jobID).Str("reason", message).Msg("generation failed")
			persistOutcome(registry, recorder, logger, jobID)
		},
	})

	app := httpapi.NewApp(registry, recorder, logger)
	router := httpapi.NewRouter(app, logger, cfg.AllowedOrigins)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("status API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	registry.StopAll()
	logger.Info().Msg("watcher stopped")
}

// persistOutcome writes the job's terminal record to history when a database
// is configured. The record is read back from the registry so the stored row
// matches what the status API reports.
func persistOutcome(registry *monitor.Registry, recorder *history.RecorderPG, logger infra.Logger, jobID string) {
	if recorder == nil {
		return
	}
	job, ok := registry.Job(jobID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := recorder.RecordTerminal(ctx, job); err != nil {
		logger.Error().Err(err).Str("job_id", jobID).Msg("failed to record job history")
	}
}
