package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hackgods/consultation-scheduling/internal/api"
	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/log"
	"github.com/hackgods/consultation-scheduling/internal/metrics"
	"github.com/hackgods/consultation-scheduling/internal/platform"
	"github.com/hackgods/consultation-scheduling/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Init(log.Config{Level: "info"})
		log.Logger.Fatal().Err(err).Msg("config load error")
	}

	log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON, Output: os.Stdout})
	logger := log.WithComponent("reconcile-worker")
	logger.Info().
		Str("env", cfg.Env).
		Dur("late_cancel_interval", cfg.LateCancelInterval).
		Dur("reminder_interval", cfg.ReminderInterval).
		Dur("unpaid_sweep_at", cfg.UnpaidSweepAt).
		Msg("reconcile-worker starting up")

	rootCtx, stop := platform.SignalContext()
	defer stop()

	shutdownTracing, err := tracing.Setup(rootCtx, tracing.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "scheduling-reconcile-worker",
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampling,
	})
	if err != nil {
		logger.Error().Err(err).Msg("tracing setup failed, continuing without export")
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
	}

	if cfg.StorageDriver == config.StorageDriverMemory {
		logger.Fatal().Msg("memory storage driver keeps rows inside api-server, which runs the sweeps itself")
	}

	stack, err := platform.Open(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		stack.Close(ctx)
	}()

	runner := stack.NewRunner(stack.NewService())

	health := api.NewHealthHandler(stack.Pool, stack.Redis, cfg.Env, cfg.Version)
	mux := chi.NewRouter()
	mux.Get("/health/live", health.Liveness)
	mux.Get("/health/ready", health.Readiness)
	mux.Method(http.MethodGet, "/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.WorkerHTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := platform.Serve(rootCtx, srv, cfg.ShutdownTimeout, logger); err != nil {
			logger.Error().Err(err).Msg("ops server stopped with error")
		}
	}()

	runner.Run(rootCtx)
	logger.Info().Msg("shutdown signal received, stopping reconcile worker")
}
