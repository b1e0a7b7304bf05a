package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/hackgods/consultation-scheduling/internal/api"
	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/log"
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
	logger := log.WithComponent("api-server")
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("storage", cfg.StorageDriver).
		Str("clinic_timezone", cfg.ClinicTimezone).
		Msg("api-server starting up")

	rootCtx, stop := platform.SignalContext()
	defer stop()

	shutdownTracing, err := tracing.Setup(rootCtx, tracing.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  "scheduling-api",
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

	stack, err := platform.Open(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		stack.Close(ctx)
	}()

	svc := stack.NewService()
	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		PgPool:  stack.Pool,
		Redis:   stack.Redis,
		Env:     cfg.Env,
		Version: cfg.Version,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Memory rows are invisible to a separate reconcile-worker.
	var sweeps sync.WaitGroup
	if cfg.StorageDriver == config.StorageDriverMemory {
		runner := stack.NewRunner(svc)
		sweeps.Add(1)
		go func() {
			defer sweeps.Done()
			runner.Run(rootCtx)
		}()
		logger.Info().Msg("reconciliation sweeps running in-process")
	}

	if err := platform.Serve(rootCtx, srv, cfg.ShutdownTimeout, logger); err != nil {
		logger.Error().Err(err).Msg("http server stopped with error")
	}
	stop()
	sweeps.Wait()
	logger.Info().Msg("shutting down api-server")
}
