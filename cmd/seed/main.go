package main

import (
	"context"
	"os"
	"strconv"
	"time"

	"github.com/hackgods/consultation-scheduling/internal/config"
	"github.com/hackgods/consultation-scheduling/internal/db"
	"github.com/hackgods/consultation-scheduling/internal/log"
	"github.com/hackgods/consultation-scheduling/internal/platform"
)

func main() {
	log.Init(log.Config{Level: "info", JSONOutput: false, Output: os.Stdout})
	logger := log.WithComponent("seed")
	logger.Info().Msg("seed starting")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}
	if cfg.StorageDriver != config.StorageDriverPostgres {
		logger.Fatal().Str("storage", cfg.StorageDriver).Msg("seed needs STORAGE_DRIVER=postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolConfig{})
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	seed := uint64(time.Now().UnixNano())
	if v := os.Getenv("SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			seed = n
		}
	}
	sizes := platform.DemoSizes{
		Consultants: getInt("SEED_CONSULTANTS", 40),
		Customers:   getInt("SEED_CUSTOMERS", 2000),
	}

	demo := platform.GenerateDemo(seed, sizes)
	if err := demo.InsertPostgres(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("insert demo clinic")
	}

	logger.Info().
		Uint64("seed", seed).
		Int("consultants", len(demo.Consultants)).
		Int("windows", len(demo.Windows)).
		Int("services", len(demo.Services)).
		Int("customers", len(demo.Customers)).
		Msg("seed complete")
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}
