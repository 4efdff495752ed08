package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicbase/scheduling/internal/config"
	"github.com/clinicbase/scheduling/internal/db"
	redisclient "github.com/clinicbase/scheduling/internal/redis"
	"github.com/clinicbase/scheduling/internal/scheduling"
)

func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "outbox-worker").Logger()
	log.Info().Msg("outbox-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.OutboxInterval).
		Str("channel", cfg.OutboxChannel).
		Msg("running outbox worker")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	repo := scheduling.NewPgRepository(pgPool)
	pub := redisclient.NewChannelPublisher(rdb)
	dispatcher := scheduling.NewOutboxDispatcher(repo, pub, cfg.OutboxChannel, cfg.OutboxBatch, log)

	// Run once at startup
	runOnce(rootCtx, dispatcher, log)

	ticker := time.NewTicker(cfg.OutboxInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping outbox worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, dispatcher, log)
		}
	}
}

func runOnce(ctx context.Context, dispatcher *scheduling.OutboxDispatcher, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := dispatcher.RunOnce(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("outbox run error")
		return
	}
	if n > 0 {
		log.Info().Int("dispatched", n).Dur("took", time.Since(start)).Msg("outbox run complete")
	}
}
