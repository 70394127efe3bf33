package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leveltwo/internal/changefeed"
	"leveltwo/internal/config"
	"leveltwo/internal/store"
	"leveltwo/internal/users"
	"leveltwo/pkg/logger"
)

// Worker keeps an activity log of the change feed and purges dead refresh
// tokens on an interval.
func main() {
	cfg := config.Load()
	log := logger.NewFromEnv().With("component", "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Critical("db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := users.NewRepository(db)

	var events <-chan changefeed.Event
	if cfg.FeedBackend == "memory" {
		log.Warn("memory feed is per process, activity log disabled")
	} else {
		redisClient := store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		events, err = changefeed.NewRedis(redisClient.Client, cfg.FeedChannel).Subscribe(ctx)
		if err != nil {
			log.Critical("feed subscribe failed", "err", err)
			os.Exit(1)
		}
	}

	purge := func() {
		n, err := repo.PurgeRefreshTokens(ctx, time.Now())
		if err != nil {
			log.InternalError("purge refresh tokens failed", err)
			return
		}
		log.Info("purged refresh tokens", "count", n)
	}
	purge()

	ticker := time.NewTicker(cfg.PurgeInterval)
	defer ticker.Stop()

	log.Info("worker started", "purge_interval", cfg.PurgeInterval)
	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return
		case <-ticker.C:
			purge()
		case evt, ok := <-events:
			if !ok {
				events = nil
				log.Warn("change feed closed")
				continue
			}
			log.Info("change",
				"table", evt.Table,
				"type", evt.Type,
				"date", evt.Date,
				"actor", evt.Actor,
				"request_id", evt.RequestID,
			)
		}
	}
}
