package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/config"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/db"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/events"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/logger"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/metrics"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository/memory"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/repository/postgres"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/service"
)

var rootCmd = &cobra.Command{
	Use:           "stockflow",
	Short:         "Multi-location inventory, sales and purchasing back-end",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app holds what every command needs: configuration, a logger and an open store.
type app struct {
	cfg     config.Config
	log     *zap.Logger
	store   repository.Store
	metrics *metrics.Metrics
	hub     *events.Hub
	redis   *redis.Client
	relay   *events.RedisRelay
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	if cfg.MemoryStore() {
		log.Warn("using the in-memory store; data is lost on exit")
		a.store = memory.New()
	} else {
		pool, err := db.NewPool(ctx, cfg.StoreURI, cfg.Pool)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		if err := db.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		a.store = postgres.New(pool)
	}

	a.hub = events.NewHub(log.Named("events"))
	a.hub.OnDrop(a.metrics.EventDropped)
	if cfg.RedisURL != "" {
		client, err := events.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = client
		a.relay = events.NewRedisRelay(client, cfg.EventsChannel, a.hub, log.Named("relay"))
	}
	return a, nil
}

// bus is the relay when Redis is configured so other instances see events
// raised here, and the local hub otherwise.
func (a *app) bus() events.Publisher {
	if a.relay != nil {
		return a.relay
	}
	return a.hub
}

func (a *app) service() *service.Service {
	return service.New(a.store, a.bus(), a.log.Named("service"), a.metrics)
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	_ = a.log.Sync()
}
