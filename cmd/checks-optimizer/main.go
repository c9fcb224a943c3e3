package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/checks-optimizer/internal/api"
	"github.com/Checker-Finance/checks-optimizer/internal/bootstrap"
	"github.com/Checker-Finance/checks-optimizer/internal/catalog"
	"github.com/Checker-Finance/checks-optimizer/internal/jobs"
	"github.com/Checker-Finance/checks-optimizer/internal/publisher"
	"github.com/Checker-Finance/checks-optimizer/internal/service"
	"github.com/Checker-Finance/checks-optimizer/internal/store"
	"github.com/Checker-Finance/checks-optimizer/pkg/config"
	"github.com/Checker-Finance/checks-optimizer/pkg/eventbus"
	"github.com/Checker-Finance/checks-optimizer/pkg/logger"
	"github.com/Checker-Finance/checks-optimizer/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	decimal.MarshalJSONWithoutQuotes = true

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [checks-optimizer]...")

	if err := cfg.Validate(); err != nil {
		logg.Fatalw("invalid configuration", "error", err)
	}
	if cfg.ReservoirAPIKey != "" {
		logg.Infow("using static listing-source key", "key", utils.MaskSecret(cfg.ReservoirAPIKey))
	}

	// --- Event bus + external sinks ---
	bus := eventbus.New()
	var sinks []publisher.Sink

	var nc *nats.Conn
	if cfg.NATSURL != "" {
		var err error
		nc, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			logg.Fatalw("failed to connect to NATS", "error", err)
		}
		natsSink, err := publisher.NewNATS(nc, cfg.ServiceName)
		if err != nil {
			logg.Fatalw("failed to init NATS publisher", "error", err)
		}
		if err := natsSink.EnsureStream(cfg.NATSStream, "evt.checks.>"); err != nil {
			logg.Warnw("failed to ensure NATS stream", "stream", cfg.NATSStream, "error", err)
		}
		sinks = append(sinks, natsSink)
	}

	var rabbit *publisher.RabbitSink
	if cfg.RabbitMQURL != "" {
		var err error
		rabbit, err = publisher.DialRabbit(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			logg.Fatalw("failed to init RabbitMQ publisher", "error", err)
		}
		sinks = append(sinks, rabbit)
	}

	if len(sinks) > 0 {
		publisher.NewForwarder(logger.Named("publisher"), cfg.ServiceName, 5*time.Second, sinks...).
			Attach(bus)
	}

	// --- Store (Redis snapshot slots + optional Postgres run history) ---
	var st *store.HybridStore
	if cfg.RedisAddr != "" {
		if cfg.DatabaseURL != "" {
			logg.Info("connection to Postgres DSN: ", utils.MaskDSN(cfg.DatabaseURL))
		}
		var err error
		st, err = store.NewHybrid(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, cfg.DatabaseURL, store.PGPoolConfig{
			MaxConns:          int32(cfg.PGMaxConns),
			MinConns:          int32(cfg.PGMinConns),
			MaxConnLifetime:   cfg.PGMaxConnLifetime,
			MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
			HealthCheckPeriod: cfg.PGHealthCheckPeriod,
		}, logger.Named("store"))
		if err != nil {
			logg.Fatalw("failed to init store", "error", err)
		}
		if err := st.EnsureSchema(ctx); err != nil {
			logg.Fatalw("failed to ensure run history schema", "error", err)
		}
		st.SetRetention(cfg.SnapshotRetention)
	} else {
		logg.Warn("REDIS_ADDR not configured; snapshots will not survive restarts")
	}

	// --- Listing source + catalog cache ---
	source, err := bootstrap.ListingSource(ctx, cfg, logger.L())
	if err != nil {
		logg.Fatalw("failed to init listing source", "error", err)
	}

	cacheOpts := []catalog.Option{catalog.WithPublisher(bus)}
	if st != nil {
		cacheOpts = append(cacheOpts, catalog.WithStore(st))
	}
	cache := catalog.New(logger.Named("catalog"), source, bootstrap.CatalogOptions(cfg), cacheOpts...)
	if cache.Restore(ctx) {
		logg.Info("catalog restored from store")
	}

	var svcOpts []service.Option
	if st != nil {
		svcOpts = append(svcOpts, service.WithReportCache(st, cfg.SnapshotRetention))
	}
	svc := service.New(logger.Named("service"), cache, cfg.MarketplaceURL, svcOpts...)

	// --- Periodic refresher ---
	var refresher *jobs.Refresher
	if cfg.RefreshInterval > 0 {
		var recorder jobs.RunRecorder
		if st != nil {
			recorder = st
		}
		refresher = jobs.NewRefresher(logger.Named("refresher"), svc, recorder, bus, cfg.RefreshInterval)
		go refresher.Start(ctx)
	}

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	})

	var (
		health  api.HealthChecker
		updates api.UpdateClock
		history api.RunHistory
	)
	if st != nil {
		health, updates, history = st, st, st
	}
	handler := api.NewHandler(logger.Named("api"), svc, updates, history)
	api.RegisterRoutes(app, health, cache, handler)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[checks-optimizer] running",
		"env", cfg.Env,
		"ttl", cfg.CacheTTL,
		"stale_grace", cfg.CacheStaleGrace,
		"refresh_interval", cfg.RefreshInterval,
		"sinks", len(sinks))

	<-ctx.Done()
	logg.Info("shutting down [checks-optimizer]...")

	if refresher != nil {
		refresher.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	cache.Wait()
	if err := bus.Drain(shutdownCtx); err != nil {
		logg.Warnw("eventbus.drain_failed", "error", err)
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			logg.Warnw("nats.drain_failed", "error", err)
		}
	}
	if rabbit != nil {
		if err := rabbit.Close(); err != nil {
			logg.Warnw("rabbitmq.close_failed", "error", err)
		}
	}
	if st != nil {
		if err := st.Close(); err != nil {
			logg.Warnw("store.close_failed", "error", err)
		}
	}
}
