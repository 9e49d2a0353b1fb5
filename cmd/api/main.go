// Package main is the entrypoint for the NIPSA Administrative API server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/annotator/nipsa/internal/app"
	"github.com/annotator/nipsa/internal/cache"
	"github.com/annotator/nipsa/internal/config"
	"github.com/annotator/nipsa/internal/handler"
	"github.com/annotator/nipsa/internal/logging"
	"github.com/annotator/nipsa/internal/metrics"
	"github.com/annotator/nipsa/internal/middleware"
	"github.com/annotator/nipsa/internal/server"
	"github.com/annotator/nipsa/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	rdb, err := app.OpenRedis(ctx, cfg, logger)
	if err != nil {
		store.Close()
		return err
	}

	recorder := metrics.NewPrometheus("nipsa")

	channel, err := app.OpenChannel(cfg, rdb, logger, recorder, false)
	if err != nil {
		store.Close()
		if rdb != nil {
			rdb.Close()
		}
		return err
	}

	// Interface values stay nil without Redis so the service and auth
	// middleware skip caching.
	var (
		statusCache service.StatusCache
		authCache   middleware.AuthCache
		cacheCheck  handler.HealthChecker
	)
	if rdb != nil {
		c := cache.NewFromClient(rdb, cfg.CachePrefix)
		statusCache, authCache, cacheCheck = c, c, c
	}

	var channelCheck handler.HealthChecker
	if channel.Health != nil {
		channelCheck = channel.Health
	}

	nipsaService := service.NewNipsaService(store, channel.Publisher, statusCache, logger, recorder)

	routerCfg := handler.RouterConfig{
		Logger:   logger,
		Recorder: recorder,
		Nipsa:    handler.NewNipsaHandler(nipsaService, logger),
		Health: handler.NewHealthHandler(
			handler.Check{Name: "database", Checker: store},
			handler.Check{Name: "redis", Checker: cacheCheck},
			handler.Check{Name: "queue", Checker: channelCheck},
		),
		Metrics:       recorder.Handler(),
		IsDevelopment: cfg.IsDevelopment(),
	}
	if cfg.AuthEnabled {
		routerCfg.Auth = &middleware.AuthConfig{
			Logger:      logger,
			Keys:        store,
			Cache:       authCache,
			MinDuration: middleware.DefaultMinAuthDuration,
		}
	}

	srv := server.New(
		handler.NewRouter(routerCfg),
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)
	srv.OnShutdown("database", func(context.Context) error { return store.Close() })
	if rdb != nil {
		srv.OnShutdown("redis", func(context.Context) error { return rdb.Close() })
	}
	srv.OnShutdown("channel", func(context.Context) error { return channel.Close() })

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"store", cfg.StoreDriver,
		"queue_enabled", cfg.QueueEnabled,
		"queue_backend", cfg.QueueBackend,
		"auth_enabled", cfg.AuthEnabled,
	)

	return srv.Run(ctx)
}
