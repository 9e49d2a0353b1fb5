// Package main is the entrypoint for the flag-propagation worker. It consumes
// change events and rewrites the visibility flag on the owner's documents.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/annotator/nipsa/internal/app"
	"github.com/annotator/nipsa/internal/config"
	"github.com/annotator/nipsa/internal/handler"
	"github.com/annotator/nipsa/internal/logging"
	"github.com/annotator/nipsa/internal/metrics"
	"github.com/annotator/nipsa/internal/nipsa"
	"github.com/annotator/nipsa/internal/server"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited", "error", err)
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
	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat).With("service", "worker")

	rdb, err := app.OpenRedis(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	recorder := metrics.NewPrometheus("nipsa")

	channel, err := app.OpenChannel(cfg, rdb, logger, recorder, true)
	if err != nil {
		return err
	}

	index, err := app.OpenIndex(cfg, logger)
	if err != nil {
		channel.Close()
		return err
	}
	defer index.Close()

	propagator := nipsa.NewPropagator(index, logger, recorder)

	ops := server.New(
		opsRouter(recorder, channel.Health, index),
		cfg.MetricsPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)
	ops.OnShutdown("channel", func(context.Context) error { return channel.Close() })
	ops.OnShutdown("consumer", channel.Consumer.Shutdown)

	logger.Info("starting worker",
		"queue_backend", cfg.QueueBackend,
		"topic", cfg.QueueTopic,
		"channel", cfg.QueueChannel,
		"search_backend", cfg.SearchBackend,
		"metrics_port", cfg.MetricsPort,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ops.Run(gctx)
	})
	g.Go(func() error {
		return channel.Consumer.Run(gctx, propagator.HandleMessage)
	})
	return g.Wait()
}

// opsRouter serves probes and metrics for the worker.
func opsRouter(recorder *metrics.PrometheusRecorder, channel app.Pinger, index handler.HealthChecker) http.Handler {
	var channelCheck handler.HealthChecker
	if channel != nil {
		channelCheck = channel
	}
	health := handler.NewHealthHandler(
		handler.Check{Name: "queue", Checker: channelCheck},
		handler.Check{Name: "search", Checker: index},
	)

	r := chi.NewRouter()
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Method(http.MethodGet, "/metrics", recorder.Handler())
	return r
}
