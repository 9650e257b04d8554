// Command chameleond is the HTTP adapter process: it wires a store driver,
// the engine/sweeper/pilot core, the telemetry outbox/drainer, and exposes
// spec.md §6's operation set over go-chi. Grounded on the teacher's
// examples/prometheus_monitoring/main.go (Prometheus registry + /metrics
// handler, signal-driven graceful shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/clydewatts1/chameleon-workflow-engine/internal/config"
	"github.com/clydewatts1/chameleon-workflow-engine/internal/httpapi"
	"github.com/clydewatts1/chameleon-workflow-engine/internal/storedriver"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/emit"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/engine"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/guardctx"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/model"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/pilot"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/provider"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/sweeper"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "path to config file (optional)")
	flag.Parse()

	if err := run(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "chameleond: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg)
	log.WithField("store_driver", cfg.StoreDriver).Info("starting chameleond")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opened, err := storedriver.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if opened.DB != nil {
		defer opened.DB.Close()
	}

	registry := prometheus.NewRegistry()
	metrics := engine.NewMetrics(registry)

	fileEmitter, err := emit.NewFileEmitter(cfg.TelemetryFilePath)
	if err != nil {
		return fmt.Errorf("open telemetry file: %w", err)
	}
	defer fileEmitter.Close()

	broadcaster := emit.NewOutboxBroadcaster(opened.Store, func() string { return uuid.NewString() })
	drainer := emit.NewDrainer(opened.Store, []emit.Emitter{fileEmitter, emit.NewLogEmitter(os.Stdout, cfg.LogFormat == "json")}, cfg.TelemetryDrainEvery, cfg.TelemetryBatchSize)
	go drainer.Run(ctx)

	resolver := provider.NewRouter(log.WithField("component", "provider"))
	guardCtx := guardctx.New(opened.Store)

	eng := engine.New(
		opened.Store,
		engine.WithLogger(log),
		engine.WithBroadcaster(broadcaster),
		engine.WithModelResolver(resolver),
		engine.WithMetrics(metrics),
		engine.WithGuardContext(guardCtx),
		engine.WithHighRiskStatuses(model.StatusCompleted, model.StatusFailed),
		engine.WithPilotWaitTimeout(cfg.PilotWaitTimeout),
	)

	sw := sweeper.New(
		opened.Store,
		sweeper.WithLogger(log.Logger),
		sweeper.WithBroadcaster(broadcaster),
		sweeper.WithZombieThreshold(cfg.ZombieThreshold, cfg.ZombieInterval),
		sweeper.WithMemoryRetention(cfg.MemoryRetention, cfg.MemoryInterval),
	)
	sw.Start(ctx)

	pl := pilot.New(
		opened.Store,
		pilot.WithLogger(log.Logger),
		pilot.WithBroadcaster(broadcaster),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", httpapi.New(eng, sw, pl, log, cfg.CORSAllowedOrigins).Handler())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func newLogger(cfg *config.Config) *logrus.Entry {
	l := logrus.New()
	if cfg.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	return logrus.NewEntry(l)
}
