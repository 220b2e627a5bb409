// Command ledgerd runs the accounting engine as a daemon: the expiry sweep,
// the outbox relay to Kafka and an ops endpoint serving health and metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/accounting"
	audithook "github.com/xraph/accounting/audit_hook"
	"github.com/xraph/accounting/config"
	"github.com/xraph/accounting/liquidity"
	"github.com/xraph/accounting/observability"
	"github.com/xraph/accounting/store"
	"github.com/xraph/accounting/store/memory"
	"github.com/xraph/accounting/store/postgres"
	"github.com/xraph/accounting/store/sqlite"
	"github.com/xraph/accounting/store/tigerbeetle"
	"github.com/xraph/accounting/webhook"
	"github.com/xraph/accounting/webhook/kafka"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	envFile := flag.String("env", ".env", "path to a .env file")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerd:", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetricsExtension(observability.NewPrometheusFactory(registry))

	audit := audithook.New(audithook.RecorderFunc(func(_ context.Context, e *audithook.AuditEvent) error {
		logger.Info("audit",
			"action", e.Action,
			"resource", e.Resource,
			"resource_id", e.ResourceID,
			"outcome", e.Outcome,
			"severity", e.Severity,
		)
		return nil
	}), audithook.WithLogger(logger))

	svc := accounting.New(s,
		accounting.WithConfig(cfg.Engine),
		accounting.WithLogger(logger),
		accounting.WithPlugin(metrics),
		accounting.WithPlugin(audit),
		accounting.WithThresholdSource(peerThresholds(cfg.PeerThresholds)),
	)
	if err := svc.Start(ctx); err != nil {
		_ = s.Close()
		return err
	}
	defer func() {
		if err := svc.Stop(); err != nil {
			logger.Error("stop failed", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	if len(cfg.Kafka.Brokers) > 0 {
		pub := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer pub.Close()

		relay := webhook.NewRelay(s, pub,
			webhook.WithRelayLogger(logger),
			webhook.WithRelayInterval(cfg.Relay.Interval),
			webhook.WithRelayBatchSize(cfg.Relay.BatchSize),
		)
		g.Go(func() error { return relay.Run(gctx) })
		logger.Info("webhook relay started", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router(s, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("ops server listening", "addr", cfg.ListenAddr, "backend", cfg.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func router(s store.Store, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return r
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		return sqlite.Open(cfg.SQLite.Path)
	case config.BackendPostgres:
		return postgres.Open(ctx, cfg.Postgres.URL)
	case config.BackendTigerBeetle:
		var (
			sidecar store.Sidecar
			err     error
		)
		if cfg.TigerBeetle.SidecarURL != "" {
			sidecar, err = postgres.Open(ctx, cfg.TigerBeetle.SidecarURL)
		} else {
			sidecar, err = sqlite.Open(cfg.TigerBeetle.SidecarPath)
		}
		if err != nil {
			return nil, err
		}
		tb, err := tigerbeetle.Open(cfg.TigerBeetle.ClusterID, cfg.TigerBeetle.Addresses, sidecar)
		if err != nil {
			_ = sidecar.Close()
			return nil, err
		}
		return tb, nil
	default:
		return memory.New(), nil
	}
}

func peerThresholds(thresholds map[string]uint64) liquidity.ThresholdSource {
	return liquidity.ThresholdFunc(func(_ context.Context, peerID string) (*uint64, error) {
		t, ok := thresholds[peerID]
		if !ok {
			return nil, nil
		}
		return &t, nil
	})
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
