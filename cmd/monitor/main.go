package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/fxlab/oanda-stream/internal/classify"
	"github.com/fxlab/oanda-stream/internal/config"
	"github.com/fxlab/oanda-stream/internal/database"
	"github.com/fxlab/oanda-stream/internal/metrics"
	"github.com/fxlab/oanda-stream/internal/model"
	"github.com/fxlab/oanda-stream/internal/monitor"
	"github.com/fxlab/oanda-stream/internal/router"
	"github.com/fxlab/oanda-stream/internal/stream"
	"github.com/fxlab/oanda-stream/internal/version"
	"github.com/fxlab/oanda-stream/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/monitor.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting monitor",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"environment", cfg.Instance.Environment,
		"stream_url", cfg.Broker.StreamURL,
		"instruments", strings.Join(cfg.Broker.Instruments, ","),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Prometheus exporter
	promReg := prometheus.NewRegistry()
	prom := metrics.NewPromMetrics(promReg)

	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: mux,
	}
	go func() {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Metrics registry and gate state
	metricsCfg := metrics.Config{
		WindowSize:         cfg.Metrics.WindowSize,
		ThroughputWindow:   cfg.Metrics.ThroughputWindow,
		BacklogThresholdMs: cfg.Metrics.BacklogThresholdMs,
		OutlierHighMs:      cfg.Metrics.OutlierHighMs,
	}
	registry, err := monitor.NewRegistry(metricsCfg, cfg.Gate, prom, logger)
	if err != nil {
		logger.Error("failed to create registry", "error", err)
		os.Exit(1)
	}

	// Optional persistence
	var db *pgxpool.Pool
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Timescale.Host,
			"port", cfg.Database.Timescale.Port,
			"database", cfg.Database.Timescale.Name,
		)
		db, err = database.Connect(ctx, cfg.Database.Timescale)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		logger.Info("database connected")
	}

	writerCfg := writer.WriterConfig{
		BatchSize:     cfg.Writers.BatchSize,
		FlushInterval: cfg.Writers.FlushInterval,
	}

	type stoppable interface {
		Stop(ctx context.Context) error
	}
	var stoppables []stoppable

	// Snapshotter: feeds gauges always, the snapshot writer only with a DB.
	var snapshotBuf *router.GrowableBuffer[model.StreamMetricsSnapshot]
	if db != nil {
		snapshotBuf = router.NewGrowableBuffer[model.StreamMetricsSnapshot](cfg.Writers.BufferSize)
		snapshotWriter := writer.NewSnapshotWriter(writerCfg, snapshotBuf, db, logger)
		if err := snapshotWriter.Start(ctx); err != nil {
			logger.Error("failed to start snapshot writer", "error", err)
			os.Exit(1)
		}
		stoppables = append(stoppables, snapshotWriter)
	}

	snapshotter := monitor.NewSnapshotter(
		monitor.SnapshotterConfig{Interval: cfg.Metrics.SnapshotInterval},
		registry, prom, snapshotBuf, logger,
	)
	if err := snapshotter.Start(ctx); err != nil {
		logger.Error("failed to start snapshotter", "error", err)
		os.Exit(1)
	}
	stoppables = append(stoppables, snapshotter)

	// One supervisor/router pair per enabled stream
	g, gctx := errgroup.WithContext(ctx)

	modes := enabledModes(cfg.Streams)
	for _, mode := range modes {
		supCfg := stream.SupervisorConfig{
			Mode:           mode,
			Reconnect:      cfg.Streams.Reconnect,
			MaxRetries:     retryLimit(cfg.Streams.MaxRetries),
			BackoffBase:    cfg.Streams.BackoffBase,
			BackoffMax:     cfg.Streams.BackoffMax,
			SessionTimeout: cfg.Streams.SessionTimeout,
			BufferSize:     cfg.Streams.BufferSize,
		}
		transportCfg := stream.TransportConfig{
			URL:         streamURL(cfg.Broker, mode),
			Token:       cfg.Broker.Token,
			IdleTimeout: cfg.Streams.IdleTimeout,
			BufferSize:  cfg.Streams.BufferSize,
		}
		factory := func() stream.Transport {
			return stream.NewTransport(transportCfg, logger)
		}

		observer := monitor.NewStreamObserver(mode, registry, logger)
		sup := stream.NewSupervisor(supCfg, factory, classify.NewClassifier(), observer, logger)

		rt := router.New(router.DefaultConfig(mode), sup.Messages(), registry, logger)
		if err := rt.Start(ctx); err != nil {
			logger.Error("failed to start router", "mode", mode, "error", err)
			os.Exit(1)
		}

		bufs := rt.Buffers()
		if db != nil {
			sampleWriter := writer.NewSampleWriter(writerCfg, bufs.Samples, db, logger)
			if err := sampleWriter.Start(ctx); err != nil {
				logger.Error("failed to start sample writer", "mode", mode, "error", err)
				os.Exit(1)
			}
			stoppables = append(stoppables, sampleWriter)
		} else {
			go discardSamples(bufs.Samples)
		}
		// Registered after the writer: shutdown runs in reverse, so the
		// router finishes routing before its writer drains and flushes.
		stoppables = append(stoppables, rt)
		// Message buffers are exposed for downstream consumers; the
		// monitor itself only needs the telemetry, so drain them.
		go discardMessages(bufs.Prices)
		go discardMessages(bufs.Transactions)

		mode := mode
		g.Go(func() error {
			logger.Info("stream session starting",
				"mode", mode,
				"session_id", sup.SessionID(),
				"retries", supCfg.MaxRetries.String(),
			)
			if err := sup.Run(gctx); err != nil {
				return fmt.Errorf("%s stream: %w", mode, err)
			}
			return nil
		})
	}

	logger.Info("monitor running",
		"instance_id", cfg.Instance.ID,
		"streams", strings.Join(modes, ","),
		"metrics_url", fmt.Sprintf("http://localhost:%d%s", cfg.Metrics.Port, cfg.Metrics.Path),
	)

	// Block until every stream session ends (shutdown signal, session
	// timeout, or a fatal stream error).
	runErr := g.Wait()
	if runErr != nil {
		logger.Error("stream session failed", "error", runErr)
		cancel()
	}

	// Orderly shutdown, bounded per component.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	for i := len(stoppables) - 1; i >= 0; i-- {
		if err := stoppables[i].Stop(shutdownCtx); err != nil {
			logger.Warn("component stop failed", "error", err)
		}
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown failed", "error", err)
	}

	if runErr != nil {
		os.Exit(1)
	}
	logger.Info("monitor stopped")
}

// enabledModes lists the streams to run, pricing first.
func enabledModes(s config.StreamsConfig) []string {
	var modes []string
	if s.Pricing {
		modes = append(modes, "pricing")
	}
	if s.Transactions {
		modes = append(modes, "transactions")
	}
	return modes
}

// retryLimit maps the config integer to the tagged retry bound.
func retryLimit(maxRetries int) stream.RetryLimit {
	if maxRetries < 0 {
		return stream.Unlimited()
	}
	return stream.Bounded(maxRetries)
}

// streamURL builds the broker endpoint for one stream mode.
func streamURL(b config.BrokerConfig, mode string) string {
	base := strings.TrimRight(b.StreamURL, "/")
	switch mode {
	case "pricing":
		q := url.Values{"instruments": {strings.Join(b.Instruments, ",")}}
		return fmt.Sprintf("%s/v3/accounts/%s/pricing/stream?%s", base, b.AccountID, q.Encode())
	case "transactions":
		return fmt.Sprintf("%s/v3/accounts/%s/transactions/stream", base, b.AccountID)
	default:
		return base
	}
}

func discardMessages(buf *router.GrowableBuffer[model.StreamMessage]) {
	for {
		if _, ok := buf.Receive(); !ok {
			return
		}
	}
}

func discardSamples(buf *router.GrowableBuffer[model.LatencySample]) {
	for {
		if _, ok := buf.Receive(); !ok {
			return
		}
	}
}
