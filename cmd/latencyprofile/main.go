package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fxlab/oanda-stream/internal/classify"
	"github.com/fxlab/oanda-stream/internal/gate"
	"github.com/fxlab/oanda-stream/internal/metrics"
	"github.com/fxlab/oanda-stream/internal/stream"
	"github.com/fxlab/oanda-stream/internal/version"
)

// latencyprofile captures a live stream for a fixed duration and prints a
// latency profile plus suggested gate thresholds for this link.
func main() {
	baseURL := flag.String("url", "https://stream-fxpractice.oanda.com", "broker stream base URL")
	token := flag.String("token", os.Getenv("BROKER_TOKEN"), "bearer token (default $BROKER_TOKEN)")
	account := flag.String("account", "", "broker account id")
	instruments := flag.String("instruments", "EUR_USD", "comma-separated instruments")
	mode := flag.String("mode", "pricing", "stream mode: pricing or transactions")
	duration := flag.Duration("duration", 60*time.Second, "capture duration")
	verbose := flag.Bool("v", false, "log every connection event")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *token == "" || *account == "" {
		fmt.Fprintln(os.Stderr, "latencyprofile: -token and -account are required")
		os.Exit(2)
	}
	if *mode != "pricing" && *mode != "transactions" {
		fmt.Fprintf(os.Stderr, "latencyprofile: unknown mode %q\n", *mode)
		os.Exit(2)
	}

	fmt.Printf("latencyprofile %s\n", version.String())
	fmt.Printf("capturing %s stream for %s ...\n\n", *mode, *duration)

	supCfg := stream.DefaultSupervisorConfig(*mode)
	supCfg.SessionTimeout = *duration

	transportCfg := stream.DefaultTransportConfig()
	transportCfg.URL = profileURL(*baseURL, *account, *mode, *instruments)
	transportCfg.Token = *token

	factory := func() stream.Transport {
		return stream.NewTransport(transportCfg, logger)
	}
	sup := stream.NewSupervisor(supCfg, factory, classify.NewClassifier(), nil, logger)

	m := metrics.New(*mode, *instruments, metrics.DefaultConfig())
	var clamped []float64

	done := make(chan error, 1)
	go func() {
		done <- sup.Run(context.Background())
	}()

	for msg := range sup.Messages() {
		m.RecordMessage(msg.ReceivedAt)
		if msg.ServerTime.IsZero() {
			continue
		}
		sample := m.RecordLatency(msg.ServerTime, msg.ReceivedAt)
		clamped = append(clamped, sample.ClampedMs)
	}

	// The session timeout surfaces as a deadline error; that is the
	// expected end of a capture.
	if err := <-done; err != nil && !errors.Is(err, context.DeadlineExceeded) {
		fmt.Fprintf(os.Stderr, "latencyprofile: capture failed: %v\n", err)
		os.Exit(1)
	}

	printProfile(m, len(clamped))
	printSuggestion(gate.SuggestThresholds(clamped))
}

func profileURL(base, account, mode, instruments string) string {
	base = strings.TrimRight(base, "/")
	if mode == "transactions" {
		return fmt.Sprintf("%s/v3/accounts/%s/transactions/stream", base, account)
	}
	q := url.Values{"instruments": {instruments}}
	return fmt.Sprintf("%s/v3/accounts/%s/pricing/stream?%s", base, account, q.Encode())
}

func printProfile(m *metrics.StreamMetrics, samples int) {
	snap := m.Snapshot()

	fmt.Printf("messages:        %d (%.2f/s)\n", snap.MessagesTotal, snap.MessagesPerSec)
	fmt.Printf("latency samples: %d\n", samples)
	fmt.Printf("clock offset:    %.1f ms\n", snap.ClockOffsetMs)
	fmt.Printf("backlog/outlier: %d/%d\n", snap.BacklogTotal, snap.OutlierTotal)
	if snap.Effective.Valid {
		fmt.Printf("effective ms:    last=%.1f p95=%.1f mean=%.1f\n",
			snap.Effective.LastMs, snap.Effective.P95Ms, snap.Effective.MeanMs)
	}
	if snap.Raw.Valid {
		fmt.Printf("raw ms:          last=%.1f p95=%.1f mean=%.1f\n",
			snap.Raw.LastMs, snap.Raw.P95Ms, snap.Raw.MeanMs)
	}
}

func printSuggestion(t gate.Thresholds) {
	fmt.Println("\nsuggested gate thresholds:")
	fmt.Println("gate:")
	fmt.Printf("  skew_outlier_ms: %.0f\n", t.SkewOutlierMs)
	fmt.Printf("  backlog_warn_ms: %.0f\n", t.BacklogWarnMs)
	fmt.Printf("  backlog_block_ms: %.0f\n", t.BacklogBlockMs)
	fmt.Printf("  consecutive_backlog_to_block: %d\n", t.ConsecutiveBacklogToBlock)
	fmt.Printf("  consecutive_good_to_unblock: %d\n", t.ConsecutiveGoodToUnblock)
	fmt.Printf("  outlier_high_ms: %.0f\n", t.OutlierHighMs)
	fmt.Printf("  min_samples: %d\n", t.MinSamples)
	fmt.Printf("  window_size: %d\n", t.WindowSize)
}
