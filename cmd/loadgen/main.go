package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ismaiel54/transport-latency-bench/internal/chaos"
	"github.com/ismaiel54/transport-latency-bench/internal/config"
	"github.com/ismaiel54/transport-latency-bench/internal/loadgen"
	"github.com/ismaiel54/transport-latency-bench/internal/logging"
	"github.com/ismaiel54/transport-latency-bench/internal/metrics"
	"github.com/ismaiel54/transport-latency-bench/internal/pipeline"
	"github.com/ismaiel54/transport-latency-bench/internal/results"
	"github.com/ismaiel54/transport-latency-bench/internal/transport/transports"
	"go.uber.org/zap"
)

func main() {
	var (
		count   = flag.Int("count", 10000, "Number of ticks to publish")
		rate    = flag.Int("rate", 1000, "Ticks per second, 0 for as fast as possible")
		seed    = flag.Int64("seed", 42, "Random seed for deterministic generation")
		symbols = flag.String("symbols", strings.Join(loadgen.DefaultSymbols, ","), "Comma-separated symbols")
		drain   = flag.Duration("drain", 5*time.Second, "How long to wait for in-flight ticks after publishing")
	)
	flag.Parse()

	cfg, err := config.Load("loadgen")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	symbolList := strings.Split(*symbols, ",")
	for i := range symbolList {
		symbolList[i] = strings.ToUpper(strings.TrimSpace(symbolList[i]))
	}

	logger.Info("starting load generator",
		zap.Int("count", *count),
		zap.Int("rate", *rate),
		zap.Int64("seed", *seed),
		zap.Strings("symbols", symbolList),
		zap.String("transport", cfg.Transport.Kind),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := transports.Open(ctx, cfg.Transport, logger)
	if err != nil {
		logger.Fatal("failed to open transport", zap.Error(err))
	}
	conn = chaos.WrapConn(conn, chaos.New(chaos.LoadConfig(), logger))

	var store *results.Store
	runID := "unsaved"
	if cfg.ResultsDB != "" {
		store, err = results.Open(cfg.ResultsDB)
		if err != nil {
			logger.Fatal("failed to open results store", zap.Error(err))
		}
		defer store.Close()

		run, err := store.StartRun(ctx, conn.Kind(), "loadgen", time.Now().UnixMilli())
		if err != nil {
			logger.Fatal("failed to start run", zap.Error(err))
		}
		runID = run.ID
	}

	pipelineCfg, err := cfg.PipelineConfig()
	if err != nil {
		logger.Fatal("invalid pipeline config", zap.Error(err))
	}

	rec := metrics.NewRecorder(cfg.WindowSize)
	handle, err := pipeline.New(pipelineCfg, conn, rec, logger).Start(ctx)
	if err != nil {
		logger.Fatal("failed to start pipeline", zap.Error(err))
	}

	gen := loadgen.NewGenerator(*seed, symbolList)

	var interval time.Duration
	if *rate > 0 {
		interval = time.Second / time.Duration(*rate)
	}

	sent, dropped, failed, retries := 0, 0, 0, 0
	start := time.Now()

publish:
	for i := 0; i < *count; i++ {
		if interval > 0 {
			if wait := time.Until(start.Add(time.Duration(i) * interval)); wait > 0 {
				time.Sleep(wait)
			}
		}

		res, err := handle.Publish(ctx, gen.Next())
		retries += max(res.Attempts-1, 0)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, context.Canceled), errors.Is(err, pipeline.ErrStopped):
			logger.Info("publishing interrupted", zap.Int("sent", sent))
			break publish
		case errors.Is(err, pipeline.ErrOverloaded):
			logger.Error("transport overloaded, aborting", zap.Error(err))
			failed++
			break publish
		case res.Outcome == pipeline.OutcomeDropped:
			dropped++
		default:
			logger.Error("failed to publish tick", zap.Error(err))
			failed++
		}
	}
	elapsed := time.Since(start)

	// Wait for the poller to catch up
	deadline := time.Now().Add(*drain)
	for rec.Counter(metrics.CounterReceived) < int64(sent) && time.Now().Before(deadline) && ctx.Err() == nil {
		time.Sleep(10 * time.Millisecond)
	}

	if err := handle.Stop(); err != nil {
		logger.Error("pipeline teardown incomplete", zap.Error(err))
	}

	reporter := results.NewReporter(store, rec, runID, time.Second, logger)
	reporter.Report(context.Background())
	if store != nil {
		if err := store.FinishRun(context.Background(), runID, time.Now().UnixMilli()); err != nil {
			logger.Error("failed to finish run", zap.Error(err))
		}
	}

	snap := rec.Snapshot()
	received := rec.Counter(metrics.CounterReceived)

	logger.Info("load generator completed",
		zap.String("run_id", runID),
		zap.Int("sent", sent),
		zap.Int64("received", received),
		zap.Int("dropped", dropped),
		zap.Int("failed", failed),
		zap.Int("backpressure_retries", retries),
		zap.Duration("elapsed", elapsed),
	)

	fmt.Printf("\n=== Load Generator Summary ===\n")
	fmt.Printf("Run ID: %s\n", runID)
	fmt.Printf("Transport: %s\n", conn.Kind())
	fmt.Printf("Sent: %d\n", sent)
	fmt.Printf("Received: %d\n", received)
	fmt.Printf("Dropped: %d\n", dropped)
	fmt.Printf("Failed: %d\n", failed)
	fmt.Printf("Backpressure retries: %d\n", retries)
	fmt.Printf("Clock anomalies: %d\n", rec.Counter(metrics.CounterClockAnomalies))
	fmt.Printf("Elapsed: %s\n", elapsed)
	fmt.Printf("Latency samples: %d (window %d)\n", snap.Count, snap.Window)
	fmt.Printf("Latency p50/p95/p99: %s / %s / %s\n", snap.P50, snap.P95, snap.P99)
	fmt.Printf("Latency min/mean/max: %s / %s / %s\n", snap.Min, snap.Mean, snap.Max)
	fmt.Printf("\n")

	if failed > 0 || received < int64(sent) {
		logger.Sync()
		if store != nil {
			store.Close()
		}
		os.Exit(1)
	}
}
