package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ismaiel54/transport-latency-bench/internal/admin"
	"github.com/ismaiel54/transport-latency-bench/internal/chaos"
	"github.com/ismaiel54/transport-latency-bench/internal/config"
	"github.com/ismaiel54/transport-latency-bench/internal/feed"
	"github.com/ismaiel54/transport-latency-bench/internal/logging"
	"github.com/ismaiel54/transport-latency-bench/internal/metrics"
	"github.com/ismaiel54/transport-latency-bench/internal/observability"
	"github.com/ismaiel54/transport-latency-bench/internal/pipeline"
	"github.com/ismaiel54/transport-latency-bench/internal/results"
	"github.com/ismaiel54/transport-latency-bench/internal/tick"
	"github.com/ismaiel54/transport-latency-bench/internal/transport/transports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	cfg, err := config.Load("relay")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting relay service",
		zap.String("transport", cfg.Transport.Kind),
		zap.Strings("pairs", cfg.Feed.Pairs),
		zap.String("feed_url", cfg.Feed.URL),
		zap.Int("admin_port", cfg.AdminPort),
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
	)

	ctx := context.Background()

	// Open transport
	conn, err := transports.Open(ctx, cfg.Transport, logger)
	if err != nil {
		logger.Fatal("failed to open transport", zap.Error(err))
	}
	conn = chaos.WrapConn(conn, chaos.New(chaos.LoadConfig(), logger))

	rec := metrics.NewRecorder(cfg.WindowSize)
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics.NewCollector(rec, conn.Kind()),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Health
	healthChecker := observability.NewHealthChecker(logger)
	grpcServer := grpc.NewServer()
	healthChecker.RegisterGRPC(grpcServer)

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		logger.Fatal("failed to listen on gRPC port", zap.Error(err))
	}

	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			grpcErrCh <- err
		}
	}()

	httpErrCh := make(chan error, 1)
	go func() {
		if err := healthChecker.StartHTTPServer(cfg.HTTPAddr()); err != nil {
			httpErrCh <- err
		}
	}()

	// Results store
	var store *results.Store
	runID := "unsaved"
	if cfg.ResultsDB != "" {
		store, err = results.Open(cfg.ResultsDB)
		if err != nil {
			logger.Fatal("failed to open results store", zap.Error(err))
		}

		run, err := store.StartRun(ctx, conn.Kind(), "feed", time.Now().UnixMilli())
		if err != nil {
			logger.Fatal("failed to start run", zap.Error(err))
		}
		runID = run.ID
	}
	logger.Info("run started", zap.String("run_id", runID))

	// Pipeline
	pipelineCfg, err := cfg.PipelineConfig()
	if err != nil {
		logger.Fatal("invalid pipeline config", zap.Error(err))
	}
	p := pipeline.New(pipelineCfg, conn, rec, logger,
		pipeline.WithStateListener(func(s pipeline.State) {
			healthChecker.SetPipelineReady(s == pipeline.StateRunning, s.String())
		}),
	)
	handle, err := p.Start(ctx)
	if err != nil {
		logger.Fatal("failed to start pipeline", zap.Error(err))
	}

	// Feed
	overloadCh := make(chan error, 1)
	feedClient := feed.NewClient(cfg.Feed, func(ctx context.Context, t tick.Tick) {
		if _, err := handle.Publish(ctx, t); err != nil {
			switch {
			case errors.Is(err, pipeline.ErrStopped), errors.Is(err, context.Canceled):
			case errors.Is(err, pipeline.ErrOverloaded):
				select {
				case overloadCh <- err:
				default:
				}
			default:
				logger.Warn("failed to publish tick", zap.String("symbol", t.Symbol), zap.Error(err))
			}
		}
	}, rec, logger)

	feedCtx, cancelFeed := context.WithCancel(ctx)
	defer cancelFeed()
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		if err := feedClient.Run(feedCtx); err != nil {
			logger.Error("feed stopped with error", zap.Error(err))
		}
	}()

	// Admin
	adminServer := admin.NewServer(feedClient, rec, conn.Kind(), func() string {
		return handle.State().String()
	}, registry, logger)
	adminErrCh := make(chan error, 1)
	go func() {
		if err := adminServer.ListenAndServe(cfg.AdminAddr()); err != nil {
			adminErrCh <- err
		}
	}()

	// Reporter
	reporterCtx, cancelReporter := context.WithCancel(ctx)
	defer cancelReporter()
	reporterDone := make(chan struct{})
	reporter := results.NewReporter(store, rec, runID, cfg.ReportInterval, logger)
	go func() {
		defer close(reporterDone)
		reporter.Run(reporterCtx)
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case <-handle.Done():
		logger.Error("pipeline stopped unexpectedly", zap.Error(handle.Err()))
		exitCode = 1
	case err := <-overloadCh:
		logger.Error("transport overloaded", zap.Error(err))
		exitCode = 1
	case err := <-grpcErrCh:
		logger.Error("gRPC server error", zap.Error(err))
		exitCode = 1
	case err := <-httpErrCh:
		logger.Error("HTTP server error", zap.Error(err))
		exitCode = 1
	case err := <-adminErrCh:
		logger.Error("admin server error", zap.Error(err))
		exitCode = 1
	}

	// Graceful shutdown: stop the source first, then the pipeline
	logger.Info("shutting down gracefully...")

	cancelFeed()
	<-feedDone

	if err := handle.Stop(); err != nil {
		logger.Error("pipeline teardown incomplete", zap.Error(err))
		exitCode = 1
	}

	cancelReporter()
	<-reporterDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if store != nil {
		if err := store.FinishRun(shutdownCtx, runID, time.Now().UnixMilli()); err != nil {
			logger.Error("failed to finish run", zap.Error(err))
		}
		if err := store.Close(); err != nil {
			logger.Error("error closing results store", zap.Error(err))
		}
	}

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down admin server", zap.Error(err))
	}

	if err := healthChecker.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down health checker", zap.Error(err))
	}

	grpcServer.GracefulStop()

	logger.Info("relay service stopped", zap.String("run_id", runID))
	if exitCode != 0 {
		logger.Sync()
		os.Exit(exitCode)
	}
}
