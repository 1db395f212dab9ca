package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ismaiel54/transport-latency-bench/internal/config"
	"github.com/ismaiel54/transport-latency-bench/internal/logging"
	"github.com/ismaiel54/transport-latency-bench/internal/results"
	"go.uber.org/zap"
)

func main() {
	limit := flag.Int("limit", 20, "Number of most recent runs to show")
	flag.Parse()

	cfg, err := config.Load("report")
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

	if cfg.ResultsDB == "" {
		logger.Fatal("RESULTS_DB is not set")
	}

	store, err := results.Open(cfg.ResultsDB)
	if err != nil {
		logger.Fatal("failed to open results store", zap.Error(err))
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runs, err := store.ListRuns(ctx, *limit)
	if err != nil {
		logger.Fatal("failed to list runs", zap.Error(err))
	}

	fmt.Printf("\n=== Latency Runs (%s) ===\n", cfg.ResultsDB)
	if len(runs) == 0 {
		fmt.Printf("No runs recorded.\n\n")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tTRANSPORT\tSOURCE\tSTARTED\tDURATION\tSAMPLES\tP50\tP95\tP99\tRECEIVED\tERRORS\tANOMALIES")

	for _, run := range runs {
		started := time.UnixMilli(run.StartedUnixMillis)
		duration := "running"
		if run.StoppedUnixMillis.Valid {
			duration = time.UnixMilli(run.StoppedUnixMillis.Int64).Sub(started).Round(time.Millisecond).String()
		}

		snap, err := store.LatestSnapshot(ctx, run.ID)
		if errors.Is(err, results.ErrNotFound) {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t-\t-\t-\t-\t-\t-\t-\n",
				run.ID, run.Transport, run.Source, started.Format(time.RFC3339), duration)
			continue
		}
		if err != nil {
			logger.Fatal("failed to load snapshot", zap.String("run_id", run.ID), zap.Error(err))
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t%d\t%d\t%d\n",
			run.ID, run.Transport, run.Source, started.Format(time.RFC3339), duration,
			snap.Count, snap.P50(), snap.P95(), snap.P99(),
			snap.Received, snap.Errors, snap.Anomalies)
	}
	w.Flush()
	fmt.Printf("\n")
}
