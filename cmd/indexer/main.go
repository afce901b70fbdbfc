package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/rules-qa/internal/bootstrap"
	"github.com/kirillkom/rules-qa/internal/config"
	"github.com/kirillkom/rules-qa/internal/observability/logging"
	"github.com/kirillkom/rules-qa/internal/observability/metrics"
)

func main() {
	importPath := flag.String("import", "", "JSONL file of chunks to upsert into postgres before syncing")
	interval := flag.Duration("interval", 0, "resync period; zero runs once and exits")
	publish := flag.Bool("publish", true, "publish a reload signal after a successful sync")
	flag.Parse()

	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger("rules-qa-indexer", cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if *importPath != "" {
		f, err := os.Open(*importPath)
		if err != nil {
			slog.Error("import_open_failed", "path", *importPath, "error", err)
			os.Exit(1)
		}
		_, err = app.Syncer.ImportJSONL(ctx, f)
		_ = f.Close()
		if err != nil {
			slog.Error("import_failed", "path", *importPath, "error", err)
			os.Exit(1)
		}
	}

	indexerMetrics := metrics.NewIndexerMetrics("rules-qa-indexer")
	runOnce := func() error {
		indexerMetrics.StartSync()
		started := time.Now()
		n, err := app.Syncer.Sync(ctx)
		indexerMetrics.FinishSync(time.Since(started), n, err)
		if err != nil {
			return err
		}
		if *publish && app.ReloadBus != nil {
			if _, err := app.ReloadBus.PublishReload(ctx, "corpus synced"); err != nil {
				return err
			}
		}
		return nil
	}

	if *interval <= 0 {
		if err := runOnce(); err != nil {
			slog.Error("sync_failed", "error", err)
			os.Exit(1)
		}
		return
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.IndexerMetricsPort,
		Handler:           indexerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("indexer_metrics_listening", "port", cfg.IndexerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("indexer_metrics_failed", "error", err)
		}
	}()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		if err := runOnce(); err != nil {
			slog.Error("sync_failed", "error", err)
		}
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = metricsServer.Shutdown(shutdownCtx)
			cancel()
			return
		case <-ticker.C:
		}
	}
}
