// cmd/smi-pipeline/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smi-platform/smi-warehouse/pkg/config"
	"github.com/smi-platform/smi-warehouse/pkg/model"
	"github.com/smi-platform/smi-warehouse/pkg/pipeline"
	"github.com/smi-platform/smi-warehouse/pkg/source"
	"github.com/smi-platform/smi-warehouse/pkg/warehouse"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// main wires configuration, the warehouse and the selected bronze source,
// then executes one batch load. Exit code 0 means success, 2 means the run
// finished partial, 1 means it failed.
func main() {
	os.Exit(run())
}

func run() int {
	var (
		csvPath     = flag.String("csv", "", "load from a CSV export instead of the Snowflake staging table")
		batchID     = flag.String("batch", "", "batch identifier; defaults to a new UUID")
		metricsAddr = flag.String("metrics-addr", "", "expose Prometheus metrics on this address while the run executes")
		schemaOnly  = flag.Bool("schema-only", false, "verify the warehouse schema and exit")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	logger, err := buildLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wh, err := warehouse.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Error("Failed to connect to warehouse", zap.Error(err))
		return 1
	}
	defer wh.Close()

	if err := wh.EnsureSchema(ctx); err != nil {
		logger.Error("Failed to verify warehouse schema", zap.Error(err))
		return 1
	}
	if *schemaOnly {
		return 0
	}

	src, err := openSource(ctx, cfg, *csvPath, logger)
	if err != nil {
		logger.Error("Failed to open bronze source", zap.Error(err))
		return 1
	}
	defer src.Close()

	registry := prometheus.NewRegistry()
	metrics := pipeline.NewMetrics(registry)
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, registry, logger)
	}

	batch := *batchID
	if batch == "" {
		batch = uuid.New().String()
	}

	p := pipeline.NewPipeline(cfg.Pipeline, wh, metrics, logger)
	result, err := p.Run(ctx, batch, src)
	if err != nil {
		logger.Error("Pipeline run failed", zap.Error(err))
		return 1
	}

	logger.Info("Pipeline run finished",
		zap.String("runID", result.RunID),
		zap.String("status", string(result.Status)),
		zap.Int("processed", result.Counts.Processed),
		zap.Int("inserted", result.Counts.Inserted),
		zap.Int("updated", result.Counts.Updated),
		zap.Int("failed", result.Counts.Failed),
		zap.Int("flagged", result.Counts.Flagged),
		zap.Duration("duration", result.Duration))

	if result.Status == model.RunStatusPartial {
		return 2
	}
	return 0
}

func openSource(ctx context.Context, cfg *config.Config, csvPath string, logger *zap.Logger) (source.RecordStream, error) {
	if csvPath != "" {
		return source.NewCSVSource(csvPath, logger)
	}
	if cfg.Snowflake == nil {
		return nil, fmt.Errorf("no source configured: pass -csv or set SNOWFLAKE_USER")
	}
	return source.NewSnowflakeSource(ctx, cfg.Snowflake, logger)
}

func serveMetrics(addr string, registry *prometheus.Registry, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("Metrics endpoint stopped", zap.Error(err))
	}
}

func buildLogger(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	parsed, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg.Level = zap.NewAtomicLevelAt(parsed)

	return cfg.Build()
}
