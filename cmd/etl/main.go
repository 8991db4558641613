package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/datalegis/lgpd-sentinel/internal/config"
	"github.com/datalegis/lgpd-sentinel/internal/consent"
	"github.com/datalegis/lgpd-sentinel/internal/etl"
	"github.com/datalegis/lgpd-sentinel/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "Configuration file path")
		inputFile  = flag.String("input", "", "Consent export file (CSV, Parquet, or JSON)")
		batchSize  = flag.Int("batch-size", 0, "Batch size override")
		noValidate = flag.Bool("no-validate", false, "Skip record validation")
	)
	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s --input consents.csv [options]\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input consents.csv --batch-size 500\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input consents.parquet\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting consent dataset loader",
		zap.String("input", *inputFile),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling load")
		cancel()
	}()

	db, err := sqlx.Connect("postgres", cfg.Database.DatabaseURL)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	target, err := consent.NewPostgresSource(db, log)
	if err != nil {
		log.Fatal("Failed to initialize consent store", zap.Error(err))
	}

	etlConfig := cfg.ETL
	if *batchSize > 0 {
		etlConfig.BatchSize = *batchSize
	}
	if *noValidate {
		etlConfig.ValidateData = false
	}

	loader := etl.NewLoader(etlConfig, target, log)
	result, err := loader.LoadFile(ctx, *inputFile)
	if err != nil {
		log.Fatal("Consent load failed", zap.Error(err))
	}

	log.Info("Consent load finished",
		zap.Int64("total", result.TotalRecords),
		zap.Int64("loaded", result.LoadedOK),
		zap.Int64("skipped", result.Skipped),
		zap.Duration("duration", result.Duration),
	)
}
