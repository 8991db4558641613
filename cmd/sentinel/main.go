package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/datalegis/lgpd-sentinel/internal/config"
	"github.com/datalegis/lgpd-sentinel/internal/consent"
	"github.com/datalegis/lgpd-sentinel/internal/engine"
	"github.com/datalegis/lgpd-sentinel/internal/entity"
	"github.com/datalegis/lgpd-sentinel/internal/events"
	"github.com/datalegis/lgpd-sentinel/internal/logger"
	"github.com/datalegis/lgpd-sentinel/internal/masking"
	"github.com/datalegis/lgpd-sentinel/internal/registry"
	"github.com/datalegis/lgpd-sentinel/internal/report"
	"github.com/datalegis/lgpd-sentinel/internal/scoring"
	"github.com/datalegis/lgpd-sentinel/internal/server"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("LGPD-Sentinel %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck {
		performHealthCheck()
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting LGPD-Sentinel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	reg, err := registry.New(cfg.Registry)
	if err != nil {
		log.Fatal("Failed to build PII type registry", zap.Error(err))
	}

	recognizer, err := entity.New(cfg.Recognizer, log)
	if err != nil {
		log.Fatal("Failed to create entity recognizer", zap.Error(err))
	}
	defer recognizer.Close()

	tokenStore, err := masking.NewPostgresStore(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect token store", zap.Error(err))
	}
	defer tokenStore.Close()

	masker, err := masking.NewEngine(cfg.Masking, tokenStore, log)
	if err != nil {
		log.Fatal("Failed to create masking engine", zap.Error(err))
	}

	reports, err := report.NewPostgresStore(tokenStore.DB(), log)
	if err != nil {
		log.Fatal("Failed to initialize report store", zap.Error(err))
	}

	consentSource, err := buildConsentSource(cfg, tokenStore, log)
	if err != nil {
		log.Fatal("Failed to build consent source", zap.Error(err))
	}
	if closer, ok := consentSource.(io.Closer); ok {
		defer closer.Close()
	}
	validator := consent.NewValidator(consentSource, log)

	hub := events.NewHub(cfg.WebSocket, log)

	eng := engine.New(cfg, engine.Deps{
		Registry:   reg,
		Recognizer: recognizer,
		Consent:    validator,
		Masker:     masker,
		Scorer:     scoring.NewScorer(cfg.Scoring, log),
		Reports:    reports,
		Hub:        hub,
	}, log)

	srv := server.New(cfg, server.Deps{
		Engine:     eng,
		Reports:    reports,
		Registry:   reg,
		Recognizer: recognizer,
		Hub:        hub,
	}, log)

	if err := config.Watch(cfg, func(updated *config.Config) {
		log.Info("Configuration file changed; restart to apply new settings")
	}); err != nil {
		log.Warn("Config watch unavailable", zap.Error(err))
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}
		log.Info("Server shutdown complete")
	}
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}
	return logger.New(loggerConfig)
}

// buildConsentSource picks the consent backend: the external consent
// service when a base URL is configured, otherwise the local database.
// Either one is wrapped in the Redis cache when enabled.
func buildConsentSource(cfg *config.Config, tokenStore *masking.PostgresStore, log *logger.Logger) (consent.Source, error) {
	var source consent.Source
	if cfg.Consent.BaseURL != "" {
		source = consent.NewClient(cfg.Consent)
	} else {
		pg, err := consent.NewPostgresSource(tokenStore.DB(), log)
		if err != nil {
			return nil, err
		}
		source = pg
	}

	if cfg.Consent.Cache.Enabled {
		cached, err := consent.NewCachedSource(source, cfg.Redis, cfg.Consent.Cache.TTL, log)
		if err != nil {
			log.Warn("Consent cache unavailable, continuing without it", zap.Error(err))
			return source, nil
		}
		return cached, nil
	}
	return source, nil
}

func performHealthCheck() {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get("http://localhost:8080/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
