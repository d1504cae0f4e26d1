// Package main is the entry point for the sentinel detection daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hub-sentinel/internal/config"
	"hub-sentinel/internal/engine"
	"hub-sentinel/internal/logging"
	"hub-sentinel/internal/publish"
	"hub-sentinel/internal/response"
	"hub-sentinel/internal/storage"
	s3archive "hub-sentinel/internal/storage/s3"
)

var version = "dev"

func main() {
	var (
		showVersion bool
		configPath  string
	)

	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.Parse()

	if showVersion {
		fmt.Printf("sentinel %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

	logger.Info("configuration loaded",
		"metrics_port", cfg.Engine.MetricsPort,
		"shards", cfg.Engine.Shards,
		"redis_enabled", cfg.Redis.Enabled,
		"kafka_enabled", cfg.Kafka.Enabled,
		"clickhouse_enabled", cfg.ClickHouse.Enabled,
		"s3_enabled", cfg.S3.Enabled,
	)

	ctx := context.Background()
	var sinks engine.Sinks

	// Kafka notification publisher.
	var publisher *publish.Publisher
	if cfg.Kafka.Enabled {
		publisher, err = publish.NewPublisher(cfg.Kafka.Config, logger)
		if err != nil {
			logger.Error("failed to create kafka publisher", "error", err)
			os.Exit(1)
		}
		sinks.Notifier = publisher
		logger.Info("kafka publisher initialized", "brokers", cfg.Kafka.Brokers)
	}

	// Redis-backed blocklist effects.
	var blocklist *response.RedisBlocklist
	if cfg.Redis.Enabled {
		blocklist, err = response.NewRedisBlocklist(cfg.Redis.RedisConfig)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		sinks.ExtraEffects = response.RedisBlockEffects(blocklist)
		logger.Info("redis blocklist initialized", "addr", cfg.Redis.Addr)
	}

	// ClickHouse threat archive.
	var chClient *storage.ClickHouseClient
	var threatArchive *storage.ThreatArchive
	if cfg.ClickHouse.Enabled {
		chClient, err = storage.NewClickHouseClient(cfg.ClickHouse.Client)
		if err != nil {
			logger.Error("failed to connect to ClickHouse", "error", err)
			os.Exit(1)
		}
		if err := chClient.EnsureSchema(ctx); err != nil {
			logger.Error("failed to create ClickHouse schema", "error", err)
			os.Exit(1)
		}
		threatArchive = storage.NewThreatArchive(chClient, cfg.ClickHouse.Archive, logger)
		sinks.Threats = threatArchive
		logger.Info("clickhouse threat archive initialized",
			"hosts", cfg.ClickHouse.Client.Hosts,
			"database", cfg.ClickHouse.Client.Database,
		)
	}

	// S3 archive for resolved incidents.
	if cfg.S3.Enabled {
		incidentArchive, err := s3archive.NewIncidentArchive(ctx, &cfg.S3.Config, logger)
		if err != nil {
			logger.Error("failed to create s3 incident archive", "error", err)
			os.Exit(1)
		}
		sinks.IncidentArchive = incidentArchive
		logger.Info("s3 incident archive initialized", "bucket", cfg.S3.Bucket)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	eng, err := engine.New(cfg, logger, registry, sinks)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}
	eng.Start()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Engine.MetricsPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting metrics server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}

	eng.Stop()

	if threatArchive != nil {
		threatArchive.Close()
		stats := threatArchive.Stats()
		logger.Info("archive metrics",
			"threats_archived", stats.Archived,
			"threats_dropped", stats.Dropped,
			"batches", stats.Batches,
		)
	}
	if chClient != nil {
		if err := chClient.Close(); err != nil {
			logger.Error("clickhouse close error", "error", err)
		}
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("publisher close error", "error", err)
		}
		published, failed := publisher.Stats()
		logger.Info("publisher metrics", "published", published, "failed", failed)
	}
	if blocklist != nil {
		if err := blocklist.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
