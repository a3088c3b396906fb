package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/api"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/indexops"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/resource"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/resultcache"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/search"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/internal/store"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Fulltext-Index-Manager/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if err := run(cfg); err != nil {
		slog.Error("index service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("index service stopped")
}

func run(cfg *config.Config) error {
	slog.Info("starting index service",
		"port", cfg.Server.Port,
		"index_root", cfg.Index.Root,
		"analyzer", cfg.Index.Analyzer,
	)
	analyzer, err := analysis.New(cfg.Index.Analyzer)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Index.Root, 0755); err != nil {
		return fmt.Errorf("creating index root: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	registry := resource.New(resource.Options{
		Store:   store.Options{Analyzer: analyzer},
		Root:    cfg.Index.Root,
		Metrics: m,
	})
	defer func() {
		if err := registry.Close(); err != nil {
			slog.Error("closing index resources", "error", err)
		}
	}()
	ops := indexops.New(registry, m)

	checker := health.NewChecker()
	checker.Register("index_root", health.DirCheck(cfg.Index.Root))

	var results *resultcache.Cache
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, result caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			results = resultcache.New(redisClient, cfg.Redis.CacheTTL, m)
			checker.Register("redis", health.PingCheck(redisClient.Ping, true))
			slog.Info("result cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	engine, err := search.New(registry, search.Config{
		QueryCacheSize: cfg.Search.QueryCacheSize,
		FragmentSize:   cfg.Search.FragmentSize,
		PreTag:         cfg.Search.PreTag,
		PostTag:        cfg.Search.PostTag,
	}, m, results)
	if err != nil {
		return err
	}

	if cfg.Kafka.Enabled {
		consumer := kafka.NewConsumer(cfg.Kafka, ingest.Handler(ops, m, resilience.RetryConfig{
			MaxAttempts:  cfg.Kafka.ApplyAttempts,
			InitialDelay: cfg.Kafka.RetryBackoff,
		}))
		go func() {
			if err := consumer.Start(ctx); err != nil {
				slog.Error("mutation consumer stopped", "error", err)
			}
		}()
		defer consumer.Close()
		slog.Info("mutation consumer started", "topic", cfg.Kafka.MutationTopic, "group", cfg.Kafka.ConsumerGroup)
	}

	if cfg.Metrics.Enabled {
		shutdownMetrics, err := metrics.StartServer(cfg.Metrics.Port, promReg)
		if err != nil {
			return err
		}
		defer shutdownMetrics(context.Background())
	}

	h := api.New(registry, ops, engine, results, api.Limits{
		DefaultPageSize: cfg.Search.DefaultPageSize,
		MaxPageSize:     cfg.Search.MaxPageSize,
	})
	routerOpts := api.RouterOptions{Timeout: cfg.Server.RequestTimeout}
	if cfg.Server.RateLimit > 0 {
		limiter := ratelimit.New(cfg.Server.RateLimit, time.Minute)
		go limiter.Run(ctx, 5*time.Minute)
		routerOpts.Limiter = limiter
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(h, checker, m, routerOpts),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("index service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving http: %w", err)
	}
	return nil
}
