// ClaimGuard - Insurance claim fraud scoring that deploys in 60 seconds.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

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
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/claimguard/internal/alert"
	"github.com/opensource-finance/claimguard/internal/api"
	"github.com/opensource-finance/claimguard/internal/assess"
	"github.com/opensource-finance/claimguard/internal/bus"
	"github.com/opensource-finance/claimguard/internal/cache"
	"github.com/opensource-finance/claimguard/internal/config"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/features"
	"github.com/opensource-finance/claimguard/internal/metrics"
	"github.com/opensource-finance/claimguard/internal/model"
	"github.com/opensource-finance/claimguard/internal/repository"
	"github.com/opensource-finance/claimguard/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("CLAIMGUARD_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Logging))

	slog.Info("starting claimguard",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"rate_limit", cfg.RateLimit.Enabled,
		"tracing", cfg.Tracing.Enabled,
	)

	// Load frozen scoring artifacts. Any failure here is fatal.
	schema := features.DefaultSchema()

	table, err := features.LoadFrequencyTable(cfg.Model.FrequencyTablePath)
	if err != nil {
		fatalStartup(err)
	}
	slog.Info("frequency table loaded",
		"path", cfg.Model.FrequencyTablePath,
		"tables", strings.Join(table.Tables(), ","),
	)

	booster, err := model.LoadBooster(cfg.Model.Path, schema.Names())
	if err != nil {
		fatalStartup(err)
	}
	slog.Info("model loaded",
		"path", cfg.Model.Path,
		"trees", booster.NumTrees(),
		"features", booster.NumFeature(),
		"xgboost_version", booster.Version(),
	)

	encoder, err := features.NewEncoder(schema, table)
	if err != nil {
		fatalStartup(&domain.StartupError{Component: "schema", Path: cfg.Model.Path, Err: err})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	policy, err := alert.NewPolicy(cfg.Alert.Expression)
	if err != nil {
		slog.Error("failed to compile alert policy", "expression", cfg.Alert.Expression, "error", err)
		os.Exit(1)
	}
	slog.Info("alert policy compiled", "expression", policy.Expression())

	m := metrics.New()
	svc := assess.NewService(assess.NewAssessor(encoder, booster, m), repo, assess.Options{
		Cache:    cacheImpl,
		Bus:      busImpl,
		Policy:   policy,
		Metrics:  m,
		ClaimTTL: cfg.Cache.ClaimTTL,
	})

	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("CLAIMGUARD_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, svc)
		if err := asyncWorker.Start(worker.Config{WorkerCount: 5, QueueSize: 100}); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started", "workers", 5)
		}
	}

	srv := api.NewServer(cfg.Server, api.Options{
		Service:   svc,
		Repo:      repo,
		Cache:     cacheImpl,
		Bus:       busImpl,
		Metrics:   m,
		RateLimit: cfg.RateLimit,
		Version:   Version,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("claimguard is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
		stats := asyncWorker.GetStats()
		slog.Info("async worker stopped", "processed", stats.Processed, "failed", stats.Failed)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("claimguard shutdown complete")
}

func newLogger(cfg domain.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// fatalStartup logs an artifact load failure and exits. The service never
// starts with a partial model.
func fatalStartup(err error) {
	var se *domain.StartupError
	if errors.As(err, &se) {
		slog.Error("failed to load scoring artifacts",
			"component", se.Component,
			"path", se.Path,
			"error", err,
		)
	} else {
		slog.Error("failed to load scoring artifacts", "error", err)
	}
	os.Exit(1)
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |               CLAIMGUARD                  |")
	fmt.Println("  |      Insurance Claim Fraud Scoring        |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /assess               - Score a claim without storing it")
	fmt.Println("    POST /claims               - Submit and score a claim (?async=true to queue)")
	fmt.Println("    POST /claims/form          - Submit a claim from a form")
	fmt.Println("    GET  /claims               - List claims (?label=High Risk)")
	fmt.Println("    GET  /claims/{id}          - Get a claim")
	fmt.Println("    POST /claims/{id}/analyze  - Re-score a stored claim")
	fmt.Println("    GET  /dashboard/stats      - Claim totals")
	fmt.Println("    GET  /schema               - Feature vector layout")
	fmt.Println("    GET  /alert/policy         - Current alert expression")
	fmt.Println("    PUT  /alert/policy         - Replace alert expression")
	fmt.Println("    GET  /metrics              - Prometheus metrics")
	fmt.Println("    GET  /health               - Health check")
	fmt.Println()
}
