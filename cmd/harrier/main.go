// Harrier - Real-time fraud scoring with ensemble anomaly detection.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/harrier/internal/alert"
	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/predictor"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/ring"
	"github.com/opensource-finance/harrier/internal/scorer"
	"github.com/opensource-finance/harrier/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Initialize structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("HARRIER_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	// Load configuration
	cfg := domain.DefaultConfig()
	if os.Getenv("HARRIER_TIER") == "pro" {
		cfg = domain.ProConfig()
		slog.Info("running in Pro tier mode")
	}
	if err := cfg.LoadFromEnv(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"model_dir", cfg.Scoring.ModelDir,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Load the scoring ensemble
	ensemble := scorer.NewEnsemble(cfg.Scoring.ModelDir)
	available := ensemble.Available()
	if len(available) == 0 {
		slog.Error("no scorer artifacts loaded", "model_dir", cfg.Scoring.ModelDir)
		os.Exit(1)
	}
	slog.Info("scoring ensemble loaded", "scorers", available)

	// Initialize the ring detector and prediction service
	detector := ring.NewDetector(cfg.Ring, slog.Default())
	svc := predictor.NewService(cfg.Scoring, ensemble, detector, repo, cacheImpl, busImpl, slog.Default())

	// Initialize Alert Engine
	alertEngine, err := alert.NewEngine()
	if err != nil {
		slog.Error("failed to initialize alert engine", "error", err)
		os.Exit(1)
	}

	tenantIDs := parseTenants(os.Getenv("HARRIER_TENANTS"))

	if err := loadAlertRules(ctx, repo, alertEngine, tenantIDs); err != nil {
		slog.Error("failed to load alert rules", "error", err)
		os.Exit(1)
	}
	slog.Info("alert engine initialized", "rules_count", alertEngine.RulesCount())

	// Rebuild entity graphs from persisted transactions
	for _, tenantID := range tenantIDs {
		if _, err := svc.Replay(ctx, tenantID, cfg.Ring.ReplayLookback); err != nil {
			slog.Warn("graph replay failed",
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}

	// Start alert workers
	alertWorker := worker.NewWorker(busImpl, repo, alertEngine)
	if err := alertWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
		slog.Error("failed to start alert worker", "error", err)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, svc, repo, cacheImpl, busImpl, alertEngine, cfg.Ring.MinShared, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	alertWorker.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

// parseTenants splits the comma-separated tenant list, defaulting to
// the built-in demo tenant.
func parseTenants(env string) []string {
	if env == "" {
		return []string{"default"}
	}

	var tenants []string
	for _, t := range strings.Split(env, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tenants = append(tenants, t)
		}
	}
	if len(tenants) == 0 {
		return []string{"default"}
	}
	return tenants
}

// loadAlertRules loads per-tenant rules from the database into the
// engine, falling back to the builtin defaults when a tenant has none.
func loadAlertRules(ctx context.Context, repo domain.Repository, engine *alert.Engine, tenantIDs []string) error {
	loaded := 0
	for _, tenantID := range tenantIDs {
		dbRules, err := repo.ListAlertRules(ctx, tenantID)
		if err != nil {
			slog.Warn("failed to list alert rules from database",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		if len(dbRules) == 0 {
			continue
		}
		if err := engine.LoadRules(dbRules); err != nil {
			return err
		}
		loaded += len(dbRules)
	}

	if loaded == 0 {
		slog.Info("no alert rules in database, loading builtin defaults")
		return engine.LoadRules(alert.DefaultRules())
	}
	return nil
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 HARRIER                  ║")
	fmt.Println("  ║       Real-Time Fraud Scoring Engine      ║")
	fmt.Println("  ║       Every transaction, scored.          ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /predict             - Score a transaction")
	fmt.Println("    POST /predict/batch       - Score a batch of transactions")
	fmt.Println("    GET  /predictions/{id}    - Get prediction by ID")
	fmt.Println("    GET  /transactions/{id}   - Get transaction by ID")
	fmt.Println("    GET  /clusters            - Detect entity clusters")
	fmt.Println("    GET  /graph               - Inspect the entity graph")
	fmt.Println("    GET  /alert-rules         - List alert rules")
	fmt.Println("    POST /alert-rules         - Create an alert rule")
	fmt.Println("    POST /alert-rules/reload  - Hot-reload rules from database")
	fmt.Println("    GET  /alerts              - List raised alerts")
	fmt.Println("    GET  /health              - Health check")
	fmt.Println()
}
