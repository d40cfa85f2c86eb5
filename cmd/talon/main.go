package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/open-leads/talon/internal/api"
	"github.com/open-leads/talon/internal/bus"
	"github.com/open-leads/talon/internal/cache"
	"github.com/open-leads/talon/internal/config"
	"github.com/open-leads/talon/internal/domain"
	"github.com/open-leads/talon/internal/metrics"
	"github.com/open-leads/talon/internal/pool"
	"github.com/open-leads/talon/internal/repository"
	"github.com/open-leads/talon/internal/rules"
	"github.com/open-leads/talon/internal/triage"
	"github.com/open-leads/talon/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: talon.yaml if present)")
	flag.Parse()

	// Local development secrets; absence is fine.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	setupLogger(cfg.Logging)

	slog.Info("starting talon",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
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

	// Initialize Rule Engine
	engine, err := rules.NewEngine()
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	slog.Info("rule engine initialized", "engine_version", rules.EngineVersion)

	// Snapshot store feeds cached per-tenant rule sets to the triage path
	snapshots := triage.NewSnapshotStore(repo, cacheImpl, 0)

	// Triage processor: score -> route -> assign
	assigner := pool.NewAssigner(repo)
	processor := triage.NewProcessor(engine, assigner)
	slog.Info("triage processor initialized")

	// Initialize Metrics
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		slog.Info("metrics initialized")
	}

	// Initialize async Worker (Pro tier, or opted in)
	var asyncWorker *worker.Worker
	if cfg.Tier == domain.TierPro || os.Getenv("TALON_ASYNC_WORKER") == "true" {
		asyncWorker = worker.NewWorker(busImpl, repo, snapshots, processor)

		var tenantIDs []string
		if envTenants := os.Getenv("TALON_TENANTS"); envTenants != "" {
			for _, id := range strings.Split(envTenants, ",") {
				if trimmed := strings.TrimSpace(id); trimmed != "" {
					tenantIDs = append(tenantIDs, trimmed)
				}
			}
		}

		if err := asyncWorker.Start(worker.Config{TenantIDs: tenantIDs}); err != nil {
			slog.Error("failed to start async worker", "error", err)
		} else {
			slog.Info("async worker started", "tenant_count", len(tenantIDs))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, snapshots, processor, m, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("talon is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	// Stop async worker first
	if asyncWorker != nil {
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("talon shutdown complete")
}

func setupLogger(cfg domain.Logging) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(handler))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               🦅 TALON                    ║")
	fmt.Println("  ║      Lead Scoring & Routing Engine        ║")
	fmt.Println("  ║       Every lead lands somewhere.         ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /leads                  - Ingest and triage a lead")
	fmt.Println("    GET  /leads/{id}             - Get lead by ID")
	fmt.Println("    POST /leads/{id}/evaluate    - Re-run triage for a lead")
	fmt.Println("    GET  /evaluations/{id}       - Get evaluation by ID")
	fmt.Println("    GET  /scoring/config         - Get scoring configuration")
	fmt.Println("    PUT  /scoring/config         - Replace scoring configuration")
	fmt.Println("    GET  /scoring/rules          - List scoring rules")
	fmt.Println("    POST /scoring/rules          - Create a scoring rule")
	fmt.Println("    GET  /routing/rules          - List routing rules")
	fmt.Println("    POST /routing/rules          - Create a routing rule")
	fmt.Println("    POST /rules/reload           - Drop cached rule snapshots")
	fmt.Println("    GET  /pools                  - List pools")
	fmt.Println("    POST /pools                  - Create a pool")
	fmt.Println("    GET  /pools/{id}/owners      - List pool owners")
	fmt.Println("    POST /pools/{id}/owners      - Add an owner to a pool")
	fmt.Println("    GET  /health                 - Health check")
	fmt.Println()
}
