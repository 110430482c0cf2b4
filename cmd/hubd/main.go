// Registry server — serves the skill API: publication, reviews,
// moderation, statistics export, and the mock OAuth2 token surface.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/owlhub/platform/pkg/config"
	"github.com/owlhub/platform/pkg/registry/audit"
	"github.com/owlhub/platform/pkg/registry/hub"
	"github.com/owlhub/platform/pkg/registry/index"
	"github.com/owlhub/platform/pkg/registry/moderation"
	"github.com/owlhub/platform/pkg/registry/review"
	"github.com/owlhub/platform/pkg/registry/server"
	"github.com/owlhub/platform/pkg/registry/stats"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	serverCfg := cfg.RegistryServer
	dataDir := serverCfg.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		slog.Error("Failed to create data directory", "dir", dataDir, "error", err)
		os.Exit(1)
	}

	// Moderation clears the local hub client's cache so installs see
	// blacklist and takedown changes immediately.
	hubClient := hub.NewClient(cfg.Registry)
	moderationService := moderation.NewService(
		filepath.Join(dataDir, "blacklist.json"),
		index.NewWriter(serverCfg.IndexFile),
		hubClient.Loader(),
	)

	srv := server.NewServer(serverCfg, server.Dependencies{
		Reviews:    review.NewStore(filepath.Join(dataDir, "reviews.json")),
		Stats:      stats.NewTracker(filepath.Join(dataDir, "stats.jsonl")),
		Audit:      audit.NewLog(filepath.Join(dataDir, "audit.jsonl")),
		Moderation: moderationService,
	})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Registry server listening", "addr", serverCfg.ListenAddr)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("Registry server error", "error", err)
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Registry server shutdown error", "error", err)
	}
	slog.Info("Registry server stopped")
}
