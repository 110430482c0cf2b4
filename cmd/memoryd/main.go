// Memory engine server — stores, recalls, compacts, and snapshots
// long-term agent memory over HTTP, with scheduled retention sweeps.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/owlhub/platform/pkg/config"
	"github.com/owlhub/platform/pkg/database"
	"github.com/owlhub/platform/pkg/memory"
	"github.com/owlhub/platform/pkg/memory/api"
	"github.com/owlhub/platform/pkg/memory/embedding"
	"github.com/owlhub/platform/pkg/memory/lifecycle"
	"github.com/owlhub/platform/pkg/memory/snapshot"
	"github.com/owlhub/platform/pkg/memory/store"
	"github.com/owlhub/platform/pkg/memory/token"
	"github.com/owlhub/platform/pkg/version"
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
	memCfg := cfg.Memory

	slog.Info("Starting memory engine",
		"version", version.Full(), "backend", string(memCfg.VectorBackend))

	// Vector store backend.
	var (
		memStore store.Store
		dbClient *database.Client
	)
	switch memCfg.VectorBackend {
	case config.BackendPgVector:
		dbCfg, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database configuration", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbCfg)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbClient.Close()
		memStore = store.NewPgVectorStore(dbClient.Pool(),
			memCfg.EmbeddingDimensions, memCfg.TimeDecayHalfLifeHours)
	case config.BackendQdrant:
		memStore = store.NewQdrantStore(memCfg.QdrantURL, "agent_memory",
			memCfg.EmbeddingDimensions, memCfg.TimeDecayHalfLifeHours)
	default:
		memStore = store.NewInMemoryStore(
			memCfg.EmbeddingDimensions, memCfg.TimeDecayHalfLifeHours)
	}

	// Embeddings: OpenAI when a key is present, deterministic vectors
	// otherwise so the engine can run standalone in development.
	var embedder embedding.Provider
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		embedder = embedding.NewOpenAIProvider(apiKey,
			memCfg.EmbeddingModel, memCfg.EmbeddingDimensions)
		slog.Info("Using OpenAI embeddings", "model", memCfg.EmbeddingModel)
	} else {
		embedder = embedding.NewRandomProvider(memCfg.EmbeddingDimensions)
		slog.Warn("OPENAI_API_KEY not set, using deterministic embeddings")
	}
	if memCfg.EmbeddingCacheSize > 0 {
		embedder = embedding.NewCachedProvider(embedder, memCfg.EmbeddingCacheSize)
	}

	snapshots := snapshot.NewBuilder(memStore, embedder, token.ApproxCounter{}, snapshot.Options{
		SemanticTopK: memCfg.SnapshotSemanticTopK,
		RecentHours:  memCfg.SnapshotRecentHours,
		RecentLimit:  memCfg.SnapshotRecentLimit,
		MaxTokens:    memCfg.SnapshotMaxTokens,
	})

	var server *api.Server
	service := memory.NewService(memStore, embedder, snapshots,
		memory.DegradationRecorderFunc(func(ctx context.Context, event memory.DegradationEvent) {
			server.RecordDegradation(ctx, event)
		}),
		memory.Options{
			CompactionThreshold:   memCfg.CompactionThreshold,
			EnableTFIDFFallback:   memCfg.EnableTFIDFFallback,
			EnableKeywordFallback: memCfg.EnableKeywordFallback,
			EnableFileFallback:    memCfg.EnableFileFallback,
			FileFallbackPath:      memCfg.FileFallbackPath,
		})
	server = api.NewServer(memCfg.ListenAddr, service)
	if dbClient != nil {
		server.SetDatabaseClient(dbClient)
	}

	// Retention sweeps over the configured scopes.
	var scheduler *lifecycle.Scheduler
	if scopes := parseScopes(memCfg.MaintenanceScopes); len(scopes) > 0 {
		manager := lifecycle.NewManager(memStore, memCfg.MaxEntries, memCfg.RetentionDays,
			lifecycle.LedgerFunc(func(_ context.Context, result lifecycle.Result) {
				slog.Info("Memory maintenance completed",
					"agent_id", result.AgentID, "tenant_id", result.TenantID,
					"archived", result.Archived, "deleted", result.Deleted,
					"duration", result.Duration, "error", result.Err)
			}))
		scheduler, err = lifecycle.NewScheduler(manager,
			lifecycle.StaticScopes(scopes...), memCfg.MaintenanceSchedule)
		if err != nil {
			slog.Error("Failed to create maintenance scheduler",
				"schedule", memCfg.MaintenanceSchedule, "error", err)
			os.Exit(1)
		}
		scheduler.Start()
		slog.Info("Maintenance scheduler started",
			"schedule", memCfg.MaintenanceSchedule, "scopes", len(scopes))
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Memory engine listening", "addr", memCfg.ListenAddr)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("Memory engine server error", "error", err)
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

	if scheduler != nil {
		scheduler.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Memory engine shutdown error", "error", err)
	}
	slog.Info("Memory engine stopped")
}

// parseScopes converts "agent_id/tenant_id" pairs; malformed entries
// are logged and skipped.
func parseScopes(pairs []string) []store.Scope {
	var scopes []store.Scope
	for _, pair := range pairs {
		agentID, tenantID, ok := strings.Cut(pair, "/")
		if !ok || agentID == "" || tenantID == "" {
			slog.Warn("Ignoring malformed maintenance scope", "scope", pair)
			continue
		}
		scopes = append(scopes, store.Scope{AgentID: agentID, TenantID: tenantID})
	}
	return scopes
}
