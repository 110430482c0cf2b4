// Registry indexer — crawls a skill tree for manifests and publishes
// the machine-readable index with checksums and usage statistics.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/owlhub/platform/pkg/config"
	"github.com/owlhub/platform/pkg/registry/index"
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
	root := flag.String("root", ".", "Skill tree to crawl for manifests")
	baseURL := flag.String("base-url", "https://skills.example.com/artifacts",
		"Base URL for generated artifact download links")
	out := flag.String("out", "", "Output index path (defaults to registry_server.index_file)")
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

	outPath := *out
	if outPath == "" {
		outPath = cfg.RegistryServer.IndexFile
	}

	manifests, err := index.NewCrawler(*root).Crawl()
	if err != nil {
		slog.Error("Failed to crawl skill tree", "root", *root, "error", err)
		os.Exit(1)
	}
	slog.Info("Crawled skill tree", "root", *root, "manifests", len(manifests))

	tracker := stats.NewTracker(filepath.Join(cfg.RegistryServer.DataDir, "stats.jsonl"))

	builder := index.NewBuilder(*baseURL)
	builder.Statistics = tracker.IndexStatistics()

	idx := builder.Build(manifests)
	if err := index.WriteFile(outPath, idx); err != nil {
		slog.Error("Failed to write index", "path", outPath, "error", err)
		os.Exit(1)
	}
	slog.Info("Index published", "path", outPath, "skills", idx.TotalSkills)
}
