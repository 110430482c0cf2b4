// Webhook gateway server — validates and transforms inbound webhooks,
// runs governance checks, and dispatches executions to the agent
// runtime through the worker pool.
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
	"github.com/redis/go-redis/v9"

	"github.com/owlhub/platform/pkg/config"
	"github.com/owlhub/platform/pkg/webhook/endpoint"
	"github.com/owlhub/platform/pkg/webhook/events"
	"github.com/owlhub/platform/pkg/webhook/gateway"
	"github.com/owlhub/platform/pkg/webhook/governance"
	"github.com/owlhub/platform/pkg/webhook/runtime"
	"github.com/owlhub/platform/pkg/webhook/transform"
	"github.com/owlhub/platform/pkg/webhook/trigger"
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

	// Agent runtime: HTTP when configured, otherwise a mock so the
	// gateway can run standalone in development.
	var rt runtime.Runtime
	if cfg.Gateway.RuntimeURL != "" {
		rt = runtime.NewHTTPRuntime(cfg.Gateway.RuntimeURL)
		slog.Info("Using HTTP agent runtime", "url", cfg.Gateway.RuntimeURL)
	} else {
		rt = runtime.NewMockRuntime(runtime.Output{"status": "ok"})
		slog.Warn("No runtime_url configured, using mock runtime")
	}

	// Idempotency state: Redis when configured, in-memory otherwise.
	var idem trigger.IdempotencyStore
	var redisClient *redis.Client
	if cfg.Gateway.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Gateway.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to Redis", "addr", cfg.Gateway.RedisAddr, "error", err)
			os.Exit(1)
		}
		idem = trigger.NewRedisIdempotencyStore(redisClient)
		slog.Info("Using Redis idempotency store", "addr", cfg.Gateway.RedisAddr)
	} else {
		idem = trigger.NewInMemoryIdempotencyStore()
	}

	pool := trigger.NewPool(cfg.Workers)
	pool.Start(ctx)

	triggerService := trigger.NewService(rt, idem, pool, cfg.Gateway.IdempotencyTTL)

	eventLog := events.NewLog()
	monitor := events.NewMonitor(time.Minute)
	monitor.RegisterCheck("idempotency_store", func(ctx context.Context) bool {
		if redisClient != nil {
			return redisClient.Ping(ctx).Err() == nil
		}
		return true
	})

	var governanceClient *governance.Client
	if cfg.Gateway.GovernanceURL != "" {
		governanceClient = governance.NewClient(cfg.Gateway.GovernanceURL, gateway.NewGovernanceAudit(eventLog))
		slog.Info("Governance checks enabled", "url", cfg.Gateway.GovernanceURL)
	}

	server := gateway.NewServer(cfg.Gateway, gateway.Dependencies{
		Endpoints:  endpoint.NewManager(),
		Rules:      transform.NewRegistry(),
		Governance: governanceClient,
		Trigger:    triggerService,
		Events:     eventLog,
		Monitor:    monitor,
	})

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Gateway listening", "addr", cfg.Gateway.ListenAddr)
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("Gateway server error", "error", err)
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

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Workers.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Gateway shutdown error", "error", err)
	}

	// Drain in-flight executions before exiting.
	pool.Stop()
	slog.Info("Gateway stopped")
}
