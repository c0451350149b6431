package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Leikymain/chatbot-api/internal/auth"
	"github.com/Leikymain/chatbot-api/internal/client"
	"github.com/Leikymain/chatbot-api/internal/config"
	"github.com/Leikymain/chatbot-api/internal/gateway"
	"github.com/Leikymain/chatbot-api/internal/metrics"
	"github.com/Leikymain/chatbot-api/internal/provider/anthropic"
	"github.com/Leikymain/chatbot-api/internal/ratelimit"
	"github.com/Leikymain/chatbot-api/internal/server"
	"github.com/Leikymain/chatbot-api/internal/storage"
	"github.com/Leikymain/chatbot-api/internal/storage/memory"
	"github.com/Leikymain/chatbot-api/internal/storage/sqlite"
	"github.com/Leikymain/chatbot-api/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.Init("chatbot-api", logger)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Anthropic.APIKey == "" {
		log.Fatal("ANTHROPIC_API_KEY is required")
	}

	verifier := auth.New(cfg.Auth)
	limiter := ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Window, cfg.RateLimit.MaxIdentities)
	registry := client.NewRegistry(cfg.Clients)

	var providerOpts []anthropic.ProviderOption
	if cfg.Anthropic.BaseURL != "" {
		providerOpts = append(providerOpts, anthropic.WithBaseURL(cfg.Anthropic.BaseURL))
	}
	provider := anthropic.New(cfg.Anthropic.APIKey, providerOpts...)

	store, err := newStore(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open usage store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close usage store", slog.String("error", err.Error()))
		}
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	pipeline := gateway.New(verifier, limiter, registry, provider,
		cfg.Anthropic.Model, cfg.Anthropic.Timeout,
		gateway.WithStore(store),
		gateway.WithMetrics(m),
		gateway.WithLogger(logger),
	)

	srv := server.New(cfg.Server.Port, logger, cfg.Anthropic.Timeout+30*time.Second)
	handler := server.NewHandler(pipeline, registry, verifier, logger, server.WithUsageStore(store))
	handler.Routes(srv.Router)
	srv.Router.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("gateway ready",
		slog.Int("port", cfg.Server.Port),
		slog.String("auth_mode", string(cfg.Auth.Mode)),
		slog.String("model", cfg.Anthropic.Model),
		slog.Int("rate_limit", cfg.RateLimit.Limit),
		slog.String("storage", cfg.Storage.Type),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("gateway stopped")
}

func newStore(cfg config.StorageConfig) (storage.UsageStore, error) {
	switch cfg.Type {
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = "./data/gateway.db"
		}
		return sqlite.New(path)
	case "memory", "":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}
