// ShadowScribe - Campaign Knowledge Assistant Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/calvin-seamons/shadowscribe/internal/api"
	"github.com/calvin-seamons/shadowscribe/internal/config"
	"github.com/calvin-seamons/shadowscribe/internal/identity"
	"github.com/calvin-seamons/shadowscribe/internal/knowledge"
	"github.com/calvin-seamons/shadowscribe/internal/llm"
	"github.com/calvin-seamons/shadowscribe/internal/middleware"
	"github.com/calvin-seamons/shadowscribe/internal/pipeline"
	"github.com/calvin-seamons/shadowscribe/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "routing_mode", cfg.Routing.Mode)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	library, err := knowledge.Open(cfg.KnowledgeDir)
	if err != nil {
		slog.Error("Failed to load knowledge directory", "error", err, "dir", cfg.KnowledgeDir)
		os.Exit(1)
	}
	slog.Info("Knowledge loaded", "dir", cfg.KnowledgeDir, "partitions", len(library.Partitions()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := knowledge.NewWatcher(library, logger)
	if err != nil {
		slog.Warn("Knowledge hot reload disabled", "error", err)
	} else {
		go watcher.Run(ctx)
		slog.Info("Knowledge watcher started")
	}

	client := llm.NewOpenAIClient(llm.OpenAIConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
	})

	var strategy pipeline.Strategy
	switch cfg.Routing.Mode {
	case config.RoutingModeLocal:
		strategy = pipeline.NewLocalSelector()
	case config.RoutingModeShadow:
		strategy = pipeline.NewShadowSelector(pipeline.NewLLMSelector(client), pipeline.NewLocalSelector(), logger)
	default:
		strategy = pipeline.NewLLMSelector(client)
	}

	orchestrator := pipeline.NewOrchestrator(
		library,
		strategy,
		pipeline.NewTargeter(cfg.Routing.MaxSections),
		pipeline.NewRetriever(library, cfg.Routing.ContextBudget),
		pipeline.NewSynthesizer(client, cfg.Routing.SynthesisRetries),
		repo,
		pipeline.Options{
			ConfidenceThreshold: cfg.Routing.ConfidenceThreshold,
			Pass1Timeout:        cfg.Routing.Pass1Timeout,
			Pass2Timeout:        cfg.Routing.Pass2Timeout,
			Pass3Timeout:        cfg.Routing.Pass3Timeout,
			Pass4Timeout:        cfg.Routing.Pass4Timeout,
		},
		logger,
	)

	// Initialize handlers.
	handler := api.NewHandler(orchestrator, repo, library, cfg)
	wsHandler := api.NewWebSocketHandler(handler, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	handler.Routes(r)
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Note: SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
