// Nexus - ESG Reporting Session Gateway
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
	"github.com/verdantiq/nexus/internal/api"
	"github.com/verdantiq/nexus/internal/cache"
	"github.com/verdantiq/nexus/internal/config"
	"github.com/verdantiq/nexus/internal/engine"
	"github.com/verdantiq/nexus/internal/middleware"
	"github.com/verdantiq/nexus/internal/store"
	"github.com/verdantiq/nexus/internal/ws"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

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

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		slog.Error("Failed to create data directory", "error", err, "dir", cfg.DataDir)
		os.Exit(1)
	}

	// Optional results cache (REDIS_URL gated).
	var resultsCache *cache.ResultsCache
	if cfg.RedisURL != "" {
		slog.Info("Attempting to connect to Redis results cache")
		resultsCache, err = cache.NewResultsCache(context.Background(), cfg.RedisURL, cfg.Timeout.ResultsCacheTTL)
		if err != nil {
			slog.Warn("Failed to connect to Redis, results caching disabled", "error", err)
			resultsCache = nil
		} else {
			defer func() {
				if closeErr := resultsCache.Close(); closeErr != nil {
					slog.Warn("Failed to close Redis client", "error", closeErr)
				}
			}()
			slog.Info("Results cache enabled")
		}
	} else {
		slog.Info("Results caching disabled (REDIS_URL not set)")
	}

	// Initialize services.
	hub := ws.NewHub()
	eng := engine.New(repo, hub, cfg)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, cfg)
	sessionHandler := api.NewSessionHandler(baseHandler, eng, hub, resultsCache)
	healthHandler := api.NewHealthHandler(repo, cfg)
	wsHandler := ws.NewHandler(repo, hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))

	corsOrigins := []string{"*"}
	if !cfg.IsDevelopment() {
		corsOrigins = []string{cfg.FrontendURL}
	}
	r.Use(middleware.CORS(corsOrigins))

	healthHandler.RegisterHealth(r)
	sessionHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/sessions/{sessionID}", wsHandler.ServeHTTP)

	// Create server.
	// Note: progress streams are long-lived, so writes are not bounded.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start session sweeper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Sweeping a session closes its progress streams and drops any
	// cached results so stale data cannot outlive the session.
	cleanup := func(sessionID string) {
		hub.CloseSession(sessionID)
		if resultsCache != nil {
			resultsCache.Invalidate(context.Background(), sessionID)
		}
	}
	engine.StartSweeper(ctx, repo, cfg.DataDir, cfg.SessionTTL, cleanup)
	slog.Info("Session sweeper started", "session_ttl", cfg.SessionTTL)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeout.Shutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
