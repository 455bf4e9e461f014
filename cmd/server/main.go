package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/driftspace/tradepost/internal/api"
	"github.com/driftspace/tradepost/internal/config"
	"github.com/driftspace/tradepost/internal/lobby"
	"github.com/driftspace/tradepost/internal/store"
)

// Main entry point: resolves configuration, selects a store backend, and
// serves the marketplace API plus the lobby WebSocket.
func main() {
	ctx := context.Background()

	resolver := config.NewResolver(config.Options{})
	cfg, err := resolver.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	backend, cleanup, err := newBackend(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialize store backend", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer cleanup()

	st := store.New(backend, logger)
	handler := api.NewHandler(st, logger)
	hub := lobby.NewHub(logger)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Mount("/", handler.Routes())
	r.Get("/ws/lobby", hub.HandleWS)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: r}

	go func() {
		logger.Info("starting server", "addr", cfg.ListenAddr, "backend", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
}

// newBackend constructs the store backend named by configuration.
func newBackend(ctx context.Context, cfg *config.Config) (store.Backend, func(), error) {
	switch cfg.StoreBackend {
	case "postgres":
		pg, err := store.NewPostgresBackend(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, nil, err
		}
		return store.NewRedisBackend(rdb), func() { rdb.Close() }, nil
	default:
		return store.NewMemoryBackend(), func() {}, nil
	}
}
