package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	modelarena "github.com/set-night/modelarena"
	"github.com/set-night/modelarena/internal/config"
	"github.com/set-night/modelarena/internal/domain"
	"github.com/set-night/modelarena/internal/handler"
	"github.com/set-night/modelarena/internal/middleware"
	"github.com/set-night/modelarena/internal/repository"
	"github.com/set-night/modelarena/internal/service"
	"github.com/set-night/modelarena/internal/telegram"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open store", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	registry, err := service.LoadModelRegistry(cfg.ModelMapPath)
	if err != nil {
		slog.Error("failed to load model catalogue", "error", err)
		os.Exit(1)
	}

	// Ops chat mirror is optional
	var events service.EventLogger
	tgLogger, err := telegram.NewTelegramLogger(cfg)
	if err != nil {
		slog.Error("failed to init telegram logger", "error", err)
		os.Exit(1)
	}
	if tgLogger != nil {
		events = tgLogger
		defer tgLogger.Wait()
	}

	// Initialize services
	router := service.NewProviderRouter(map[domain.Provider]service.ModelCaller{
		domain.ProviderOpenAI: service.NewOpenAIClient(cfg.OpenAIKey, cfg.OpenAIBaseURL),
		domain.ProviderAzure:  service.NewAzureClient(cfg.AzureOpenAIKey, cfg.AzureOpenAIEndpoint),
	})
	userService := service.NewUserService(store, cfg.InitialCredits, events)
	ledger := service.NewCreditLedger(store, events)
	conversations := service.NewConversationService(store)
	comparisons := service.NewComparisonService(service.ComparisonDeps{
		Store:         store,
		Ledger:        ledger,
		Conversations: conversations,
		Registry:      registry,
		Caller:        router,
		Events:        events,
		MaxParallel:   cfg.MaxParallelCalls,
		CallTimeout:   config.RequestTimeout,
	})
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)

	h := handler.New(handler.Deps{
		Cfg:           cfg,
		Store:         store,
		Users:         userService,
		Ledger:        ledger,
		Conversations: conversations,
		Comparisons:   comparisons,
		Registry:      registry,
		RateLimiter:   limiter,
		Events:        events,
	})

	// Drop idle rate limiters
	go func() {
		ticker := time.NewTicker(config.RateLimiterCleanup)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := limiter.Cleanup(config.RateLimiterIdleTTL); n > 0 {
					slog.Debug("rate limiters cleaned up", "removed", n)
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           h.Routes(),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	go func() {
		slog.Info("starting server", "port", cfg.Port, "driver", cfg.StorageDriver, "models", len(registry.Entries()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	slog.Info("server stopped gracefully")
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StorageDriver {
	case config.DriverSQLite:
		return repository.NewSQLiteStore(cfg.SQLitePath)
	case config.DriverPostgres:
		pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}

		migrationsFS, err := fs.Sub(modelarena.MigrationsFS, "migrations")
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("load embedded migrations: %w", err)
		}
		if err := repository.RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		return repository.NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
