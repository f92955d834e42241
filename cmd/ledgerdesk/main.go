package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/odyssey-erp/ledgerdesk/internal/app"
	"github.com/odyssey-erp/ledgerdesk/internal/console"
	consolehttp "github.com/odyssey-erp/ledgerdesk/internal/console/http"
	"github.com/odyssey-erp/ledgerdesk/internal/observability"
	"github.com/odyssey-erp/ledgerdesk/internal/platform/cache"
	"github.com/odyssey-erp/ledgerdesk/internal/platform/db"
	"github.com/odyssey-erp/ledgerdesk/internal/remote"
	"github.com/odyssey-erp/ledgerdesk/internal/remote/memapi"
	"github.com/odyssey-erp/ledgerdesk/internal/shared"
	"github.com/odyssey-erp/ledgerdesk/internal/storage"
)

const sweepInterval = time.Minute

// backend is what a storage choice contributes to the runtime.
type backend struct {
	factory storage.Factory
	audit   shared.AuditRecorder
	health  map[string]app.HealthCheck
	close   func()
}

func openBackend(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*backend, error) {
	b := &backend{
		audit:  shared.LogAuditRecorder{Logger: logger},
		health: map[string]app.HealthCheck{},
		close:  func() {},
	}
	switch cfg.StorageBackend {
	case app.StorageRedis:
		client, err := cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, err
		}
		b.factory = storage.RedisFactory(client)
		b.health["redis"] = func(ctx context.Context) error { return cache.Ping(ctx, client) }
		b.close = func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	case app.StoragePostgres:
		pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 10, MaxConnIdleTime: 5 * time.Minute})
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, pool, storage.SchemaSQL, shared.AuditSchemaSQL); err != nil {
			pool.Close()
			return nil, err
		}
		b.factory = storage.PGFactory(pool)
		b.audit = shared.NewAuditLogger(pool)
		b.health["postgres"] = pool.Ping
		b.close = pool.Close
	default:
		b.factory = storage.NewMemoryFactory().Open
	}
	return b, nil
}

// openAPI returns a client for the configured API. Without API_BASE_URL a
// seeded in-process API is served on a loopback port.
func openAPI(cfg *app.Config, logger *slog.Logger) (*remote.Client, func(), error) {
	if cfg.APIBaseURL != "" {
		return remote.NewClient(cfg.APIBaseURL, cfg.APITimeout), func() {}, nil
	}
	api := memapi.NewServer()
	if err := memapi.Seed(api, cfg.DevAdminPassword); err != nil {
		return nil, nil, fmt.Errorf("seed dev api: %w", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, fmt.Errorf("listen dev api: %w", err)
	}
	srv := &http.Server{Handler: api, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("dev api server", slog.Any("error", err))
		}
	}()
	baseURL := "http://" + ln.Addr().String()
	logger.Warn("API_BASE_URL unset, serving dev api", slog.String("url", baseURL), slog.String("admin", memapi.AdminUsername))
	return remote.NewClient(baseURL, cfg.APITimeout), func() { _ = srv.Close() }, nil
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	metrics := observability.NewMetrics()

	store, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Error("open storage", slog.String("backend", cfg.StorageBackend), slog.Any("error", err))
		os.Exit(1)
	}
	defer store.close()

	client, closeAPI, err := openAPI(cfg, logger)
	if err != nil {
		logger.Error("open api", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeAPI()

	registry := console.NewRegistry(store.factory, console.Deps{
		API:     client,
		Logger:  logger,
		Metrics: metrics,
		Audit:   store.audit,
	})
	defer registry.Shutdown()
	go registry.RunSweeper(ctx, sweepInterval, cfg.ContextMaxIdle)

	consoleHandler := consolehttp.NewHandler(logger, registry, consolehttp.Config{
		CookieName:   cfg.ContextCookie,
		SecureCookie: cfg.IsProduction(),
		CSRFSecret:   cfg.CSRFSecret,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		ConsoleHandler: consoleHandler,
		Metrics:        metrics,
		HealthChecks:   store.health,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("storage", cfg.StorageBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
