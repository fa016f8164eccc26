package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/btouchard/switchboard/internal/api"
	"github.com/btouchard/switchboard/internal/auth"
	"github.com/btouchard/switchboard/internal/config"
	"github.com/btouchard/switchboard/internal/lifecycle"
	"github.com/btouchard/switchboard/internal/mcp"
	"github.com/btouchard/switchboard/internal/notify"
	"github.com/btouchard/switchboard/internal/ratelimit"
	"github.com/btouchard/switchboard/internal/realtime"
	"github.com/btouchard/switchboard/internal/store"
)

const metricsLogInterval = 5 * time.Minute

func cmdServe(args []string) {
	fs := flagSet("serve")
	configPath := fs.String("config", "", "path to config file")
	_ = fs.Parse(args) // ExitOnError handles errors

	cfg := mustLoadConfig(*configPath)

	slog.Info("starting switchboard",
		"version", version,
		"host", cfg.Server.Host,
		"port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// resolveSecret returns the configured signing secret, or the one kept in
// the secret directory.
func resolveSecret(cfg *config.Config) (string, error) {
	if cfg.Auth.Secret != "" {
		return cfg.Auth.Secret, nil
	}
	return auth.LoadOrCreateSecret(cfg.Auth.SecretDir)
}

func newLimiter(ctx context.Context, cfg config.RateLimitConfig) (ratelimit.Limiter, func()) {
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemory(cfg.RequestsPerMinute, time.Minute), func() {}
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unreachable, rate limits fall back to memory until it recovers",
			"addr", cfg.RedisAddr,
			"error", err)
	} else {
		slog.Info("rate limiting backed by redis", "addr", cfg.RedisAddr)
	}
	return ratelimit.NewRedis(client, cfg.RequestsPerMinute, time.Minute), func() { _ = client.Close() }
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- SQLite Store ---
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	slog.Info("database opened", "path", cfg.Database.Path)

	// --- Session tokens ---
	secret, err := resolveSecret(cfg)
	if err != nil {
		return fmt.Errorf("loading secret: %w", err)
	}
	tokens, err := auth.NewTokens(secret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("creating token issuer: %w", err)
	}

	// --- Realtime ---
	metrics := realtime.NewMetrics()
	registry := realtime.NewRegistry(metrics.Hooks())
	fanout := realtime.NewFanout(registry, metrics)
	gateway := realtime.NewGateway(registry, metrics, realtime.GatewayConfig{
		Principal:    auth.RequestPrincipal,
		ClientOrigin: cfg.Server.ClientOrigin,
		SendBuffer:   cfg.Realtime.SendBuffer,
		WriteTimeout: cfg.Realtime.WriteTimeout,
		JoinTimeout:  cfg.Realtime.JoinTimeout,
	})

	// --- Request lifecycle ---
	svc := lifecycle.NewService(db, fanout)
	notifiers := []notify.Notifier{
		notify.NotifierFunc(func(e lifecycle.Event) { metrics.RecordTransition(e.Status) }),
	}

	// --- MCP Server ---
	var mcpHandler http.Handler
	if cfg.MCP.Enabled {
		mcpServer := mcp.NewServer(&mcp.Deps{
			Store:     db,
			Lifecycle: svc,
			Version:   version,
		})
		mcpHandler = mcp.NewHTTPHandler(mcpServer)
		notifiers = append(notifiers, notify.NewMCPNotifier(mcpServer))
	}

	hub := notify.NewHub(notifiers...)
	svc.SetNotifyFunc(hub.Notify)

	// --- Rate limiting ---
	limiter, closeLimiter := newLimiter(ctx, cfg.RateLimit)
	defer closeLimiter()

	// --- HTTP Router ---
	router := api.NewRouter(api.Deps{
		Store:        db,
		Lifecycle:    svc,
		Tokens:       tokens,
		Limiter:      limiter,
		ClientOrigin: cfg.Server.ClientOrigin,
		Gateway:      gateway,
		Metrics:      metrics,
		MCP:          mcpHandler,
	})

	metrics.StartPeriodicLog(metricsLogInterval, ctx.Done())

	// --- HTTP Server ---
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("switchboard is ready", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	metrics.LogSummary()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
