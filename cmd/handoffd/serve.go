package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"handoff/internal/auth"
	"handoff/internal/config"
	"handoff/internal/hub"
	"handoff/internal/metrics"
	"handoff/internal/notify"
	"handoff/internal/ratelimit"
	"handoff/internal/responder"
	"handoff/internal/router"
	"handoff/internal/store"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the websocket and REST server",
		Long: `Start the hand-off server.

Configuration is read from the YAML file (if it exists) and then from
environment variables such as HANDOFF_ADDR, HANDOFF_STORAGE, OLLAMA_URL
and RATE_LIMIT. Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "handoff.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	configureLogging(cfg.Log, debug)

	st, err := openStore(cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()

	h := hub.New(hub.WithStore(st))
	snap, err := st.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stored state: %w", err)
	}
	if err := h.Restore(ctx, snap); err != nil {
		return fmt.Errorf("failed to restore state: %w", err)
	}

	notifier, closeNotifier := buildNotifier(cfg.Notify)
	defer closeNotifier()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	r := router.New(router.Options{
		Hub:            h,
		Typing:         hub.NewTyping(hub.DefaultTypingTTL),
		Responder:      buildResponder(cfg.Responder),
		Auth:           buildAuth(cfg.Auth),
		Notifier:       notify.NewDispatcher(notifier, cfg.Notify.Timeout),
		Limiter:        ratelimit.NewRateLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Window),
		Metrics:        m,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		StaticDir:      cfg.Server.StaticDir,
		MetricsPath:    metricsPath,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server started",
			"addr", cfg.Server.Addr,
			"responder", cfg.Responder.Kind,
			"storage", cfg.Storage.Driver,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := r.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("closing websocket sessions: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}

func openStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		st, err := store.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		slog.Info("using sqlite store", "path", cfg.Path)
		return st, nil
	default:
		return store.NewMemory(), nil
	}
}

func buildResponder(cfg config.ResponderConfig) responder.Responder {
	var next responder.Responder = responder.Simulated{}
	if cfg.Kind == "ollama" {
		next = responder.NewOllama(cfg.URL, cfg.Model, cfg.CacheTTL)
	}
	if cfg.SensitiveGuard {
		next = responder.Guard{Next: next}
	}
	return responder.Bounded{Next: next, Timeout: cfg.Timeout, Fallback: cfg.FallbackReply}
}

func buildAuth(cfg config.AuthConfig) auth.Authenticator {
	chain := auth.Chain{auth.NewStatic(cfg.Tokens)}
	if cfg.JWTSecret != "" {
		chain = append(chain, auth.NewJWTService(cfg.JWTSecret, cfg.JWTExpiry))
	}
	if len(cfg.Tokens) == 0 && cfg.JWTSecret == "" {
		slog.Warn("no agent or admin credentials configured; agent and admin endpoints will reject everyone")
	}
	return chain
}

func buildNotifier(cfg config.NotifyConfig) (notify.Notifier, func()) {
	if cfg.RedisAddr == "" {
		return notify.Log{}, func() {}
	}
	rs := notify.NewRedisStream(cfg.RedisAddr, cfg.RedisStream)
	slog.Info("human request alerts go to redis", "addr", cfg.RedisAddr, "stream", cfg.RedisStream)
	return notify.Multi{notify.Log{}, rs}, func() {
		if err := rs.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
}
