// Package main is the entry point for the weather data proxy. It loads
// configuration, assembles the middleware stack around the gateway handler,
// starts the HTTP server, and handles graceful shutdown on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/tropicstracker/stormproxy/internal/admin"
	"github.com/tropicstracker/stormproxy/internal/cache"
	"github.com/tropicstracker/stormproxy/internal/config"
	"github.com/tropicstracker/stormproxy/internal/endpoint"
	"github.com/tropicstracker/stormproxy/internal/gateway"
	"github.com/tropicstracker/stormproxy/internal/health"
	"github.com/tropicstracker/stormproxy/internal/logging"
	"github.com/tropicstracker/stormproxy/internal/metrics"
	"github.com/tropicstracker/stormproxy/internal/middleware"
	"github.com/tropicstracker/stormproxy/internal/ratelimit"
	"github.com/tropicstracker/stormproxy/internal/upstream"
)

func main() {
	configPath := flag.String("config", "configs/stormproxy.yaml", "path to configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.IsDevelopment() {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}

	policy := cfg.Policy()
	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"environment", cfg.Environment,
		"rate_limit_enabled", policy.RateLimitEnabled,
		"cache_dir", cfg.Cache.Dir,
		"cache_expiry", cfg.Cache.Expiry,
		"metrics_enabled", cfg.Metrics.IsEnabled(),
		"admin_enabled", cfg.Admin.Enabled,
		"trusted_proxies", len(cfg.Server.TrustedProxies),
	)

	if cfg.Metrics.IsEnabled() {
		metrics.Init()
	}

	eventLogs := logging.NewEventLogs(cfg.Logging, logger)
	defer eventLogs.Close()

	clock := clockwork.NewRealClock()

	catalog := endpoint.NewCatalog(cfg.Upstream.URLOverrides)

	store, err := cache.New(cfg.Cache.Dir, cfg.Cache.Expiry, clock, logger)
	if err != nil {
		logger.Error("failed to create cache", "error", err)
		os.Exit(1)
	}

	// The limiter persists windows in the cache directory so the sweep
	// reclaims stale records along with expired responses.
	limiter, err := ratelimit.New(cfg.RateLimit, policy.RateLimitEnabled, cfg.Cache.Dir,
		cfg.Server.TrustedProxies, clock, logger, eventLogs.Security)
	if err != nil {
		logger.Error("failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	client := upstream.New(cfg.Upstream, logger, eventLogs.Errors)

	// Config hot reload: fsnotify on the file plus SIGHUP.
	reloader := config.NewReloader(*configPath, cfg, logger)
	reloader.Start()
	defer reloader.Stop()
	reloader.OnReload(func(newCfg *config.Config) {
		limiter.UpdateConfig(newCfg.RateLimit, newCfg.Policy().RateLimitEnabled)
		store.UpdateExpiry(newCfg.Cache.Expiry)
	})

	gw := gateway.New(catalog, store, client, reloader.Current, clock,
		logger, eventLogs.Errors, eventLogs.Security)

	// Assemble middleware stack:
	// Recovery → RequestID → SecurityHeaders → Logging → Deadline → CORS → RateLimit → Gateway
	var handler http.Handler = gw
	handler = limiter.Middleware()(handler)
	handler = middleware.CORS(func() middleware.CORSConfig {
		c := reloader.Current()
		return middleware.CORSConfig{
			Wildcard:       c.Policy().WildcardCORS,
			AllowedOrigins: c.CORS.Origins,
		}
	})(handler)
	if timeout := cfg.Server.GlobalTimeout(); timeout > 0 {
		handler = middleware.Deadline(timeout)(handler)
	}
	handler = middleware.Logging(logger)(handler)
	handler = middleware.SecurityHeaders(policy.FullSecurityHeaders)(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(logger)(handler)

	// Health, metrics, and admin bypass the client middleware stack.
	mux := http.NewServeMux()
	checker := health.NewChecker(catalog, logger)
	mux.HandleFunc("GET /health", checker.Live)
	mux.HandleFunc("GET /ready", checker.Ready)

	metricsPath := cfg.Metrics.Path
	if cfg.Metrics.IsEnabled() {
		mux.Handle(metricsPath, metrics.Handler())
		logger.Info("metrics endpoint registered", "path", metricsPath)
	}

	if cfg.Admin.Enabled {
		adminHandler := admin.New(reloader.Current, store, limiter, client, eventLogs.Security)
		adminHandler.Register(mux)
		logger.Info("admin endpoints registered")
	}

	combined := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/health" || r.URL.Path == "/ready",
			cfg.Metrics.IsEnabled() && r.URL.Path == metricsPath,
			cfg.Admin.Enabled && strings.HasPrefix(r.URL.Path, "/admin/"):
			mux.ServeHTTP(w, r)
		default:
			handler.ServeHTTP(w, r)
		}
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      combined,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("starting proxy", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	logger.Info("draining in-flight requests", "timeout", cfg.Server.ShutdownTimeout)
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("proxy stopped gracefully")
}
