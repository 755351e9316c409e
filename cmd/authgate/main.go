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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/okellodev/authgate/internal/auth"
	"github.com/okellodev/authgate/internal/config"
	"github.com/okellodev/authgate/internal/flow"
	"github.com/okellodev/authgate/internal/handlers"
	"github.com/okellodev/authgate/internal/identity"
	"github.com/okellodev/authgate/internal/ledger"
	middlewareCustom "github.com/okellodev/authgate/internal/middleware"
	"github.com/okellodev/authgate/internal/policy"
	"github.com/okellodev/authgate/internal/routes"
	pkghttp "github.com/okellodev/authgate/pkg/http"
	pkglogger "github.com/okellodev/authgate/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Attempt ledger, scoped to this process's working sessions
	lockoutCfg := policy.Config{
		MaxPasswordAttempts:     cfg.Lockout.MaxPasswordAttempts,
		MaxSecondFactorAttempts: cfg.Lockout.MaxSecondFactorAttempts,
		LockoutTTL:              cfg.Lockout.LockoutTTL,
		MinPasswordLength:       cfg.Lockout.MinPasswordLength,
	}
	attemptStore := ledger.NewTTLStore(cfg.Lockout.LedgerBackstopTTL)
	defer attemptStore.Stop()

	attemptLedger := ledger.New(attemptStore, lockoutCfg, logger)
	lockoutPolicy := policy.New(lockoutCfg)

	// Upstream identity service
	identityClient := identity.NewHTTPClient(cfg.Identity.BaseURL, cfg.Identity.Timeout, logger)

	// Flow registry and factory
	flowCfg := flow.Config{
		CountdownStart:    cfg.Flow.CountdownStart,
		CountdownInterval: cfg.Flow.CountdownInterval,
		RecoveryPath:      cfg.Flow.RecoveryPath,
		DashboardPath:     cfg.Flow.DashboardPath,
	}
	registry := flow.NewRegistry(cfg.Flow.FlowTTL)
	defer registry.Stop()

	newFlow := func() *flow.Flow {
		return flow.New(flow.Deps{
			Ledger: attemptLedger,
			Policy: lockoutPolicy,
			Client: identityClient,
			Logger: logger,
			Audit:  auditLogger,
			Config: flowCfg,
		})
	}

	cookieCfg := auth.CookieConfig{
		Domain:             cfg.Cookie.Domain,
		Secure:             cfg.Cookie.Secure,
		SameSite:           cfg.Cookie.SameSite,
		FallbackAccessTTL:  cfg.Cookie.FallbackAccessTTL,
		FallbackRefreshTTL: cfg.Cookie.FallbackRefreshTTL,
	}
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	flowHandler := handlers.NewFlowHandler(registry, newFlow, cookieCfg, ipConfig, logger)

	// Router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))

	routes.RegisterRoutes(router, flowHandler, middlewareCustom.RateLimitConfig{
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
	})

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGINT/SIGTERM
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("server starting", slog.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("server shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped")
}
