// DriveBridge Server
//
// Features:
// - Google Drive link parsing and metadata lookup
// - Streaming proxy downloads with progress and retry
// - OAuth sign-in with anonymous API-key fallback
// - SSE real-time progress events
// - Prometheus metrics & structured logging (zap)
// - Rate limiting per session
package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/drivebridge/drivebridge/internal/api"
	"github.com/drivebridge/drivebridge/internal/auth"
	"github.com/drivebridge/drivebridge/internal/config"
	"github.com/drivebridge/drivebridge/internal/download"
	"github.com/drivebridge/drivebridge/internal/drive"
	"github.com/drivebridge/drivebridge/internal/driveurl"
	"github.com/drivebridge/drivebridge/internal/events"
	"github.com/drivebridge/drivebridge/internal/logging"
	"github.com/drivebridge/drivebridge/internal/metrics"
	"github.com/drivebridge/drivebridge/internal/quota"
	"github.com/drivebridge/drivebridge/internal/retry"
	"github.com/drivebridge/drivebridge/internal/session"
	"github.com/drivebridge/drivebridge/internal/token"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("DriveBridge Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Session store: PostgreSQL when configured, in-memory otherwise
	var store session.Store
	if cfg.DatabaseURL != "" {
		logging.Info("connecting to PostgreSQL...")
		pg, err := session.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			logging.Fatal("database connection failed", zap.Error(err))
		}
		defer pg.Close()
		store = pg
	} else {
		logging.Info("using in-memory session store")
		store = session.NewMemoryStore()
	}

	// OAuth and token lifecycle
	oauthCfg := auth.NewOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.OAuthRedirectURL)
	tokens := token.NewManager(store, oauthCfg)
	authHandler := auth.New(store, tokens, oauthCfg, auth.Config{
		SessionSecret: cfg.SessionSecret,
		SessionTTL:    cfg.SessionTTL,
		CookieSecure:  cfg.CookieSecure,
	})

	// Drive gateway and download pipeline
	parser := driveurl.NewParser(cfg.DriveHost)
	gateway := drive.NewGateway(cfg.GoogleAPIKey)
	retrier := retry.NewController(retry.DefaultConfig())
	tracker := download.NewTracker()
	broadcaster := events.NewBroadcaster()
	orchestrator := download.NewOrchestrator(gateway, retrier, tracker, broadcaster, cfg.DownloadTimeout)
	logging.Info("download pipeline initialized")

	// Rate limiter
	rateLimiter := quota.NewRateLimiter()

	// Create API server
	srv := api.NewServer(cfg, parser, gateway, tokens, authHandler,
		orchestrator, broadcaster, rateLimiter)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start HTTP(S) server
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	useTLS := cfg.TLSCertFile != "" && cfg.TLSKeyFile != ""
	if useTLS {
		httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS13,
		}
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	// Periodic session cleanup and active-session gauge
	go func() {
		ticker := time.NewTicker(15 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := store.Cleanup(ctx, cfg.SessionTTL); err != nil {
					logging.Error("session cleanup failed", zap.Error(err))
				} else if n > 0 {
					logging.Info("cleaned idle sessions", zap.Int("count", n))
				}
				if count, err := store.Count(ctx); err == nil {
					metrics.SetActiveSessions(int64(count))
				}
			}
		}
	}()

	// Periodic cleanup of retry state and rate limiter buckets
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				retrier.Evict(24 * time.Hour)
				rateLimiter.Cleanup(24 * time.Hour)
			}
		}
	}()

	// Periodic removal of finished download tasks
	go func() {
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := tracker.RemoveTerminal(); n > 0 {
					logging.Info("removed finished tasks", zap.Int("count", n))
				}
			}
		}
	}()

	if useTLS {
		logging.Info("server listening (TLS 1.3)",
			zap.String("addr", cfg.ListenAddr),
			zap.String("cert", cfg.TLSCertFile))
		if err := httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	} else {
		logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Fatal("server error", zap.Error(err))
		}
	}
}
