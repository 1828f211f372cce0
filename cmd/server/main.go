// Command server runs the duty-tracking and identity-verification API.
//
// Startup order: load .env and configuration, configure logging, set up
// tracing, open the store (SQLite, or the in-memory fallback when DB_PATH is
// "memory"), validate the optional profile-API credential, start the
// WebSocket hub, mount the HTTP routes, and serve until SIGINT/SIGTERM with
// a graceful drain.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/crowvale/dutywatch/internal/config"
	httpapi "github.com/crowvale/dutywatch/internal/http"
	"github.com/crowvale/dutywatch/internal/observability"
	"github.com/crowvale/dutywatch/internal/repo"
	"github.com/crowvale/dutywatch/internal/roblox"
	"github.com/crowvale/dutywatch/internal/services"
	"github.com/crowvale/dutywatch/internal/sysutil"
	"github.com/crowvale/dutywatch/internal/ws"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Optional .env for local development; real deployments use the
	// environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.ConfigureLogging(cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	store := openStore(cfg)

	lookup := roblox.NewClient(roblox.Options{
		UsersBaseURL:      cfg.ProfileAPI.UsersBaseURL,
		ThumbnailsBaseURL: cfg.ProfileAPI.ThumbnailsBaseURL,
		Cookie:            sysutil.FirstNonEmpty(cfg.ProfileAPI.Cookie, os.Getenv("ROBLOX_COOKIE")),
		MinInterval:       cfg.ProfileAPI.MinInterval,
		CooldownThreshold: cfg.ProfileAPI.CooldownThreshold,
		CooldownWindow:    cfg.ProfileAPI.CooldownWindow,
		RequestTimeout:    cfg.ProfileAPI.RequestTimeout,
	})
	probeCredential(ctx, lookup)

	dutySvc := services.NewDutyService(store, nil)
	hub := ws.NewHub(func(ctx context.Context) (any, error) {
		// Scope-agnostic snapshot: dashboards filter client-side.
		return dutySvc.ActiveSessions(ctx, "")
	})
	go hub.Run(ctx)

	dutySvc.Broadcast = hub
	verifySvc := services.NewVerificationService(store, lookup, hub)
	verifySvc.Attempts = cfg.ProfileAPI.LookupAttempts
	verifySvc.BackoffBase = cfg.ProfileAPI.BackoffBase

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Duty:   dutySvc,
		Verify: verifySvc,
		Hub:    hub,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining")

	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}

// openStore selects the persistence backend. SQLite is the default; the
// "memory" sentinel (or a failed open) degrades to the in-memory store so
// the service stays available at the cost of durability.
func openStore(cfg config.Config) services.Store {
	if cfg.DBPath == "memory" {
		log.Warn().Msg("using in-memory store, state is lost on restart")
		return repo.NewMemoryStore()
	}

	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		log.Error().Err(err).Str("path", cfg.DBPath).
			Msg("sqlite open failed, falling back to in-memory store")
		return repo.NewMemoryStore()
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Str("path", cfg.DBPath).Msg("sqlite store ready")
	return repo.NewGormStore(db)
}

// probeCredential checks the optional privileged profile-API cookie once at
// startup so a bad credential is visible in logs immediately instead of on
// the first verification.
func probeCredential(ctx context.Context, c *roblox.Client) {
	pctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	switch err := c.ValidateCredential(pctx); {
	case err == nil:
		log.Info().Msg("profile API credential validated")
	case errors.Is(err, roblox.ErrAuthInvalid):
		log.Warn().Msg("no usable profile API credential, using public endpoints")
	default:
		log.Warn().Err(err).Msg("profile API credential probe inconclusive")
	}
}
