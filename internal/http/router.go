// Package httpapi wires the HTTP transport (Gin) to the duty and
// verification engines, middleware, and route handlers. It centralizes
// cross-cutting concerns such as tracing, correlation IDs, logging, panic
// recovery, metrics, CORS, security headers, and rate limiting.
//
// Design goals:
//   - Observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/crowvale/dutywatch/internal/config"
	"github.com/crowvale/dutywatch/internal/http/handlers"
	"github.com/crowvale/dutywatch/internal/http/middleware"
	"github.com/crowvale/dutywatch/internal/ws"
)

// Deps carries the injected collaborators for the HTTP surface.
type Deps struct {
	Duty   handlers.DutyService
	Verify handlers.VerificationService
	// Hub serves the live-update WebSocket endpoint. Optional; when nil the
	// /ws route is not mounted.
	Hub *ws.Hub
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine: observability (tracing, metrics), rate limiting, CORS and security
// headers, health/metrics/ws endpoints, and the versioned API.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. Logger: structured access logs
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per subject/IP)
//  8. CORS and security headers
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging
	r.Use(middleware.Logger())

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (64 KiB; payloads here are tiny JSON bodies)
	r.Use(limitBody(64 << 10))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per subject/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyBySubjectOrIP())
	r.Use(rl.Handler())

	// 8) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps
		// tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Live updates
	if deps.Hub != nil {
		r.GET("/ws", gin.WrapH(deps.Hub))
	}

	h := handlers.New(deps.Duty, deps.Verify)

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Duty sessions
		api.POST("/duty/start", h.Start)
		api.POST("/duty/pause", h.Pause)
		api.POST("/duty/resume", h.Resume)
		api.POST("/duty/end", h.End)
		api.GET("/duty/status", h.DutyStatus)
		api.GET("/duty/active", h.ActiveSessions)
		api.GET("/duty/history/:subjectId", h.History)

		// Identity verification
		api.POST("/verification/request", h.RequestVerification)
		api.POST("/verification/check", h.CheckVerification)
		api.POST("/verification/cancel", h.CancelVerification)
		api.POST("/verification/reset", h.ResetVerification)
		api.GET("/verification/:subjectId", h.GetIdentity)
	}
}

// limitBody caps the request body size for all endpoints using
// http.MaxBytesReader; reads past the cap error downstream.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
