// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Streaming endpoints opt out of compression and body limits that would
//     break long-lived connections
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-overlay-backend/internal/clock"
	"github.com/tbourn/go-overlay-backend/internal/config"
	"github.com/tbourn/go-overlay-backend/internal/http/handlers"
	"github.com/tbourn/go-overlay-backend/internal/http/middleware"
	"github.com/tbourn/go-overlay-backend/internal/services"
	"github.com/tbourn/go-overlay-backend/internal/sse"
	"github.com/tbourn/go-overlay-backend/internal/tap"
)

// Deps carries the application services the router wires to routes.
type Deps struct {
	DB       *gorm.DB
	Ingest   *services.Ingest
	State    *services.State
	Admin    *services.Admin
	Debug    *services.Debug
	Hub      *sse.Hub
	Tap      *tap.Tap
	Clock    clock.Clock
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), rate limiting,
// CORS and security headers, health and metrics endpoints, and then mounts
// the webhook ingress, the JSON API, the SSE streams, and (optionally) the
// debug surface.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII and token scrubbing
//  4. Recovery: capture panics after logger
//  5. Metrics
//  6. Rate limiter (per tenant/IP)
//  7. CORS and security headers
//
// Compression is applied per-group: the JSON API compresses, the SSE
// streams and the webhook ingress do not (compressed SSE defeats
// incremental delivery, and the webhook body must be byte-exact for HMAC).
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction (signature header and SSE token
	//    masking are built in)
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{}))

	// 4) Panic recovery to problem+json 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 6) Token-bucket rate limiter per tenant/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByBroadcasterOrIP())
	r.Use(rl.Handler())

	// 7) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Last-Event-ID"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ProblemNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ProblemBadRequest, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(handlers.Handler{
		Ingest:        deps.Ingest,
		State:         deps.State,
		Admin:         deps.Admin,
		Debug:         deps.Debug,
		Hub:           deps.Hub,
		Tap:           deps.Tap,
		WebhookSecret: cfg.WebhookSecret,
		SigningKey:    cfg.SSE.SigningKey,
		Heartbeat:     cfg.SSE.Heartbeat,
		TokenTTL:      cfg.SSE.TokenLifetime,
		Clock:         deps.Clock,
	})

	// Webhook ingress: raw body, no compression.
	r.POST("/eventsub/webhook", h.Webhook)

	// JSON API: compressed. Mutations take an admin subscription token.
	api := r.Group("/api", gzip.Gzip(gzip.DefaultCompression))
	{
		api.GET("/state", h.GetState)
		api.POST("/queue/dequeue", h.RequireAdminToken(), h.Dequeue)
		api.POST("/settings/update", h.RequireAdminToken(), h.UpdateSettings)
	}

	// Patch streams: never compressed, never buffered.
	r.GET("/overlay/sse", h.OverlaySSE)
	r.GET("/admin/sse", h.AdminSSE)

	// Debug surface, mounted only when enabled.
	if cfg.DebugEnabled {
		debug := r.Group("/_debug")
		{
			debug.GET("/tap", h.TapStream)
			debug.GET("/capture", h.Capture)
			debug.POST("/replay", h.Replay)
			debug.POST("/token", h.MintToken)
		}
	}
}
