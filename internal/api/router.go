// Package api is the HTTP surface of the legal journal. Handlers translate
// requests into service calls and carry no business rules of their own.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/musebar/legaljournal/internal/health"
	"github.com/musebar/legaljournal/internal/metrics"
	"go.uber.org/zap"
)

// Registrar mounts a handler's routes.
type Registrar interface {
	Register(rg *gin.RouterGroup)
}

// Pinger reports whether a backing store is reachable. *pgxpool.Pool
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IntegrityReporter exposes the background chain check. *health.Monitor
// satisfies it.
type IntegrityReporter interface {
	Status() health.Status
}

// Options configures NewRouter.
type Options struct {
	CORSOrigins  []string
	RateLimitRPS int    // 0 disables rate limiting
	DB           Pinger // nil reports healthy without a database check
	Integrity    IntegrityReporter
	Logger       *zap.Logger
}

// NewRouter builds the gin engine with the middleware stack, /healthz,
// /metrics and every handler mounted under /api/v1. ctx bounds background
// work started by middleware.
func NewRouter(ctx context.Context, opts Options, handlers ...Registrar) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())

	if len(opts.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     opts.CORSOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Actor"},
			ExposeHeaders:    []string{"Content-Length", "Content-Disposition", "X-Export-Sha256", "X-Export-Signature"},
			AllowCredentials: !containsWildcard(opts.CORSOrigins),
			MaxAge:           12 * time.Hour,
		}))
	}

	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	if opts.RateLimitRPS > 0 {
		router.Use(RateLimiter(ctx, opts.RateLimitRPS, opts.RateLimitRPS*2))
	}
	router.Use(metrics.PrometheusMiddleware())
	router.Use(requestLogger(logger))

	router.GET("/healthz", healthz(opts.DB, opts.Integrity))
	router.GET("/metrics", metrics.Handler())

	v1 := router.Group("/api/v1")
	for _, h := range handlers {
		h.Register(v1)
	}
	return router
}

// healthz reports liveness. A compromised journal is surfaced in the body
// but does not fail the probe: the service must stay up to be inspected.
func healthz(db Pinger, integrity IntegrityReporter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": err.Error()})
				return
			}
		}
		body := gin.H{"status": "ok"}
		if integrity != nil {
			body["integrity"] = integrity.Status()
		}
		c.JSON(http.StatusOK, body)
	}
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger returns a Gin middleware that logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
