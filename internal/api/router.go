// Package api wires together all HTTP routes for the orgstore backend.
//
// Organization creation, lookup, update and admin login are unauthenticated.
// Delete and the tenant document routes require a session token issued by
// /admin/login; the handler layer never trusts an organization name from the
// request over the one in the token.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/orgstore/orgstore/internal/api/admin"
	"github.com/orgstore/orgstore/internal/api/org"
	"github.com/orgstore/orgstore/internal/audit"
	"github.com/orgstore/orgstore/internal/config"
	"github.com/orgstore/orgstore/internal/middleware"
	"github.com/orgstore/orgstore/internal/services"
	"github.com/orgstore/orgstore/internal/storage"
)

// readinessTimeout bounds the whole /ready probe.
const readinessTimeout = 3 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Dependencies are the process-owned handles and services the router serves.
// Redis is optional; when set it backs the redis rate limiter and is probed
// by /ready. Audit defaults to the slog sink when nil.
type Dependencies struct {
	DB            Pinger
	Store         storage.NamespaceStore
	Redis         *redis.Client
	Organizations *services.OrganizationService
	Auth          *services.AdminAuthService
	Documents     *services.DocumentService
	Audit         audit.Shipper
	Version       string
}

// BackgroundServices holds resources started by the router that must be
// stopped during graceful shutdown, after the HTTP server has drained.
type BackgroundServices struct {
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *BackgroundServices, error) {
	bg := &BackgroundServices{}
	var loginChain []gin.HandlerFunc
	if cfg.Security.RateLimiting.Enabled {
		limiter, err := middleware.NewLimiter(&cfg.Security.RateLimiting, deps.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create login rate limiter: %w", err)
		}
		if rl, ok := limiter.(*middleware.RateLimiter); ok {
			bg.rateLimiters = append(bg.rateLimiters, rl)
		}
		loginChain = append(loginChain, middleware.RateLimitMiddleware(limiter))
	}

	shipper := deps.Audit
	if shipper == nil {
		shipper = audit.NewSlogShipper()
	}

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))
	router.Use(middleware.AuditMiddleware(shipper))

	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps))
	router.GET("/version", versionHandler(deps.Version))

	orgHandlers := org.NewOrganizationHandlers(deps.Organizations)
	docHandlers := org.NewDocumentHandlers(deps.Documents)
	authHandlers := admin.NewAuthHandlers(deps.Auth)
	requireSession := middleware.BearerAuthMiddleware(deps.Auth)

	orgGroup := router.Group("/org")
	{
		orgGroup.POST("/create", orgHandlers.CreateOrganizationHandler())
		orgGroup.GET("/get", orgHandlers.GetOrganizationHandler())
		orgGroup.PUT("/update", orgHandlers.UpdateOrganizationHandler())
		orgGroup.DELETE("/delete", requireSession, orgHandlers.DeleteOrganizationHandler())
		orgGroup.POST("/documents", requireSession, docHandlers.AddDocumentsHandler())
		orgGroup.GET("/documents", requireSession, docHandlers.ListDocumentsHandler())
	}

	loginChain = append(loginChain, authHandlers.LoginHandler())
	router.POST("/admin/login", loginChain...)

	return router, bg, nil
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Probes the database, the namespace backend and Redis (when configured) in parallel.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, time"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service.
func readinessHandler(deps Dependencies) gin.HandlerFunc {
	pingers := map[string]func(context.Context) error{
		"database":   deps.DB.PingContext,
		"namespaces": deps.Store.Ping,
	}
	if deps.Redis != nil {
		pingers["redis"] = func(ctx context.Context) error { return deps.Redis.Ping(ctx).Err() }
	}

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		var mu sync.Mutex
		checks := gin.H{}
		var g errgroup.Group
		for name, ping := range pingers {
			g.Go(func() error {
				err := ping(ctx)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					checks[name] = "unhealthy"
					slog.WarnContext(ctx, "readiness check failed", "check", name, "error", err)
					return fmt.Errorf("%s not ready", name)
				}
				checks[name] = "healthy"
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  err.Error(),
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the running server version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler(version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"version": version})
	}
}
