// Package api provides the HTTP front door for the hotspot gateway.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterConfig holds HTTP-layer settings.
type RouterConfig struct {
	RateLimit float64 // requests per second, 0 disables
	RateBurst int
}

// Router wraps the Gin engine with gateway handlers.
type Router struct {
	engine  *gin.Engine
	handler *Handler
}

// NewRouter creates a new API router.
func NewRouter(handler *Handler, config RouterConfig, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	// Middleware
	engine.Use(gin.Recovery())
	engine.Use(LoggingMiddleware(logger))
	engine.Use(corsMiddleware())
	if config.RateLimit > 0 {
		engine.Use(RateLimitMiddleware(config.RateLimit, config.RateBurst))
	}

	r := &Router{
		engine:  engine,
		handler: handler,
	}

	r.setupRoutes()

	return r
}

// setupRoutes configures all API routes.
func (r *Router) setupRoutes() {
	r.engine.GET("/", r.handler.Index)
	r.engine.GET("/health", r.handler.HealthCheck)
	r.engine.POST("/auth", r.handler.Authorize)
}

// Engine returns the underlying Gin engine.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}

// corsMiddleware adds CORS headers.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
