package main

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"geoattend/internal/handler"
	"geoattend/internal/httpmiddleware"
)

type routerDeps struct {
	limiter  httpmiddleware.Limiter
	registry *prometheus.Registry
	required map[string]handler.Checker
	optional map[string]handler.Checker
	log      *zap.Logger
}

func newRouter(h *handler.Handler, deps routerDeps) *gin.Engine {
	r := gin.New()

	// Recovery middleware
	r.Use(gin.Recovery())

	// Access log
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))

	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))

	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.registry, promhttp.HandlerOpts{})))
	r.GET("/healthz", handler.Health(deps.required, deps.optional))

	api := r.Group("", httpmiddleware.Middleware(deps.limiter, deps.log))
	h.Register(api)
	return r
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
