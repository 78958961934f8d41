package observability

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/capipc/internal/logging"
	"github.com/danmuck/capipc/internal/registry"
)

// ServiceLister is the registry view the admin router exposes.
type ServiceLister interface {
	Services() []registry.ServiceInfo
}

// AdminOptions configures NewAdminRouter.
type AdminOptions struct {
	Node        string
	Services    ServiceLister
	Ready       func() bool
	CorsOrigins []string
}

// NewAdminRouter serves /health, /ready, /metrics and /services.
func NewAdminRouter(opts AdminOptions) *gin.Engine {
	RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(AdminMiddleware(opts.Node, logging.Logger().With().Str("component", "admin").Logger()))
	if len(opts.CorsOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: opts.CorsOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodOptions},
			AllowHeaders: []string{"Origin", "Content-Type"},
			MaxAge:       12 * time.Hour,
		}))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "node": opts.Node})
	})
	r.GET("/ready", func(c *gin.Context) {
		if opts.Ready != nil && !opts.Ready() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/services", func(c *gin.Context) {
		services := []registry.ServiceInfo{}
		if opts.Services != nil {
			services = opts.Services.Services()
		}
		c.JSON(http.StatusOK, gin.H{"services": services})
	})
	return r
}
