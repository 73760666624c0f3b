package handlers

import (
	"time"

	"perkwallet/internal/auth"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds what the HTTP surface needs
type RouterConfig struct {
	CronSecret     string
	AllowedOrigins []string
	Jobs           JobService
	// Gatherer backs /metrics. The route is omitted when nil.
	Gatherer prometheus.Gatherer
}

// NewRouter builds the gin engine with every route registered
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	if err := router.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		panic(err)
	}

	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/", HomeHandler)
	router.GET("/health", HealthHandler)
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	cron := NewCronHandler(cfg.Jobs)
	api := router.Group("/api/cron")
	api.Use(auth.CronAuthMiddleware(cfg.CronSecret))
	{
		api.POST("/reminders", cron.RemindersHandler)
		api.GET("/reminders", cron.RemindersHandler)
		api.POST("/digest", cron.DigestHandler)
		api.GET("/digest", cron.DigestHandler)
		api.GET("/runs", cron.RunsHandler)
	}

	return router
}
