package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/app"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/expiry"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/handlers"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/internal/services"
	"github.com/carstingaxion/gatherpress-cache-invalidation-hooks/pkg/logger"
)

// NewRouter builds the Gin engine and registers the routes that deliver the
// expiry core's inbound triggers.
func NewRouter(cfg *app.Config, svc *services.EventService, sched *expiry.Scheduler) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if svc == nil {
		return nil, fmt.Errorf("event service must be provided")
	}
	if sched == nil {
		return nil, fmt.Errorf("scheduler must be provided")
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"status":     "ok",
			"checked_at": time.Now().UTC(),
		})
	})

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := cfg.Monitoring.Prometheus.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	eventHandler := handlers.NewEventHandler(svc, sched)

	events := r.Group("/api/events")
	{
		events.POST("", eventHandler.Create)
		events.GET("/:id", eventHandler.Get)
		events.DELETE("/:id", eventHandler.Delete)
		events.POST("/:id/publish", eventHandler.Publish)
		events.POST("/:id/unpublish", eventHandler.Unpublish)
		events.POST("/:id/trash", eventHandler.Trash)
		events.PATCH("/:id/end", eventHandler.UpdateEndTime)
		events.POST("/:id/expire", eventHandler.Expire)
	}

	return r, nil
}

func requestLogger() gin.HandlerFunc {
	log := logger.WithModule("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)))
	}
}
