package handler

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// SetupRouter 注册运维路由
func SetupRouter(h *Handler, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/healthz", h.Health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/scheduler/discover", h.TriggerDiscovery)
		v1.GET("/queues/:queue/jobs/:id", h.GetJob)
		v1.DELETE("/queues/:queue/jobs/:id", h.RemoveJob)
		v1.GET("/contents/:id/reactions", h.GetReactionCounts)
		v1.POST("/newsfeeds/:user_id/reconcile", h.ReconcileNewsfeed)
	}
	return r
}
