package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterProducerRoutes registra las rutas de publicación.
func RegisterProducerRoutes(r *gin.Engine, handler *ProducerHandler) {
	tx := r.Group("/api/tx")
	{
		tx.POST("/one", handler.PublishOne)
		tx.POST("/burst", handler.PublishBurst)
		tx.POST("/stream", handler.PublishStream)
	}
}

// RegisterConsumerRoutes registra las lecturas; las estadísticas sólo si hay analítica.
func RegisterConsumerRoutes(r *gin.Engine, handler *ConsumerHandler) {
	tx := r.Group("/api/tx")
	{
		tx.GET("/all", handler.ListRecent)
		tx.GET("/:id", handler.GetByID)
		if handler.queries.AnalyticsEnabled() {
			tx.GET("/stats/daily", handler.DailyVolume)
		}
	}
}

// RegisterPlatformRoutes expone /health y /metrics.
func RegisterPlatformRoutes(r *gin.Engine, gatherer prometheus.Gatherer) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "up"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
