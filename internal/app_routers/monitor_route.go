package approuters

import (
	"Boxchat/internal/configuration"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MonitorRouters sets up monitoring API routes
func MonitorRouters(router *gin.Engine, container *configuration.Container) {
	monitorGroup := router.Group("/chat/api/monitor")
	{
		// GET /chat/api/monitor/stats - Get hub statistics
		monitorGroup.GET("/stats", container.MonitorHandler.GetHubStats)
	}

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
