package approuters

import (
	"Boxchat/internal/configuration"
	"Boxchat/internal/identity"

	"github.com/gin-gonic/gin"
)

func PresenceRouters(router *gin.Engine, container *configuration.Container) {
	presenceRoute := router.Group("/chat/api/presence", identity.AuthMiddleware(container.Identity))
	{
		presenceRoute.POST("/heartbeat", container.PresenceHandler.Heartbeat)
		presenceRoute.POST("/offline", container.PresenceHandler.GoOffline)
		presenceRoute.GET("/online", container.PresenceHandler.GetOnlineUsers)
	}
}
