package approuters

import (
	"Boxchat/internal/configuration"
	"Boxchat/internal/identity"

	"github.com/gin-gonic/gin"
)

func ConversationRouters(router *gin.Engine, container *configuration.Container) {
	h := container.ConversationHandler

	chatRoute := router.Group("/chat/api", identity.AuthMiddleware(container.Identity))
	{
		chatRoute.POST("/conversations", h.StartConversation)
		chatRoute.GET("/conversations", h.GetInbox)
		chatRoute.GET("/conversations/:conversationId/messages", h.GetMessages)
		chatRoute.POST("/conversations/:conversationId/messages", h.SendMessage)
		chatRoute.POST("/conversations/:conversationId/read", h.MarkConversationRead)
		chatRoute.POST("/conversations/:conversationId/typing", h.SetTyping)
		chatRoute.POST("/messages/:messageId/read", h.MarkMessageRead)
		chatRoute.POST("/messages/:messageId/delivered", h.MarkMessageDelivered)
	}
}
