package handler

import (
	"Boxchat/internal/identity"
	"Boxchat/internal/service"
	"net/http"

	"github.com/gin-gonic/gin"
)

type PresenceHandler interface {
	Heartbeat(c *gin.Context)
	GoOffline(c *gin.Context)
	GetOnlineUsers(c *gin.Context)
}

type presenceHandler struct {
	presence *service.PresenceService
}

func NewPresenceHandler(presence *service.PresenceService) PresenceHandler {
	return &presenceHandler{presence: presence}
}

func (h *presenceHandler) Heartbeat(c *gin.Context) {
	user := identity.MustUser(c)
	if err := h.presence.Heartbeat(c.Request.Context(), user.ID); err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, nil, "Presence renewed")
}

func (h *presenceHandler) GoOffline(c *gin.Context) {
	user := identity.MustUser(c)
	if err := h.presence.SetOffline(c.Request.Context(), user.ID); err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, nil, "Presence cleared")
}

func (h *presenceHandler) GetOnlineUsers(c *gin.Context) {
	ids, err := h.presence.OnlineUsers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, ids, "Online users retrieved successfully")
}
