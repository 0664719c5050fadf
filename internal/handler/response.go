package handler

import (
	"Boxchat/internal/repo"
	"Boxchat/internal/service"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

func respond(c *gin.Context, status int, body any, message string) {
	c.JSON(status, gin.H{
		"HttpStatusCode": status,
		"ResponseBody":   body,
		"IsSuccess":      status < http.StatusBadRequest,
		"Message":        message,
	})
}

// respondError maps service and repository errors onto HTTP status codes.
func respondError(c *gin.Context, err error) {
	respond(c, statusFor(err), nil, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrMissingParticipant),
		errors.Is(err, service.ErrMissingConversation),
		errors.Is(err, service.ErrMissingMessageID),
		errors.Is(err, service.ErrSelfConversation),
		errors.Is(err, repo.ErrInvalidConversationID):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotParticipant),
		errors.Is(err, service.ErrOwnMessage):
		return http.StatusForbidden
	case errors.Is(err, repo.ErrConversationNotFound),
		errors.Is(err, repo.ErrMessageNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
