package handler

import (
	"Boxchat/internal/identity"
	"Boxchat/internal/service"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type ConversationHandler interface {
	StartConversation(c *gin.Context)
	GetInbox(c *gin.Context)
	GetMessages(c *gin.Context)
	SendMessage(c *gin.Context)
	MarkConversationRead(c *gin.Context)
	SetTyping(c *gin.Context)
	MarkMessageRead(c *gin.Context)
	MarkMessageDelivered(c *gin.Context)
}

type conversationHandler struct {
	conversations service.ConversationService
	messages      service.MessageService
	readState     *service.ReadStateService
	typing        *service.TypingService
}

func NewConversationHandler(
	conversations service.ConversationService,
	messages service.MessageService,
	readState *service.ReadStateService,
	typing *service.TypingService,
) ConversationHandler {
	return &conversationHandler{
		conversations: conversations,
		messages:      messages,
		readState:     readState,
		typing:        typing,
	}
}

type startConversationRequest struct {
	PeerID string `json:"peerId" binding:"required"`
}

type sendMessageRequest struct {
	Content         string `json:"content"`
	ClientMessageID string `json:"clientMessageId"`
}

type typingRequest struct {
	IsTyping bool `json:"isTyping"`
}

func (h *conversationHandler) StartConversation(c *gin.Context) {
	var req startConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, nil, "peerId is required")
		return
	}

	user := identity.MustUser(c)
	conv, err := h.conversations.FindOrCreate(c.Request.Context(), user.ID, req.PeerID)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, conv, "Conversation ready")
}

func (h *conversationHandler) GetInbox(c *gin.Context) {
	user := identity.MustUser(c)
	inbox, err := h.readState.Inbox(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, inbox, "Conversations retrieved successfully")
}

func (h *conversationHandler) GetMessages(c *gin.Context) {
	conversationId := c.Param("conversationId")
	page := c.DefaultQuery("page", "1")
	pageNumber, err := strconv.ParseInt(page, 10, 64)
	if err != nil || pageNumber < 1 {
		respond(c, http.StatusBadRequest, nil, "Invalid page number")
		return
	}

	user := identity.MustUser(c)
	if _, err := h.conversations.RequireParticipant(c.Request.Context(), conversationId, user.ID); err != nil {
		respondError(c, err)
		return
	}

	msgs, err := h.messages.List(c.Request.Context(), conversationId, pageNumber)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, msgs, "Messages retrieved successfully")
}

func (h *conversationHandler) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, nil, "Invalid request body")
		return
	}

	msg, err := h.messages.Append(c.Request.Context(), service.AppendRequest{
		ConversationID:  c.Param("conversationId"),
		Sender:          identity.MustUser(c),
		Content:         req.Content,
		ClientMessageID: req.ClientMessageID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusCreated, msg, "Message sent")
}

func (h *conversationHandler) MarkConversationRead(c *gin.Context) {
	user := identity.MustUser(c)
	marked, err := h.messages.MarkConversationRead(c.Request.Context(), c.Param("conversationId"), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, gin.H{"marked": marked}, "Conversation marked as read")
}

func (h *conversationHandler) SetTyping(c *gin.Context) {
	var req typingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, nil, "Invalid request body")
		return
	}

	conversationId := c.Param("conversationId")
	user := identity.MustUser(c)
	if _, err := h.conversations.RequireParticipant(c.Request.Context(), conversationId, user.ID); err != nil {
		respondError(c, err)
		return
	}
	if err := h.typing.SetTyping(conversationId, user.ID, req.IsTyping); err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, nil, "Typing updated")
}

func (h *conversationHandler) MarkMessageRead(c *gin.Context) {
	user := identity.MustUser(c)
	msg, err := h.messages.MarkRead(c.Request.Context(), c.Param("messageId"), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, msg, "Message marked as read")
}

func (h *conversationHandler) MarkMessageDelivered(c *gin.Context) {
	user := identity.MustUser(c)
	msg, err := h.messages.MarkDelivered(c.Request.Context(), c.Param("messageId"), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	respond(c, http.StatusOK, msg, "Message marked as delivered")
}
