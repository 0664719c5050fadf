package hub

import (
	"Boxchat/internal/event"
	"Boxchat/internal/model"
	"Boxchat/internal/repo"
	"Boxchat/internal/service"
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"
)

// error codes sent in error events
const (
	codeBadRequest = "bad_request"
	codeForbidden  = "forbidden"
	codeNotFound   = "not_found"
	codeInternal   = "internal"
	codeUnknown    = "unknown_event"
)

func (h *Hub) handleEvent(ev event.WsEvent, c *Client) {
	if c.IsClosed() {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, operationTimeout)
	defer cancel()

	var err error
	switch ev.Event {
	case event.EventConversationOpen:
		err = h.handleConversationOpen(ctx, ev, c)
	case event.EventConversationClose:
		c.closeView()
	case event.EventMessageSend:
		h.handleMessageSend(ctx, ev, c)
	case event.EventMessageRead:
		err = h.handleMessageAck(ctx, ev, c, h.services.Messages.MarkRead)
	case event.EventMessageDelivered:
		err = h.handleMessageAck(ctx, ev, c, h.services.Messages.MarkDelivered)
	case event.EventTypingSet:
		err = h.handleTyping(ctx, ev, c)
	case event.EventPresenceHeartbeat:
		err = h.services.Presence.Heartbeat(ctx, c.user.ID)
	default:
		c.logger.Debug("unknown event type", zap.String("event", ev.Event))
		h.sendError(c, codeUnknown, errors.New("unknown event: "+ev.Event))
		return
	}

	if err != nil {
		c.logger.Debug("event failed", zap.String("event", ev.Event), zap.Error(err))
		h.sendError(c, errorCode(err), err)
	}
}

func decode[T any](ev event.WsEvent) (T, error) {
	var payload T
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		return payload, errBadPayload
	}
	return payload, nil
}

var errBadPayload = errors.New("malformed event payload")

func (h *Hub) handleConversationOpen(ctx context.Context, ev event.WsEvent, c *Client) error {
	payload, err := decode[model.ConversationOpenPayload](ev)
	if err != nil {
		return err
	}

	if _, err := h.services.Conversations.RequireParticipant(ctx, payload.ConversationID, c.user.ID); err != nil {
		return err
	}
	return c.openView(payload.ConversationID)
}

func (h *Hub) handleMessageSend(ctx context.Context, ev event.WsEvent, c *Client) {
	payload, err := decode[model.MessageSendPayload](ev)
	if err != nil {
		h.sendError(c, codeBadRequest, err)
		return
	}

	msg, err := h.services.Messages.Append(ctx, service.AppendRequest{
		ConversationID:  payload.ConversationID,
		Sender:          c.user,
		Content:         payload.Content,
		ClientMessageID: payload.ClientMessageID,
	})
	if err != nil {
		c.logger.Info("message send failed",
			zap.String("conversation_id", payload.ConversationID),
			zap.String("client_message_id", payload.ClientMessageID),
			zap.Error(err),
		)
		c.send(event.EventMessageFailed, model.MessageSendResult{
			ClientMessageID: payload.ClientMessageID,
			Error:           err.Error(),
		})
		return
	}

	if err := h.services.Typing.SetTyping(payload.ConversationID, c.user.ID, false); err != nil {
		c.logger.Debug("failed to clear typing", zap.Error(err))
	}

	c.send(event.EventMessageAck, model.MessageSendResult{
		ClientMessageID: payload.ClientMessageID,
		Message:         msg,
	})
}

type ackFunc func(ctx context.Context, messageID, userID string) (*model.Message, error)

func (h *Hub) handleMessageAck(ctx context.Context, ev event.WsEvent, c *Client, ack ackFunc) error {
	payload, err := decode[model.MessageAckPayload](ev)
	if err != nil {
		return err
	}
	_, err = ack(ctx, payload.MessageID, c.user.ID)
	return err
}

func (h *Hub) handleTyping(ctx context.Context, ev event.WsEvent, c *Client) error {
	payload, err := decode[model.TypingIndicator](ev)
	if err != nil {
		return err
	}

	if _, err := h.services.Conversations.RequireParticipant(ctx, payload.ConversationID, c.user.ID); err != nil {
		return err
	}
	return h.services.Typing.SetTyping(payload.ConversationID, c.user.ID, payload.IsTyping)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, errBadPayload),
		errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrMissingParticipant),
		errors.Is(err, service.ErrMissingConversation),
		errors.Is(err, service.ErrMissingMessageID),
		errors.Is(err, service.ErrSelfConversation),
		errors.Is(err, repo.ErrInvalidConversationID):
		return codeBadRequest
	case errors.Is(err, service.ErrNotParticipant),
		errors.Is(err, service.ErrOwnMessage):
		return codeForbidden
	case errors.Is(err, repo.ErrConversationNotFound),
		errors.Is(err, repo.ErrMessageNotFound):
		return codeNotFound
	default:
		return codeInternal
	}
}
