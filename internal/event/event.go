package event

import "encoding/json"

// Client to Server
const (
	// EventConversationOpen - switch the active conversation view
	EventConversationOpen = "conversation:open"

	// EventConversationClose - close the active conversation view
	EventConversationClose = "conversation:close"

	// EventMessageSend - append a message to a conversation
	EventMessageSend = "message:send"

	// EventMessageRead - read receipt for one message
	EventMessageRead = "message:read"

	// EventMessageDelivered - delivery confirmation for one message
	EventMessageDelivered = "message:delivered"

	// EventTypingSet - typing signal for the given conversation
	EventTypingSet = "typing:set"

	// EventPresenceHeartbeat - renew the presence lease
	EventPresenceHeartbeat = "presence:heartbeat"
)

// Server to Client
const (
	EventInboxSnapshot    = "inbox:snapshot"
	EventMessagesSnapshot = "messages:snapshot"
	EventTypingSnapshot   = "typing:snapshot"
	EventPresenceSnapshot = "presence:snapshot"
	EventMessageAck       = "message:ack"
	EventMessageFailed    = "message:failed"
	EventNotification     = "notification"
	EventError            = "error"
)

type WsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// New marshals payload into a WsEvent.
func New(name string, payload any) (WsEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return WsEvent{}, err
	}
	return WsEvent{Event: name, Payload: raw}, nil
}
