package model

// -----------------------------------------------------------------
// WebSocket Event Payloads - Client to Server
// -----------------------------------------------------------------

// ConversationOpenPayload switches the socket's active conversation view
type ConversationOpenPayload struct {
	ConversationID string `json:"conversationId"`
}

// MessageSendPayload asks the message log to append a message
type MessageSendPayload struct {
	ConversationID  string `json:"conversationId"`
	ClientMessageID string `json:"clientMessageId"`
	Content         string `json:"content"`
}

// MessageAckPayload - delivery confirmation or read receipt for one message
type MessageAckPayload struct {
	MessageID string `json:"messageId"`
}

// TypingIndicator - for typing status
type TypingIndicator struct {
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

// -----------------------------------------------------------------
// WebSocket Event Payloads - Server to Client
// -----------------------------------------------------------------

// MessageSendResult reconciles a provisional message on the sending client
type MessageSendResult struct {
	ClientMessageID string   `json:"clientMessageId"`
	Message         *Message `json:"message,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// MessagesSnapshot is the full, sorted message list of the open conversation
type MessagesSnapshot struct {
	ConversationID string    `json:"conversationId"`
	Messages       []Message `json:"messages"`
}

// TypingSnapshot lists the users currently typing in a conversation
type TypingSnapshot struct {
	ConversationID string   `json:"conversationId"`
	UserIDs        []string `json:"userIds"`
}

// PresenceSnapshot lists the users currently online
type PresenceSnapshot struct {
	UserIDs []string `json:"userIds"`
}

// InboxSnapshot is the user's conversation list with unread counts
type InboxSnapshot struct {
	Conversations []ConversationView `json:"conversations"`
	TotalUnread   int                `json:"totalUnread"`
}

// Notification is pushed to a user by the notification sink
type Notification struct {
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	ActionRef string `json:"actionRef"`
}
