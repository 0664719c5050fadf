package model

import (
	"errors"
	"sort"
	"time"
)

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	MessageSending   MessageStatus = "sending"   // provisional, client-local only
	MessageSent      MessageStatus = "sent"      // persisted by the message log
	MessageDelivered MessageStatus = "delivered" // seen by the recipient's client
	MessageRead      MessageStatus = "read"      // acknowledged by the recipient
	MessageFailed    MessageStatus = "failed"    // send failed, terminal
)

const MessageTypeText = "text"

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid message status transition")

// ValidTransitions defines allowed status transitions. Delivery states only move
// forward one step at a time, so a read message has always been delivered.
// Failed is reachable from sending alone.
var ValidTransitions = map[MessageStatus][]MessageStatus{
	MessageSending:   {MessageSent, MessageFailed},
	MessageSent:      {MessageDelivered},
	MessageDelivered: {MessageRead},
	MessageRead:      {},
	MessageFailed:    {},
}

var statusRank = map[MessageStatus]int{
	MessageSending:   0,
	MessageSent:      1,
	MessageDelivered: 2,
	MessageRead:      3,
}

// CanTransitionTo checks if a transition from s to target is valid.
func (s MessageStatus) CanTransitionTo(target MessageStatus) bool {
	for _, t := range ValidTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// TransitionTo returns target when the move is valid, otherwise s and ErrInvalidTransition.
func (s MessageStatus) TransitionTo(target MessageStatus) (MessageStatus, error) {
	if !s.CanTransitionTo(target) {
		return s, ErrInvalidTransition
	}
	return target, nil
}

// AtLeast reports whether s is the same as or further along than other on the
// sending -> sent -> delivered -> read path. Failed is never at least anything.
func (s MessageStatus) AtLeast(other MessageStatus) bool {
	a, ok := statusRank[s]
	if !ok {
		return false
	}
	b, ok := statusRank[other]
	if !ok {
		return false
	}
	return a >= b
}

// IsTerminal returns true for read and failed.
func (s MessageStatus) IsTerminal() bool {
	return s == MessageRead || s == MessageFailed
}

func (s MessageStatus) String() string {
	return string(s)
}

// Message represents a chat message in MongoDB
type Message struct {
	ID              string        `json:"id" bson:"_id"`
	ConversationID  string        `json:"conversationId" bson:"conversation_id"`
	ClientMessageID string        `json:"clientMessageId,omitempty" bson:"client_message_id,omitempty"`
	SenderID        string        `json:"senderId" bson:"sender_id"`
	Sender          UserSnapshot  `json:"sender" bson:"sender"`
	Type            string        `json:"type" bson:"type"`
	Content         string        `json:"content" bson:"content"`
	CreatedAt       time.Time     `json:"createdAt" bson:"created_at"`
	Status          MessageStatus `json:"status" bson:"status"`
	ReadBy          []string      `json:"readBy" bson:"read_by"`
}

// IsReadBy reports whether userID has acknowledged the message.
func (m *Message) IsReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// IsUnreadFor reports whether the message counts as unread for userID.
func (m *Message) IsUnreadFor(userID string) bool {
	return m.SenderID != userID && !m.IsReadBy(userID)
}

// SortMessages orders messages by creation time, ties broken by id.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// ErrorPayload represents an error response sent to client via WebSocket
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
