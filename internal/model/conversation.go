package model

import (
	"sort"
	"strings"
	"time"
)

const pairKeySeparator = "|"

// Conversation represents a two-party chat thread in MongoDB
type Conversation struct {
	ID             string       `json:"id" bson:"_id"`
	PairKey        string       `json:"-" bson:"pair_key"`
	ParticipantIds []string     `json:"participantIds" bson:"participant_ids"`
	CreatedAt      time.Time    `json:"createdAt" bson:"created_at"`
	UpdatedAt      time.Time    `json:"updatedAt" bson:"updated_at"`
	LastMessageAt  time.Time    `json:"lastMessageAt" bson:"last_message_at"`
	LastMessage    *LastMessage `json:"lastMessage" bson:"last_message"`
}

// LastMessage stores the most recent message preview
type LastMessage struct {
	MessageId string    `json:"messageId" bson:"message_id"`
	Content   string    `json:"content" bson:"content"`
	SenderId  string    `json:"senderId" bson:"sender_id"`
	SentAt    time.Time `json:"sentAt" bson:"sent_at"`
}

// ConversationView is a conversation as rendered in one user's inbox.
type ConversationView struct {
	Conversation
	PeerID      string `json:"peerId"`
	UnreadCount int    `json:"unreadCount"`
}

// PairKey derives the compound key of an unordered participant pair, so (A,B)
// and (B,A) map to the same conversation.
func PairKey(userA, userB string) string {
	ids := SortedPair(userA, userB)
	return ids[0] + pairKeySeparator + ids[1]
}

// SortedPair returns both ids in ascending order.
func SortedPair(userA, userB string) []string {
	ids := []string{userA, userB}
	sort.Strings(ids)
	return ids
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIds {
		if id == userID {
			return true
		}
	}
	return false
}

// Peer returns the other participant, or "" when userID is not a member.
func (c *Conversation) Peer(userID string) string {
	if !c.HasParticipant(userID) {
		return ""
	}
	for _, id := range c.ParticipantIds {
		if id != userID {
			return id
		}
	}
	return ""
}

// Preview truncates content for the cached last-message pointer.
func Preview(content string, limit int) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if limit <= 0 || len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "…"
}
