package stream

// Topic names. Messages are indexed per conversation, so nothing ever has to
// watch the global message set.

func ConversationMessages(conversationID string) string {
	return "conversation:" + conversationID + ":messages"
}

func ConversationTyping(conversationID string) string {
	return "conversation:" + conversationID + ":typing"
}

func UserConversations(userID string) string {
	return "user:" + userID + ":conversations"
}

const OnlineUsers = "presence:online"
