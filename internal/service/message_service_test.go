package service

import (
	"Boxchat/internal/model"
	"Boxchat/internal/repo"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageService_AppendValidation(t *testing.T) {
	env := newTestEnv(t)
	conv := env.conversation(t, "alice", "bob")
	ctx := context.Background()

	tests := []struct {
		name string
		req  AppendRequest
		err  error
	}{
		{"empty content", AppendRequest{ConversationID: conv.ID, Sender: user("alice"), Content: ""}, ErrEmptyContent},
		{"whitespace content", AppendRequest{ConversationID: conv.ID, Sender: user("alice"), Content: " \n\t "}, ErrEmptyContent},
		{"no sender", AppendRequest{ConversationID: conv.ID, Content: "hi"}, ErrMissingParticipant},
		{"outsider", AppendRequest{ConversationID: conv.ID, Sender: user("mallory"), Content: "hi"}, ErrNotParticipant},
		{"unknown conversation", AppendRequest{ConversationID: "missing", Sender: user("alice"), Content: "hi"}, repo.ErrConversationNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.messages.Append(ctx, tt.req)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	msgs, err := env.messages.Messages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "rejected sends are never persisted")
	assert.Empty(t, env.sink.Sent())
}

func TestMessageService_AppendPersistsAndNotifiesRecipient(t *testing.T) {
	env := newTestEnv(t)
	conv := env.conversation(t, "alice", "bob")

	msg := env.send(t, conv.ID, "alice", "  is the box still available?  ")

	assert.Equal(t, model.MessageSent, msg.Status)
	assert.Equal(t, "is the box still available?", msg.Content)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, "User alice", msg.Sender.Name)
	assert.Empty(t, msg.ReadBy)

	sent := env.sink.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "bob", sent[0].userID)
	assert.Equal(t, NotificationNewMessage, sent[0].n.Kind)
	assert.Equal(t, "User alice", sent[0].n.Title)
	assert.Equal(t, conv.ID, sent[0].n.ActionRef)

	stored, err := env.conversations.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastMessage)
	assert.Equal(t, msg.ID, stored.LastMessage.MessageId)
	assert.True(t, stored.LastMessageAt.Equal(msg.CreatedAt))
}

func TestMessageService_PreviewIsTruncated(t *testing.T) {
	env := newTestEnv(t)
	conv := env.conversation(t, "alice", "bob")

	env.send(t, conv.ID, "alice", strings.Repeat("x", 500))

	stored, err := env.conversations.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, previewLength+1, len([]rune(stored.LastMessage.Content)))
}

func TestMessageService_RetryWithSameClientIDPersistsOnce(t *testing.T) {
	env := newTestEnv(t)
	conv := env.conversation(t, "alice", "bob")
	ctx := context.Background()

	req := AppendRequest{ConversationID: conv.ID, Sender: user("alice"), Content: "hello", ClientMessageID: "client-1"}
	first, err := env.messages.Append(ctx, req)
	require.NoError(t, err)
	second, err := env.messages.Append(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	msgs, err := env.messages.Messages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Len(t, env.sink.Sent(), 1, "a retried send is not notified twice")
}

func TestMessageService_SinkFailureDoesNotFailAppend(t *testing.T) {
	env := newTestEnv(t)
	env.sink.err = errSinkDown
	conv := env.conversation(t, "alice", "bob")

	msg, err := env.messages.Append(context.Background(), AppendRequest{ConversationID: conv.ID, Sender: user("alice"), Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, model.MessageSent, msg.Status)
}

func TestMessageService_MarkRead(t *testing.T) {
	env := newTestEnv(t)
	conv := env.conversation(t, "alice", "bob")
	ctx := context.Background()
	msg := env.send(t, conv.ID, "alice", "hi")

	_, err := env.messages.MarkRead(ctx, msg.ID, "alice")
	assert.ErrorIs(t, err, ErrOwnMessage)

	_, err = env.messages.MarkRead(ctx, msg.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = env.messages.MarkRead(ctx, "missing", "bob")
	assert.ErrorIs(t, err, repo.ErrMessageNotFound)

	read, err := env.messages.MarkRead(ctx, msg.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, model.MessageRead, read.Status)
	assert.Equal(t, []string{"bob"}, read.ReadBy)

	again, err := env.messages.MarkRead(ctx, msg.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, again.ReadBy, "marking read twice keeps one reader")
}

func TestMessageService_StatusNeverRegresses(t *testing.T) {
	env := newTestEnv(t)
	conv := env.conversation(t, "alice", "bob")
	ctx := context.Background()
	msg := env.send(t, conv.ID, "alice", "hi")

	delivered, err := env.messages.MarkDelivered(ctx, msg.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, model.MessageDelivered, delivered.Status)

	read, err := env.messages.MarkRead(ctx, msg.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, model.MessageRead, read.Status)

	after, err := env.messages.MarkDelivered(ctx, msg.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, model.MessageRead, after.Status)

	_, err = env.messages.MarkDelivered(ctx, msg.ID, "alice")
	assert.ErrorIs(t, err, ErrOwnMessage)
}

func TestMessageService_ReadAlwaysFollowsDelivered(t *testing.T) {
	fullPath := []model.MessageStatus{model.MessageSent, model.MessageDelivered, model.MessageRead}

	tests := []struct {
		name string
		ack  func(env *testEnv, msg *model.Message) error
	}{
		{"read directly", func(env *testEnv, msg *model.Message) error {
			_, err := env.messages.MarkRead(context.Background(), msg.ID, "bob")
			return err
		}},
		{"delivered then read", func(env *testEnv, msg *model.Message) error {
			if _, err := env.messages.MarkDelivered(context.Background(), msg.ID, "bob"); err != nil {
				return err
			}
			_, err := env.messages.MarkRead(context.Background(), msg.ID, "bob")
			return err
		}},
		{"conversation read", func(env *testEnv, msg *model.Message) error {
			_, err := env.messages.MarkConversationRead(context.Background(), msg.ConversationID, "bob")
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			conv := env.conversation(t, "alice", "bob")
			msg := env.send(t, conv.ID, "alice", "hello")

			require.NoError(t, tt.ack(env, msg))
			assert.Equal(t, fullPath, env.msgRepo.History(msg.ID))
		})
	}
}

func TestMessageService_MarkConversationRead(t *testing.T) {
	env := newTestEnv(t)
	conv := env.conversation(t, "alice", "bob")
	ctx := context.Background()

	env.send(t, conv.ID, "alice", "one")
	env.send(t, conv.ID, "alice", "two")
	env.send(t, conv.ID, "bob", "mine")

	marked, err := env.messages.MarkConversationRead(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 2, marked)

	marked, err = env.messages.MarkConversationRead(ctx, conv.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 0, marked)

	msgs, err := env.messages.Messages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, UnreadCount(msgs, "bob"))
	assert.Equal(t, 1, UnreadCount(msgs, "alice"))

	_, err = env.messages.MarkConversationRead(ctx, conv.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestMessageService_SubscribeForConversation(t *testing.T) {
	env := newTestEnv(t)
	conv := env.conversation(t, "alice", "bob")
	ctx := context.Background()

	sub, err := env.messages.SubscribeForConversation(ctx, conv.ID)
	require.NoError(t, err)
	defer sub.Cancel()

	awaitValue(t, sub, func(msgs []model.Message) bool { return len(msgs) == 0 })

	first := env.send(t, conv.ID, "alice", "first")
	second := env.send(t, conv.ID, "bob", "second")

	msgs := awaitValue(t, sub, func(msgs []model.Message) bool { return len(msgs) == 2 })
	assert.Equal(t, first.ID, msgs[0].ID)
	assert.Equal(t, second.ID, msgs[1].ID)

	_, err = env.messages.MarkRead(ctx, first.ID, "bob")
	require.NoError(t, err)
	msgs = awaitValue(t, sub, func(msgs []model.Message) bool {
		return len(msgs) == 2 && msgs[0].Status == model.MessageRead
	})
	assert.Equal(t, []string{"bob"}, msgs[0].ReadBy)
}

func TestMessageService_ListPaginates(t *testing.T) {
	env := newTestEnv(t)
	conv := env.conversation(t, "alice", "bob")

	for i := 0; i < 3; i++ {
		env.send(t, conv.ID, "alice", "hi")
	}

	page, err := env.messages.List(context.Background(), conv.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Len(t, page.Data, 3)
}
