package service

import (
	"Boxchat/internal/model"
	"Boxchat/internal/repo"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationService_FindOrCreateIsSymmetric(t *testing.T) {
	env := newTestEnv(t)

	ab := env.conversation(t, "alice", "bob")
	ba := env.conversation(t, "bob", "alice")

	assert.Equal(t, ab.ID, ba.ID)
	assert.Equal(t, []string{"alice", "bob"}, ab.ParticipantIds)
	assert.True(t, ab.LastMessageAt.Equal(ab.CreatedAt))
	assert.Nil(t, ab.LastMessage)
}

func TestConversationService_FindOrCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name string
		a, b string
		err  error
	}{
		{"empty first", "", "bob", ErrMissingParticipant},
		{"empty second", "alice", "  ", ErrMissingParticipant},
		{"self", "alice", "alice", ErrSelfConversation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.conversations.FindOrCreate(ctx, tt.a, tt.b)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestConversationService_ConcurrentFindOrCreateLeavesOneConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*model.Conversation, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 0 {
				a, b = b, a
			}
			conv, err := env.conversations.FindOrCreate(ctx, a, b)
			require.NoError(t, err)
			results[i] = conv
		}(i)
	}
	wg.Wait()

	for _, conv := range results {
		assert.Equal(t, results[0].ID, conv.ID)
	}

	count, err := env.conversations.DuplicateCount(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestConversationService_RequireParticipant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	conv := env.conversation(t, "alice", "bob")

	_, err := env.conversations.RequireParticipant(ctx, conv.ID, "alice")
	assert.NoError(t, err)

	_, err = env.conversations.RequireParticipant(ctx, conv.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotParticipant)

	_, err = env.conversations.RequireParticipant(ctx, "missing", "alice")
	assert.ErrorIs(t, err, repo.ErrConversationNotFound)
}

func TestConversationService_SubscribeForUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	sub, err := env.conversations.SubscribeForUser(ctx, "alice")
	require.NoError(t, err)
	defer sub.Cancel()

	awaitValue(t, sub, func(convs []model.Conversation) bool { return len(convs) == 0 })

	first := env.conversation(t, "alice", "bob")
	awaitValue(t, sub, func(convs []model.Conversation) bool { return len(convs) == 1 })

	second := env.conversation(t, "carol", "alice")
	convs := awaitValue(t, sub, func(convs []model.Conversation) bool { return len(convs) == 2 })
	assert.Equal(t, second.ID, convs[0].ID, "newest activity first")

	env.send(t, first.ID, "bob", "ping")
	convs = awaitValue(t, sub, func(convs []model.Conversation) bool {
		return len(convs) == 2 && convs[0].ID == first.ID
	})
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "ping", convs[0].LastMessage.Content)
}

func TestConversationService_SubscribeRequiresUser(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.conversations.SubscribeForUser(context.Background(), "")
	assert.ErrorIs(t, err, ErrMissingParticipant)
}
