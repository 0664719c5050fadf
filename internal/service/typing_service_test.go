package service

import (
	"Boxchat/internal/stream"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTypingService_ExpiresAfterWindow(t *testing.T) {
	s := NewTypingService(stream.NewNotifier(), 50*time.Millisecond, zap.NewNop())
	defer s.Stop()

	require.NoError(t, s.SetTyping("c1", "alice", true))
	assert.Equal(t, []string{"alice"}, s.Typing("c1"))

	assert.Eventually(t, func() bool {
		return len(s.Typing("c1")) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestTypingService_SetAgainResetsTimer(t *testing.T) {
	window := 300 * time.Millisecond
	s := NewTypingService(stream.NewNotifier(), window, zap.NewNop())
	defer s.Stop()

	require.NoError(t, s.SetTyping("c1", "alice", true))
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, s.SetTyping("c1", "alice", true))

	// the first timer would have fired by now
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []string{"alice"}, s.Typing("c1"))

	assert.Eventually(t, func() bool {
		return len(s.Typing("c1")) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestTypingService_FalseClearsImmediately(t *testing.T) {
	s := NewTypingService(stream.NewNotifier(), time.Minute, zap.NewNop())
	defer s.Stop()

	require.NoError(t, s.SetTyping("c1", "alice", true))
	require.NoError(t, s.SetTyping("c1", "bob", true))
	require.NoError(t, s.SetTyping("c1", "alice", false))

	assert.Equal(t, []string{"bob"}, s.Typing("c1"))
	assert.Empty(t, s.Typing("c2"))
}

func TestTypingService_Validation(t *testing.T) {
	s := NewTypingService(stream.NewNotifier(), time.Minute, zap.NewNop())
	defer s.Stop()

	assert.ErrorIs(t, s.SetTyping("", "alice", true), ErrMissingConversation)
	assert.ErrorIs(t, s.SetTyping("c1", "", true), ErrMissingParticipant)
}

func TestTypingService_SubscribeExcludesRequester(t *testing.T) {
	s := NewTypingService(stream.NewNotifier(), time.Minute, zap.NewNop())
	defer s.Stop()

	sub, err := s.SubscribeTyping(context.Background(), "c1", "alice")
	require.NoError(t, err)
	defer sub.Cancel()

	awaitValue(t, sub, func(ids []string) bool { return len(ids) == 0 })

	require.NoError(t, s.SetTyping("c1", "alice", true))
	require.NoError(t, s.SetTyping("c1", "bob", true))

	ids := awaitValue(t, sub, func(ids []string) bool { return len(ids) == 1 })
	assert.Equal(t, []string{"bob"}, ids)

	require.NoError(t, s.SetTyping("c1", "bob", false))
	awaitValue(t, sub, func(ids []string) bool { return len(ids) == 0 })
}
