package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from MessageStatus
		to   MessageStatus
		want bool
	}{
		{MessageSending, MessageSent, true},
		{MessageSending, MessageFailed, true},
		{MessageSending, MessageRead, false},
		{MessageSent, MessageDelivered, true},
		{MessageSent, MessageRead, false},
		{MessageSent, MessageFailed, false},
		{MessageSent, MessageSending, false},
		{MessageDelivered, MessageRead, true},
		{MessageDelivered, MessageSent, false},
		{MessageRead, MessageDelivered, false},
		{MessageRead, MessageSent, false},
		{MessageFailed, MessageSent, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestMessageStatus_TransitionTo(t *testing.T) {
	next, err := MessageSent.TransitionTo(MessageDelivered)
	require.NoError(t, err)
	assert.Equal(t, MessageDelivered, next)

	next, err = MessageSent.TransitionTo(MessageRead)
	assert.ErrorIs(t, err, ErrInvalidTransition, "read must follow delivered")
	assert.Equal(t, MessageSent, next)

	next, err = MessageRead.TransitionTo(MessageDelivered)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, MessageRead, next)
}

func TestMessageStatus_AtLeast(t *testing.T) {
	assert.True(t, MessageRead.AtLeast(MessageDelivered))
	assert.True(t, MessageDelivered.AtLeast(MessageDelivered))
	assert.False(t, MessageSent.AtLeast(MessageDelivered))
	assert.False(t, MessageFailed.AtLeast(MessageSending))
	assert.False(t, MessageSent.AtLeast(MessageFailed))
}

func TestMessageStatus_IsTerminal(t *testing.T) {
	assert.True(t, MessageRead.IsTerminal())
	assert.True(t, MessageFailed.IsTerminal())
	assert.False(t, MessageSending.IsTerminal())
	assert.False(t, MessageSent.IsTerminal())
	assert.False(t, MessageDelivered.IsTerminal())
}

func TestMessage_IsUnreadFor(t *testing.T) {
	msg := Message{SenderID: "alice", ReadBy: []string{}}

	assert.False(t, msg.IsUnreadFor("alice"), "own messages are never unread")
	assert.True(t, msg.IsUnreadFor("bob"))

	msg.ReadBy = append(msg.ReadBy, "bob")
	assert.False(t, msg.IsUnreadFor("bob"))
}

func TestSortMessages(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "c", CreatedAt: base.Add(time.Second)},
		{ID: "b", CreatedAt: base},
		{ID: "a", CreatedAt: base},
	}

	SortMessages(msgs)

	ids := []string{msgs[0].ID, msgs[1].ID, msgs[2].ID}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}
