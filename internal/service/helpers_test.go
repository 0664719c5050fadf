package service

import (
	"Boxchat/internal/model"
	"Boxchat/internal/repo"
	"Boxchat/internal/stream"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const waitFor = 2 * time.Second

// manualClock only moves when told to; every read can also step it forward so
// consecutive writes get distinct timestamps.
type manualClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newManualClock(step time.Duration) *manualClock {
	return &manualClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), step: step}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordedNotification struct {
	userID string
	n      model.Notification
}

type spySink struct {
	mu   sync.Mutex
	sent []recordedNotification
	err  error
}

func (s *spySink) Notify(ctx context.Context, userID string, n model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, recordedNotification{userID: userID, n: n})
	return s.err
}

func (s *spySink) Sent() []recordedNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedNotification(nil), s.sent...)
}

type testEnv struct {
	notifier      *stream.Notifier
	clock         *manualClock
	sink          *spySink
	conversations ConversationService
	messages      MessageService
	readState     *ReadStateService
	convRepo      *repo.MemoryConversationRepository
	msgRepo       *statusRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	env := &testEnv{
		notifier: stream.NewNotifier(),
		clock:    newManualClock(time.Millisecond),
		sink:     &spySink{},
		convRepo: repo.NewMemoryConversationRepository(),
		msgRepo:  newStatusRecorder(repo.NewMemoryMessageRepository()),
	}
	env.conversations = NewConversationService(env.convRepo, env.notifier, env.clock.Now, logger)
	env.messages = NewMessageService(env.msgRepo, env.conversations, env.notifier, env.sink, env.clock.Now, logger)
	env.readState = NewReadStateService(env.conversations, env.messages, logger)
	return env
}

func user(id string) model.UserSnapshot {
	return model.UserSnapshot{ID: id, Name: "User " + id}
}

func (e *testEnv) conversation(t *testing.T, a, b string) *model.Conversation {
	t.Helper()
	conv, err := e.conversations.FindOrCreate(context.Background(), a, b)
	require.NoError(t, err)
	return conv
}

func (e *testEnv) send(t *testing.T, conversationID, sender, content string) *model.Message {
	t.Helper()
	msg, err := e.messages.Append(context.Background(), AppendRequest{
		ConversationID: conversationID,
		Sender:         user(sender),
		Content:        content,
	})
	require.NoError(t, err)
	return msg
}

// awaitValue reads snapshots until match accepts one.
func awaitValue[T any](t *testing.T, sub *stream.Subscription[T], match func(T) bool) T {
	t.Helper()
	deadline := time.After(waitFor)
	for {
		select {
		case v, ok := <-sub.Updates():
			require.True(t, ok, "subscription closed")
			if match(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for a matching snapshot")
			var zero T
			return zero
		}
	}
}

var errSinkDown = errors.New("push gateway down")

// statusRecorder keeps every status a message was stored with, in order.
type statusRecorder struct {
	repo.MessageRepository

	mu      sync.Mutex
	history map[string][]model.MessageStatus
}

func newStatusRecorder(inner repo.MessageRepository) *statusRecorder {
	return &statusRecorder{MessageRepository: inner, history: make(map[string][]model.MessageStatus)}
}

func (r *statusRecorder) record(id string, status model.MessageStatus) {
	r.mu.Lock()
	r.history[id] = append(r.history[id], status)
	r.mu.Unlock()
}

func (r *statusRecorder) InsertMessageIdempotent(ctx context.Context, msg *model.Message) (*model.Message, bool, error) {
	stored, created, err := r.MessageRepository.InsertMessageIdempotent(ctx, msg)
	if err == nil && created {
		r.record(stored.ID, stored.Status)
	}
	return stored, created, err
}

func (r *statusRecorder) AdvanceStatus(ctx context.Context, messageID string, from []model.MessageStatus, to model.MessageStatus) (bool, error) {
	changed, err := r.MessageRepository.AdvanceStatus(ctx, messageID, from, to)
	if err == nil && changed {
		r.record(messageID, to)
	}
	return changed, err
}

func (r *statusRecorder) AddReader(ctx context.Context, messageID, readerID string) (*model.Message, bool, error) {
	msg, changed, err := r.MessageRepository.AddReader(ctx, messageID, readerID)
	if err == nil && changed {
		r.record(messageID, msg.Status)
	}
	return msg, changed, err
}

func (r *statusRecorder) History(id string) []model.MessageStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.MessageStatus(nil), r.history[id]...)
}
