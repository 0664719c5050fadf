package hub

import (
	"Boxchat/internal/event"
	"Boxchat/internal/model"
	"Boxchat/internal/repo"
	"Boxchat/internal/service"
	"Boxchat/internal/stream"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const readTimeout = 3 * time.Second

type testHub struct {
	hub      *Hub
	services Services
	server   *httptest.Server
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()

	logger := zap.NewNop()
	notifier := stream.NewNotifier()
	h := NewHub([]string{"*"}, logger)

	conversations := service.NewConversationService(repo.NewMemoryConversationRepository(), notifier, nil, logger)
	messages := service.NewMessageService(repo.NewMemoryMessageRepository(), conversations, notifier, h, nil, logger)
	services := Services{
		Conversations: conversations,
		Messages:      messages,
		Presence:      service.NewPresenceService(repo.NewMemoryPresenceRepository(), notifier, 0, 0, nil, logger),
		Typing:        service.NewTypingService(notifier, time.Minute, logger),
		ReadState:     service.NewReadStateService(conversations, messages, logger),
	}
	h.Start(services)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("user")
		h.ServeWS(w, r, model.UserSnapshot{ID: id, Name: strings.ToUpper(id)})
	}))

	t.Cleanup(func() {
		server.Close()
		h.Stop()
		services.Typing.Stop()
	})
	return &testHub{hub: h, services: services, server: server}
}

// peer is a test socket. Events are read in the background and kept until a
// matching await consumes them, so awaiting one event never loses another.
type peer struct {
	conn    *websocket.Conn
	events  chan event.WsEvent
	backlog []event.WsEvent
}

func (th *testHub) dial(t *testing.T, userID string) *peer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(th.server.URL, "http") + "/?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	p := &peer{conn: conn, events: make(chan event.WsEvent, 256)}
	go func() {
		defer close(p.events)
		for {
			var ev event.WsEvent
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			p.events <- ev
		}
	}()
	return p
}

func (th *testHub) conversation(t *testing.T, a, b string) string {
	t.Helper()
	conv, err := th.services.Conversations.FindOrCreate(context.Background(), a, b)
	require.NoError(t, err)
	return conv.ID
}

func emit(t *testing.T, p *peer, name string, payload any) {
	t.Helper()
	ev, err := event.New(name, payload)
	require.NoError(t, err)
	require.NoError(t, p.conn.WriteJSON(ev))
}

// await returns the first event named name whose payload match accepts.
// Non-matching events of that name are discarded as stale.
func await[T any](t *testing.T, p *peer, name string, match func(T) bool) T {
	t.Helper()

	try := func(ev event.WsEvent) (T, bool) {
		var v T
		require.NoError(t, json.Unmarshal(ev.Payload, &v))
		return v, match(v)
	}

	kept := p.backlog[:0]
	var found *T
	for _, ev := range p.backlog {
		if found != nil || ev.Event != name {
			kept = append(kept, ev)
			continue
		}
		if v, ok := try(ev); ok {
			found = &v
		}
	}
	p.backlog = kept
	if found != nil {
		return *found
	}

	deadline := time.After(readTimeout)
	for {
		select {
		case ev, ok := <-p.events:
			require.True(t, ok, "connection closed while waiting for %s", name)
			if ev.Event != name {
				p.backlog = append(p.backlog, ev)
				continue
			}
			if v, ok := try(ev); ok {
				return v
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", name)
		}
	}
}

func anyValue[T any](T) bool { return true }

func TestHub_MessageRoundTrip(t *testing.T) {
	th := newTestHub(t)
	convID := th.conversation(t, "alice", "bob")

	alice := th.dial(t, "alice")
	bob := th.dial(t, "bob")

	await(t, bob, event.EventPresenceSnapshot, func(s model.PresenceSnapshot) bool {
		return len(s.UserIDs) == 2
	})

	emit(t, alice, event.EventConversationOpen, model.ConversationOpenPayload{ConversationID: convID})
	await(t, alice, event.EventMessagesSnapshot, func(s model.MessagesSnapshot) bool {
		return s.ConversationID == convID
	})

	emit(t, alice, event.EventMessageSend, model.MessageSendPayload{
		ConversationID:  convID,
		ClientMessageID: "c-1",
		Content:         "box #12 still available?",
	})
	ack := await(t, alice, event.EventMessageAck, anyValue[model.MessageSendResult])
	assert.Equal(t, "c-1", ack.ClientMessageID)
	require.NotNil(t, ack.Message)
	assert.Equal(t, model.MessageSent, ack.Message.Status)

	n := await(t, bob, event.EventNotification, anyValue[model.Notification])
	assert.Equal(t, service.NotificationNewMessage, n.Kind)
	assert.Equal(t, convID, n.ActionRef)
	assert.Equal(t, "ALICE", n.Title)

	inbox := await(t, bob, event.EventInboxSnapshot, func(s model.InboxSnapshot) bool {
		return s.TotalUnread == 1
	})
	assert.Equal(t, "alice", inbox.Conversations[0].PeerID)

	emit(t, bob, event.EventMessageRead, model.MessageAckPayload{MessageID: ack.Message.ID})

	await(t, alice, event.EventMessagesSnapshot, func(s model.MessagesSnapshot) bool {
		return len(s.Messages) == 1 && s.Messages[0].Status == model.MessageRead
	})
	await(t, bob, event.EventInboxSnapshot, func(s model.InboxSnapshot) bool {
		return s.TotalUnread == 0
	})
}

func TestHub_TypingIsVisibleToPeerOnly(t *testing.T) {
	th := newTestHub(t)
	convID := th.conversation(t, "alice", "bob")

	alice := th.dial(t, "alice")
	bob := th.dial(t, "bob")

	emit(t, bob, event.EventConversationOpen, model.ConversationOpenPayload{ConversationID: convID})
	await(t, bob, event.EventTypingSnapshot, func(s model.TypingSnapshot) bool { return len(s.UserIDs) == 0 })

	emit(t, alice, event.EventTypingSet, model.TypingIndicator{ConversationID: convID, IsTyping: true})
	await(t, bob, event.EventTypingSnapshot, func(s model.TypingSnapshot) bool {
		return len(s.UserIDs) == 1 && s.UserIDs[0] == "alice"
	})

	// sending clears the flag
	emit(t, alice, event.EventMessageSend, model.MessageSendPayload{ConversationID: convID, Content: "ok"})
	await(t, bob, event.EventTypingSnapshot, func(s model.TypingSnapshot) bool { return len(s.UserIDs) == 0 })
}

func TestHub_ReportsErrors(t *testing.T) {
	th := newTestHub(t)
	convID := th.conversation(t, "bob", "carol")
	alice := th.dial(t, "alice")

	emit(t, alice, "box:unbox", nil)
	e := await(t, alice, event.EventError, anyValue[model.ErrorPayload])
	assert.Equal(t, codeUnknown, e.Code)

	emit(t, alice, event.EventConversationOpen, model.ConversationOpenPayload{ConversationID: convID})
	e = await(t, alice, event.EventError, anyValue[model.ErrorPayload])
	assert.Equal(t, codeForbidden, e.Code)

	emit(t, alice, event.EventMessageSend, model.MessageSendPayload{ConversationID: convID, ClientMessageID: "c-9", Content: "hi"})
	failed := await(t, alice, event.EventMessageFailed, anyValue[model.MessageSendResult])
	assert.Equal(t, "c-9", failed.ClientMessageID)
	assert.NotEmpty(t, failed.Error)
}

func TestHub_LastSocketTakesUserOffline(t *testing.T) {
	th := newTestHub(t)
	ctx := context.Background()

	first := th.dial(t, "alice")
	second := th.dial(t, "alice")
	require.Eventually(t, func() bool {
		return len(th.hub.clientsOf("alice")) == 2
	}, readTimeout, 10*time.Millisecond)

	stats := NewMonitorService(th.hub).GetStats(ctx)
	assert.Equal(t, 2, stats.Connections.TotalConnected)
	assert.Equal(t, 1, stats.Connections.DistinctUsers)
	assert.Equal(t, 1, stats.OnlineUsers)

	require.NoError(t, first.conn.Close())
	require.Eventually(t, func() bool {
		return len(th.hub.clientsOf("alice")) == 1
	}, readTimeout, 10*time.Millisecond)
	online, err := th.services.Presence.OnlineUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, online)

	require.NoError(t, second.conn.Close())
	require.Eventually(t, func() bool {
		ids, err := th.services.Presence.OnlineUsers(ctx)
		return err == nil && len(ids) == 0
	}, readTimeout, 10*time.Millisecond)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{errBadPayload, codeBadRequest},
		{service.ErrEmptyContent, codeBadRequest},
		{fmt.Errorf("wrapped: %w", service.ErrNotParticipant), codeForbidden},
		{service.ErrOwnMessage, codeForbidden},
		{repo.ErrMessageNotFound, codeNotFound},
		{errors.New("disk full"), codeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, errorCode(tt.err))
		})
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://boxes.example"})

	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, check(req("")))
	assert.True(t, check(req("https://boxes.example")))
	assert.False(t, check(req("https://evil.example")))
	assert.True(t, originChecker([]string{"*"})(req("https://anything.example")))
}

func TestForwardView_DropsSnapshotsOfClosedView(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &Client{
		egress:     make(chan event.WsEvent, 4),
		logger:     zap.NewNop(),
		ctx:        ctx,
		cancel:     cancel,
		connClosed: make(chan struct{}),
	}

	release := make(chan string)
	sub := stream.Start(ctx, func(ctx context.Context, emit func(string)) {
		for {
			select {
			case v := <-release:
				emit(v)
			case <-ctx.Done():
				return
			}
		}
	})
	defer sub.Cancel()

	forwardView(c, c.viewGen, sub, event.EventMessagesSnapshot, func(s string) any { return s })

	release <- "current"
	select {
	case ev := <-c.egress:
		assert.JSONEq(t, `"current"`, string(ev.Payload))
	case <-time.After(readTimeout):
		t.Fatal("snapshot of the open view was not forwarded")
	}

	c.closeView()
	release <- "stale"

	assert.Never(t, func() bool { return len(c.egress) > 0 }, 150*time.Millisecond, 10*time.Millisecond,
		"no snapshot reaches the socket once its view is closed")
}
