// Package clientsync is the client side of a conversation view: it keeps the
// message list of the open conversation live, shows optimistic entries for
// sends in flight and acknowledges incoming messages as delivered or read.
package clientsync

import (
	"Boxchat/internal/model"
	"Boxchat/internal/service"
	"Boxchat/internal/stream"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNoConversation = errors.New("no conversation is open")
	ErrSessionClosed  = errors.New("session is closed")
	ErrUnknownMessage = errors.New("no provisional message with that client message id")
	ErrNotFailed      = errors.New("only failed messages can be retried")
)

// Backend is the part of the message log a session talks to.
type Backend interface {
	Append(ctx context.Context, req service.AppendRequest) (*model.Message, error)
	MarkRead(ctx context.Context, messageID, readerID string) (*model.Message, error)
	MarkDelivered(ctx context.Context, messageID, recipientID string) (*model.Message, error)
	SubscribeForConversation(ctx context.Context, conversationID string) (*stream.Subscription[[]model.Message], error)
}

// Session is one user's view onto at most one conversation at a time.
type Session struct {
	backend Backend
	user    model.UserSnapshot
	now     service.Clock
	logger  *zap.Logger

	mu             sync.Mutex
	conversationID string
	gen            uint64
	sub            *stream.Subscription[[]model.Message]
	forwarded      chan struct{}
	server         []model.Message
	provisional    []model.Message // sending or failed, keyed by ClientMessageID
	acked          map[string]model.MessageStatus
	visible        bool
	closed         bool

	out chan []model.Message
}

func NewSession(backend Backend, user model.UserSnapshot, now service.Clock, logger *zap.Logger) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{
		backend: backend,
		user:    user,
		now:     now,
		logger:  logger.With(zap.String("user_id", user.ID)),
		acked:   make(map[string]model.MessageStatus),
		visible: true,
		out:     make(chan []model.Message, 1),
	}
}

// Open switches the view to conversationID. The previous subscription is
// cancelled before the new one starts, and anything it still delivers is
// dropped.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return service.ErrMissingConversation
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.stopLocked()

	sub, err := s.backend.SubscribeForConversation(ctx, conversationID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.gen++
	s.conversationID = conversationID
	s.sub = sub
	s.server = nil
	s.provisional = nil
	s.acked = make(map[string]model.MessageStatus)
	s.forwarded = make(chan struct{})
	gen, done := s.gen, s.forwarded
	s.publishLocked()
	s.mu.Unlock()

	go s.forward(ctx, gen, sub, done)
	return nil
}

// CloseView closes the open conversation, if any.
func (s *Session) CloseView() {
	s.mu.Lock()
	s.stopLocked()
	s.conversationID = ""
	s.server = nil
	s.provisional = nil
	s.publishLocked()
	s.mu.Unlock()
}

func (s *Session) stopLocked() {
	if s.sub == nil {
		return
	}
	s.gen++
	s.sub.Cancel()
	s.sub = nil
}

func (s *Session) forward(ctx context.Context, gen uint64, sub *stream.Subscription[[]model.Message], done chan struct{}) {
	defer close(done)
	for msgs := range sub.Updates() {
		s.apply(ctx, gen, msgs)
	}
}

func (s *Session) apply(ctx context.Context, gen uint64, msgs []model.Message) {
	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return
	}

	s.server = msgs
	s.reconcileLocked()
	s.publishLocked()
	acks := s.pendingAcksLocked()
	s.mu.Unlock()

	s.acknowledge(ctx, acks)
}

// reconcileLocked drops provisional entries the server snapshot already holds.
func (s *Session) reconcileLocked() {
	persisted := make(map[string]struct{}, len(s.server))
	for _, m := range s.server {
		if m.ClientMessageID != "" {
			persisted[m.ClientMessageID] = struct{}{}
		}
	}
	s.provisional = service.Filter(s.provisional, func(m model.Message) bool {
		_, ok := persisted[m.ClientMessageID]
		return !ok
	})
}

type ack struct {
	messageID string
	status    model.MessageStatus
}

// pendingAcksLocked lists the acknowledgements the current snapshot still
// needs: read while visible, delivered while hidden.
func (s *Session) pendingAcksLocked() []ack {
	var acks []ack
	for _, m := range s.server {
		if m.SenderID == s.user.ID || m.IsReadBy(s.user.ID) {
			continue
		}

		want := model.MessageDelivered
		if s.visible {
			want = model.MessageRead
		}
		if want == model.MessageDelivered && m.Status.AtLeast(want) {
			continue
		}
		if sent, ok := s.acked[m.ID]; ok && sent.AtLeast(want) {
			continue
		}

		s.acked[m.ID] = want
		acks = append(acks, ack{messageID: m.ID, status: want})
	}
	return acks
}

func (s *Session) acknowledge(ctx context.Context, acks []ack) {
	for _, a := range acks {
		var err error
		if a.status == model.MessageRead {
			_, err = s.backend.MarkRead(ctx, a.messageID, s.user.ID)
		} else {
			_, err = s.backend.MarkDelivered(ctx, a.messageID, s.user.ID)
		}
		if err != nil {
			s.logger.Warn("failed to acknowledge message",
				zap.String("message_id", a.messageID),
				zap.String("status", a.status.String()),
				zap.Error(err),
			)
			s.mu.Lock()
			delete(s.acked, a.messageID)
			s.mu.Unlock()
		}
	}
}

// SetVisible records whether the open view is on screen. Becoming visible
// marks everything unread as read.
func (s *Session) SetVisible(ctx context.Context, visible bool) {
	s.mu.Lock()
	s.visible = visible
	var acks []ack
	if visible {
		acks = s.pendingAcksLocked()
	}
	s.mu.Unlock()

	s.acknowledge(ctx, acks)
}

// Send appends a provisional entry and submits it. The returned client
// message id identifies the entry for Retry.
func (s *Session) Send(ctx context.Context, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", service.ErrEmptyContent
	}

	clientID := uuid.NewString()
	conversationID, gen, err := s.addProvisional(clientID, content)
	if err != nil {
		return "", err
	}
	return clientID, s.submit(ctx, conversationID, gen, clientID, content)
}

// Retry re-sends a failed entry under its original client message id, so the
// server keeps at most one copy however many attempts reached it.
func (s *Session) Retry(ctx context.Context, clientMessageID string) error {
	s.mu.Lock()
	idx := s.provisionalIndexLocked(clientMessageID)
	if idx < 0 {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	entry := s.provisional[idx]
	if entry.Status != model.MessageFailed {
		s.mu.Unlock()
		return ErrNotFailed
	}

	// failed is terminal, so the retry is a fresh provisional entry
	entry.Status = model.MessageSending
	entry.CreatedAt = s.now().UTC().Truncate(time.Millisecond)
	s.provisional[idx] = entry
	conversationID, gen := s.conversationID, s.gen
	s.publishLocked()
	s.mu.Unlock()

	return s.submit(ctx, conversationID, gen, clientMessageID, entry.Content)
}

func (s *Session) addProvisional(clientID, content string) (string, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", 0, ErrSessionClosed
	}
	if s.conversationID == "" {
		return "", 0, ErrNoConversation
	}

	s.provisional = append(s.provisional, model.Message{
		ID:              clientID,
		ConversationID:  s.conversationID,
		ClientMessageID: clientID,
		SenderID:        s.user.ID,
		Sender:          s.user,
		Type:            model.MessageTypeText,
		Content:         strings.TrimSpace(content),
		CreatedAt:       s.now().UTC().Truncate(time.Millisecond),
		Status:          model.MessageSending,
		ReadBy:          []string{},
	})
	s.publishLocked()
	return s.conversationID, s.gen, nil
}

func (s *Session) submit(ctx context.Context, conversationID string, gen uint64, clientID, content string) error {
	msg, err := s.backend.Append(ctx, service.AppendRequest{
		ConversationID:  conversationID,
		Sender:          s.user,
		Content:         content,
		ClientMessageID: clientID,
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		// the view moved on; the stream of the new view owns the list now
		return err
	}

	idx := s.provisionalIndexLocked(clientID)
	if err != nil {
		if idx >= 0 {
			s.provisional[idx].Status = model.MessageFailed
			s.publishLocked()
		}
		s.logger.Warn("send failed",
			zap.String("conversation_id", conversationID),
			zap.String("client_message_id", clientID),
			zap.Error(err),
		)
		return err
	}

	if !containsMessage(s.server, msg.ID) {
		s.server = append(append([]model.Message(nil), s.server...), *msg)
		model.SortMessages(s.server)
	}
	s.reconcileLocked()
	s.publishLocked()
	return nil
}

func (s *Session) provisionalIndexLocked(clientID string) int {
	for i, m := range s.provisional {
		if m.ClientMessageID == clientID {
			return i
		}
	}
	return -1
}

func containsMessage(msgs []model.Message, id string) bool {
	for _, m := range msgs {
		if m.ID == id {
			return true
		}
	}
	return false
}

func (s *Session) snapshotLocked() []model.Message {
	merged := make([]model.Message, 0, len(s.server)+len(s.provisional))
	merged = append(merged, s.server...)
	merged = append(merged, s.provisional...)
	model.SortMessages(merged)
	return merged
}

func (s *Session) publishLocked() {
	if s.closed {
		return
	}
	snap := s.snapshotLocked()
	select {
	case s.out <- snap:
		return
	default:
	}
	select {
	case <-s.out:
	default:
	}
	s.out <- snap
}

// Messages returns the current list: persisted messages plus provisional
// entries, ordered by creation time.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Updates delivers the latest list after every change. Only the newest
// unread list is kept.
func (s *Session) Updates() <-chan []model.Message {
	return s.out
}

// Pending returns provisional entries that have not been reconciled, either
// still sending or failed.
func (s *Session) Pending() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.provisional...)
}

// ConversationID returns the open conversation, or "".
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Close cancels the subscription and waits for its forwarder to exit.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stopLocked()
	done := s.forwarded
	s.closed = true
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}
