package service

import (
	"Boxchat/internal/metrics"
	"Boxchat/internal/stream"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultTypingWindow = 3 * time.Second

var ErrMissingConversation = errors.New("conversation id is required")

type typingEntry struct {
	gen   uint64
	timer *time.Timer
}

// TypingService holds ephemeral typing flags. A flag clears itself after the
// window unless it is set again; every set replaces the previous timer.
type TypingService struct {
	mu      sync.Mutex
	typing  map[string]map[string]*typingEntry // conversation ID -> user ID -> entry
	nextGen uint64
	stopped bool

	window   time.Duration
	notifier *stream.Notifier
	logger   *zap.Logger
}

func NewTypingService(notifier *stream.Notifier, window time.Duration, logger *zap.Logger) *TypingService {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	return &TypingService{
		typing:   make(map[string]map[string]*typingEntry),
		window:   window,
		notifier: notifier,
		logger:   logger,
	}
}

func (s *TypingService) SetTyping(conversationID, userID string, isTyping bool) error {
	if conversationID == "" {
		return ErrMissingConversation
	}
	if userID == "" {
		return ErrMissingParticipant
	}

	metrics.RecordTyping(isTyping)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}

	users := s.typing[conversationID]
	prev, had := users[userID]
	if had {
		prev.timer.Stop()
	}

	if !isTyping {
		if had {
			s.removeLocked(conversationID, userID)
		}
		s.mu.Unlock()
		if had {
			s.notifier.Notify(stream.ConversationTyping(conversationID))
		}
		return nil
	}

	if users == nil {
		users = make(map[string]*typingEntry)
		s.typing[conversationID] = users
	}

	s.nextGen++
	gen := s.nextGen
	users[userID] = &typingEntry{
		gen:   gen,
		timer: time.AfterFunc(s.window, func() { s.expire(conversationID, userID, gen) }),
	}
	s.mu.Unlock()

	if !had {
		s.notifier.Notify(stream.ConversationTyping(conversationID))
	}
	return nil
}

// expire clears the flag unless it was set again after this timer was armed.
func (s *TypingService) expire(conversationID, userID string, gen uint64) {
	s.mu.Lock()
	entry, ok := s.typing[conversationID][userID]
	if !ok || entry.gen != gen {
		s.mu.Unlock()
		return
	}
	s.removeLocked(conversationID, userID)
	s.mu.Unlock()

	metrics.TypingExpirations.Inc()
	s.logger.Debug("typing expired",
		zap.String("conversation_id", conversationID),
		zap.String("user_id", userID),
	)
	s.notifier.Notify(stream.ConversationTyping(conversationID))
}

func (s *TypingService) removeLocked(conversationID, userID string) {
	users := s.typing[conversationID]
	delete(users, userID)
	if len(users) == 0 {
		delete(s.typing, conversationID)
	}
}

// Typing returns the sorted ids of users currently typing in the conversation.
func (s *TypingService) Typing(conversationID string) []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.typing[conversationID]))
	for id := range s.typing[conversationID] {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// SubscribeTyping streams who is typing in the conversation, leaving out the
// requester.
func (s *TypingService) SubscribeTyping(ctx context.Context, conversationID, requesterID string) (*stream.Subscription[[]string], error) {
	if conversationID == "" {
		return nil, ErrMissingConversation
	}

	load := func(ctx context.Context) ([]string, error) {
		others := Filter(s.Typing(conversationID), func(id string) bool { return id != requesterID })
		if others == nil {
			others = []string{}
		}
		return others, nil
	}
	return stream.Watch(ctx, s.notifier, load, s.logger, stream.ConversationTyping(conversationID)), nil
}

// Stop cancels every pending expiry timer.
func (s *TypingService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for _, users := range s.typing {
		for _, entry := range users {
			entry.timer.Stop()
		}
	}
	s.typing = make(map[string]map[string]*typingEntry)
}
