package service

import (
	"Boxchat/internal/model"
	"Boxchat/internal/stream"
	"context"
	"sync"

	"go.uber.org/zap"
)

// UnreadCount is the number of messages in msgs that userID neither sent nor read.
func UnreadCount(msgs []model.Message, userID string) int {
	return len(Filter(msgs, func(m model.Message) bool { return m.IsUnreadFor(userID) }))
}

// TotalUnread sums the unread counts of an inbox.
func TotalUnread(views []model.ConversationView) int {
	total := 0
	for _, v := range views {
		total += v.UnreadCount
	}
	return total
}

// ReadStateService derives per-conversation unread counts for a user's inbox.
type ReadStateService struct {
	conversations ConversationService
	messages      MessageService
	logger        *zap.Logger
}

func NewReadStateService(conversations ConversationService, messages MessageService, logger *zap.Logger) *ReadStateService {
	return &ReadStateService{
		conversations: conversations,
		messages:      messages,
		logger:        logger,
	}
}

// Inbox is a one-shot snapshot of the user's conversations with unread counts.
func (s *ReadStateService) Inbox(ctx context.Context, userID string) (model.InboxSnapshot, error) {
	convs, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return model.InboxSnapshot{}, err
	}

	counts := make(map[string]int, len(convs))
	for _, c := range convs {
		msgs, err := s.messages.Messages(ctx, c.ID)
		if err != nil {
			return model.InboxSnapshot{}, err
		}
		counts[c.ID] = UnreadCount(msgs, userID)
	}
	return buildInbox(convs, counts, userID), nil
}

func buildInbox(convs []model.Conversation, counts map[string]int, userID string) model.InboxSnapshot {
	views := make([]model.ConversationView, 0, len(convs))
	for _, c := range convs {
		views = append(views, model.ConversationView{
			Conversation: c,
			PeerID:       c.Peer(userID),
			UnreadCount:  counts[c.ID],
		})
	}
	return model.InboxSnapshot{
		Conversations: views,
		TotalUnread:   TotalUnread(views),
	}
}

type unreadUpdate struct {
	conversationID string
	gen            uint64
	unread         int
}

type messageWatch struct {
	sub    *stream.Subscription[[]model.Message]
	gen    uint64
	loaded bool
	unread int
}

// SubscribeInbox joins the user's conversation stream with one message stream
// per conversation. Message streams are opened and cancelled as conversations
// come and go. A snapshot is emitted once every listed conversation has
// reported its messages.
func (s *ReadStateService) SubscribeInbox(ctx context.Context, userID string) (*stream.Subscription[model.InboxSnapshot], error) {
	convSub, err := s.conversations.SubscribeForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	return stream.Start(ctx, func(ctx context.Context, emit func(model.InboxSnapshot)) {
		inner, cancelInner := context.WithCancel(ctx)
		updates := make(chan unreadUpdate)
		watches := make(map[string]*messageWatch)
		var convs []model.Conversation
		listed := false
		var wg sync.WaitGroup
		var nextGen uint64

		defer func() {
			cancelInner()
			for _, w := range watches {
				w.sub.Cancel()
			}
			wg.Wait()
			convSub.Cancel()
		}()

		open := func(conversationID string) {
			sub, err := s.messages.SubscribeForConversation(inner, conversationID)
			if err != nil {
				s.logger.Warn("failed to watch conversation messages",
					zap.String("conversation_id", conversationID),
					zap.Error(err),
				)
				return
			}

			nextGen++
			gen := nextGen
			watches[conversationID] = &messageWatch{sub: sub, gen: gen}

			wg.Add(1)
			go func() {
				defer wg.Done()
				for msgs := range sub.Updates() {
					u := unreadUpdate{conversationID: conversationID, gen: gen, unread: UnreadCount(msgs, userID)}
					select {
					case updates <- u:
					case <-inner.Done():
						return
					}
				}
			}()
		}

		publish := func() {
			if !listed {
				return
			}
			counts := make(map[string]int, len(convs))
			for _, c := range convs {
				w, ok := watches[c.ID]
				if !ok || !w.loaded {
					return
				}
				counts[c.ID] = w.unread
			}
			emit(buildInbox(convs, counts, userID))
		}

		for {
			select {
			case <-ctx.Done():
				return

			case list, ok := <-convSub.Updates():
				if !ok {
					return
				}
				convs = list
				listed = true

				present := make(map[string]struct{}, len(list))
				for _, c := range list {
					present[c.ID] = struct{}{}
					if _, ok := watches[c.ID]; !ok {
						open(c.ID)
					}
				}
				for id, w := range watches {
					if _, ok := present[id]; !ok {
						w.sub.Cancel()
						delete(watches, id)
					}
				}
				publish()

			case u := <-updates:
				w, ok := watches[u.conversationID]
				if !ok || w.gen != u.gen {
					continue
				}
				w.loaded = true
				w.unread = u.unread
				publish()
			}
		}
	}), nil
}
