package repo

import (
	"Boxchat/internal/db"
	"Boxchat/internal/model"
	"context"
	"sort"
	"sync"
)

// MemoryConversationRepository is a mutex-based in-memory conversation store.
// The pair index makes FindOrCreate an atomic create-if-absent.
type MemoryConversationRepository struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	pairIndex     map[string]string // pair key -> conversation ID
}

func NewMemoryConversationRepository() *MemoryConversationRepository {
	return &MemoryConversationRepository{
		conversations: make(map[string]*model.Conversation),
		pairIndex:     make(map[string]string),
	}
}

func (r *MemoryConversationRepository) EnsureIndexes(ctx context.Context) error {
	return nil
}

func (r *MemoryConversationRepository) FindOrCreate(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error) {
	if conv == nil || conv.PairKey == "" {
		return nil, false, ErrInvalidConversationID
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.pairIndex[conv.PairKey]; ok {
		return copyConversation(r.conversations[id]), false, nil
	}

	stored := copyConversation(conv)
	r.conversations[stored.ID] = stored
	r.pairIndex[stored.PairKey] = stored.ID
	return copyConversation(stored), true, nil
}

func (r *MemoryConversationRepository) GetByID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.conversations[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return copyConversation(conv), nil
}

func (r *MemoryConversationRepository) ListByParticipant(ctx context.Context, userID string) ([]model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	result := make([]model.Conversation, 0)
	for _, conv := range r.conversations {
		if conv.HasParticipant(userID) {
			result = append(result, *copyConversation(conv))
		}
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastMessageAt.Equal(result[j].LastMessageAt) {
			return result[i].LastMessageAt.After(result[j].LastMessageAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *MemoryConversationRepository) UpdateLastMessage(ctx context.Context, conversationID string, last *model.LastMessage) error {
	if conversationID == "" {
		return ErrInvalidConversationID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	conv, ok := r.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	if last.SentAt.Before(conv.LastMessageAt) {
		return nil
	}

	preview := *last
	conv.LastMessage = &preview
	conv.LastMessageAt = last.SentAt
	conv.UpdatedAt = last.SentAt
	return nil
}

func (r *MemoryConversationRepository) CountByPair(ctx context.Context, pairKey string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count int64
	for _, conv := range r.conversations {
		if conv.PairKey == pairKey {
			count++
		}
	}
	return count, nil
}

func copyConversation(c *model.Conversation) *model.Conversation {
	out := *c
	out.ParticipantIds = append([]string(nil), c.ParticipantIds...)
	if c.LastMessage != nil {
		last := *c.LastMessage
		out.LastMessage = &last
	}
	return &out
}

// MemoryMessageRepository is a mutex-based in-memory message store indexed by
// conversation.
type MemoryMessageRepository struct {
	mu             sync.RWMutex
	messages       map[string]*model.Message
	byConversation map[string][]string // conversation ID -> message IDs
	clientIndex    map[string]string   // conversation ID + client message ID -> message ID
}

func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{
		messages:       make(map[string]*model.Message),
		byConversation: make(map[string][]string),
		clientIndex:    make(map[string]string),
	}
}

func (r *MemoryMessageRepository) EnsureIndexes(ctx context.Context) error {
	return nil
}

func (r *MemoryMessageRepository) InsertMessageIdempotent(ctx context.Context, msg *model.Message) (*model.Message, bool, error) {
	if err := validateMessage(msg); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	clientKey := msg.ConversationID + "\x00" + msg.ClientMessageID
	if msg.ClientMessageID != "" {
		if id, ok := r.clientIndex[clientKey]; ok {
			return copyMessage(r.messages[id]), false, nil
		}
	}

	stored := copyMessage(msg)
	r.messages[stored.ID] = stored
	r.byConversation[stored.ConversationID] = append(r.byConversation[stored.ConversationID], stored.ID)
	if msg.ClientMessageID != "" {
		r.clientIndex[clientKey] = stored.ID
	}
	return copyMessage(stored), true, nil
}

func (r *MemoryMessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	msg, ok := r.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return copyMessage(msg), nil
}

func (r *MemoryMessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	ids := r.byConversation[conversationID]
	result := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		result = append(result, *copyMessage(r.messages[id]))
	}
	r.mu.RUnlock()

	model.SortMessages(result)
	return result, nil
}

func (r *MemoryMessageRepository) FilterMessage(ctx context.Context, conversationID string, page int64) (*db.PaginatedResult[model.Message], error) {
	msgs, err := r.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return db.Paginate(msgs, db.PaginationParams{Page: page, PageSize: messagePageSize}), nil
}

func (r *MemoryMessageRepository) AddReader(ctx context.Context, messageID, readerID string) (*model.Message, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.messages[messageID]
	if !ok {
		return nil, false, ErrMessageNotFound
	}
	if msg.SenderID == readerID || msg.IsReadBy(readerID) || !msg.Status.AtLeast(model.MessageDelivered) {
		return copyMessage(msg), false, nil
	}

	msg.ReadBy = append(msg.ReadBy, readerID)
	msg.Status = model.MessageRead
	return copyMessage(msg), true, nil
}

func (r *MemoryMessageRepository) AdvanceStatus(ctx context.Context, messageID string, from []model.MessageStatus, to model.MessageStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg, ok := r.messages[messageID]
	if !ok {
		return false, ErrMessageNotFound
	}
	for _, status := range from {
		if msg.Status == status {
			msg.Status = to
			return true, nil
		}
	}
	return false, nil
}

func copyMessage(m *model.Message) *model.Message {
	out := *m
	out.ReadBy = append(make([]string, 0, len(m.ReadBy)), m.ReadBy...)
	return &out
}
