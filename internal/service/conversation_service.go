package service

import (
	"Boxchat/internal/metrics"
	"Boxchat/internal/model"
	"Boxchat/internal/repo"
	"Boxchat/internal/stream"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrMissingParticipant = errors.New("participant id is required")
	ErrSelfConversation   = errors.New("cannot start a conversation with yourself")
	ErrNotParticipant     = errors.New("user is not a participant of the conversation")
	ErrEmptyContent       = errors.New("message content cannot be empty")
	ErrOwnMessage         = errors.New("sender cannot acknowledge their own message")
	ErrMissingMessageID   = errors.New("message id is required")
)

// Clock returns the current time. Services take one so tests can pin time.
type Clock func() time.Time

// ConversationService is the conversation registry.
type ConversationService interface {
	FindOrCreate(ctx context.Context, userA, userB string) (*model.Conversation, error)
	Get(ctx context.Context, conversationID string) (*model.Conversation, error)
	RequireParticipant(ctx context.Context, conversationID, userID string) (*model.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]model.Conversation, error)
	SubscribeForUser(ctx context.Context, userID string) (*stream.Subscription[[]model.Conversation], error)
	UpdateLastMessage(ctx context.Context, conversationID string, preview model.LastMessage) error
	// DuplicateCount reports how many conversations exist for the pair; anything
	// above one is a consistency anomaly.
	DuplicateCount(ctx context.Context, userA, userB string) (int64, error)
}

type conversationService struct {
	repo     repo.ConversationRepository
	notifier *stream.Notifier
	now      Clock
	logger   *zap.Logger
}

func NewConversationService(repo repo.ConversationRepository, notifier *stream.Notifier, now Clock, logger *zap.Logger) ConversationService {
	if now == nil {
		now = time.Now
	}
	return &conversationService{
		repo:     repo,
		notifier: notifier,
		now:      now,
		logger:   logger,
	}
}

func (s *conversationService) FindOrCreate(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	userA, userB = strings.TrimSpace(userA), strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, ErrMissingParticipant
	}
	if userA == userB {
		return nil, ErrSelfConversation
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	candidate := &model.Conversation{
		ID:             uuid.NewString(),
		PairKey:        model.PairKey(userA, userB),
		ParticipantIds: model.SortedPair(userA, userB),
		CreatedAt:      now,
		UpdatedAt:      now,
		LastMessageAt:  now,
	}

	conv, created, err := s.repo.FindOrCreate(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("find or create conversation: %w", err)
	}

	if created {
		metrics.ConversationsCreated.Inc()
		s.logger.Info("conversation created",
			zap.String("conversation_id", conv.ID),
			zap.Strings("participant_ids", conv.ParticipantIds),
		)
		s.notifyParticipants(conv)
	}
	return conv, nil
}

func (s *conversationService) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	return s.repo.GetByID(ctx, conversationID)
}

func (s *conversationService) RequireParticipant(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	if userID == "" {
		return nil, ErrMissingParticipant
	}

	conv, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

func (s *conversationService) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	if userID == "" {
		return nil, ErrMissingParticipant
	}
	return s.repo.ListByParticipant(ctx, userID)
}

func (s *conversationService) SubscribeForUser(ctx context.Context, userID string) (*stream.Subscription[[]model.Conversation], error) {
	if userID == "" {
		return nil, ErrMissingParticipant
	}

	load := func(ctx context.Context) ([]model.Conversation, error) {
		return s.repo.ListByParticipant(ctx, userID)
	}
	return stream.Watch(ctx, s.notifier, load, s.logger, stream.UserConversations(userID)), nil
}

func (s *conversationService) UpdateLastMessage(ctx context.Context, conversationID string, preview model.LastMessage) error {
	if err := s.repo.UpdateLastMessage(ctx, conversationID, &preview); err != nil {
		return err
	}

	conv, err := s.repo.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	s.notifyParticipants(conv)
	return nil
}

func (s *conversationService) DuplicateCount(ctx context.Context, userA, userB string) (int64, error) {
	return s.repo.CountByPair(ctx, model.PairKey(userA, userB))
}

func (s *conversationService) notifyParticipants(conv *model.Conversation) {
	for _, id := range conv.ParticipantIds {
		s.notifier.Notify(stream.UserConversations(id))
	}
}
