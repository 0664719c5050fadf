package repo

import (
	"Boxchat/internal/db"
	"Boxchat/internal/metrics"
	"Boxchat/internal/model"
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

type ConversationRepository interface {
	EnsureIndexes(ctx context.Context) error
	// FindOrCreate returns the conversation stored under conv.PairKey, inserting
	// conv if there is none. created reports whether conv was inserted.
	FindOrCreate(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error)
	GetByID(ctx context.Context, conversationID string) (*model.Conversation, error)
	ListByParticipant(ctx context.Context, userID string) ([]model.Conversation, error)
	// UpdateLastMessage moves the cached preview forward; an older preview never
	// replaces a newer one.
	UpdateLastMessage(ctx context.Context, conversationID string, last *model.LastMessage) error
	CountByPair(ctx context.Context, pairKey string) (int64, error)
}

type conversationRepository struct {
	mongoRepo *db.Repository[model.Conversation]
	logger    *zap.Logger
}

func NewConversationRepository(repo *db.Repository[model.Conversation], logger *zap.Logger) ConversationRepository {
	return &conversationRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

func (r *conversationRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if err := r.mongoRepo.EnsureIndex(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "pair_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("create pair key index: %w", err)
	}

	if err := r.mongoRepo.EnsureIndex(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "participant_ids", Value: 1}, {Key: "last_message_at", Value: -1}},
	}); err != nil {
		return fmt.Errorf("create participant index: %w", err)
	}
	return nil
}

// FindOrCreate upserts on the unique pair key, so two participants opening the
// same thread at once both land on one document.
func (r *conversationRepository) FindOrCreate(ctx context.Context, conv *model.Conversation) (*model.Conversation, bool, error) {
	if conv == nil || conv.PairKey == "" {
		return nil, false, ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("pair_key", conv.PairKey).Build()
	update := bson.M{"$setOnInsert": conv}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := waitForRetry(ctx, attempt); err != nil {
				return nil, false, err
			}
			metrics.StoreRetries.WithLabelValues("find_or_create_conversation").Inc()
		}

		stored, err := r.mongoRepo.FindOneAndUpdate(ctx, filter, update, true)
		if err == nil {
			created := stored.ID == conv.ID
			r.logger.Debug("conversation resolved",
				zap.String("conversation_id", stored.ID),
				zap.String("pair_key", conv.PairKey),
				zap.Bool("created", created),
			)
			return stored, created, nil
		}

		lastErr = err

		// Two concurrent upserts can both miss and one then trips the unique
		// index; the next attempt finds the winner's document.
		if mongo.IsDuplicateKeyError(err) || isRetryableError(err) {
			r.logger.Warn("find or create attempt failed, retrying",
				zap.String("pair_key", conv.PairKey),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}
		break
	}

	r.logger.Error("failed to find or create conversation",
		zap.String("pair_key", conv.PairKey),
		zap.Error(lastErr),
	)
	return nil, false, fmt.Errorf("find or create conversation failed: %w", lastErr)
}

// GetByID fetches a conversation document by ID
func (r *conversationRepository) GetByID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	// Ensure timeout
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	conversation, err := r.mongoRepo.FindByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			r.logger.Debug("conversation not found",
				zap.String("conversation_id", conversationID),
			)
			return nil, ErrConversationNotFound
		}
		r.logger.Error("failed to fetch conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}

	return conversation, nil
}

// ListByParticipant returns the user's conversations, most recent activity first
func (r *conversationRepository) ListByParticipant(ctx context.Context, userID string) ([]model.Conversation, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("participant_ids", userID).Build()
	conversations, err := r.mongoRepo.FindAll(ctx, filter, bson.D{{Key: "last_message_at", Value: -1}, {Key: "_id", Value: 1}})
	if err != nil {
		r.logger.Error("failed to query conversations", zap.String("user_id", userID), zap.Error(err))
		return nil, fmt.Errorf("failed to get conversations: %w", err)
	}

	r.logger.Debug("conversations retrieved", zap.String("user_id", userID), zap.Int("count", len(conversations)))
	return conversations, nil
}

func (r *conversationRepository) UpdateLastMessage(ctx context.Context, conversationID string, last *model.LastMessage) error {
	if conversationID == "" {
		return ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("_id", conversationID).
		Lte("last_message_at", last.SentAt).
		Build()

	result, err := r.mongoRepo.Update(ctx, filter, bson.M{
		"last_message":    last,
		"last_message_at": last.SentAt,
		"updated_at":      last.SentAt,
	})
	if err != nil {
		r.logger.Error("failed to update last message",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return fmt.Errorf("update last message failed: %w", err)
	}

	if result.MatchedCount == 0 {
		exists, err := r.mongoRepo.Exists(ctx, bson.M{"_id": conversationID})
		if err != nil {
			return fmt.Errorf("update last message failed: %w", err)
		}
		if !exists {
			return ErrConversationNotFound
		}
	}
	return nil
}

func (r *conversationRepository) CountByPair(ctx context.Context, pairKey string) (int64, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	return r.mongoRepo.Count(ctx, db.NewFilter().Eq("pair_key", pairKey).Build())
}
