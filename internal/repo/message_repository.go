package repo

import (
	"Boxchat/internal/db"
	"Boxchat/internal/metrics"
	"Boxchat/internal/model"
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var (
	ErrInvalidMessage         = errors.New("invalid message: message cannot be nil")
	ErrInvalidConversationID  = errors.New("invalid conversation ID: cannot be empty")
	ErrOperationTimeout       = errors.New("operation timeout exceeded")
	ErrMessageNotFound        = errors.New("message not found")
	ErrConversationNotFound   = errors.New("conversation not found")
	ErrDuplicateClientMessage = errors.New("client message id already used in conversation")
)

const (
	// Timeouts
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second

	// Retry configuration
	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second

	messagePageSize = 15
)

type MessageRepository interface {
	EnsureIndexes(ctx context.Context) error
	// InsertMessageIdempotent persists msg unless a message with the same
	// client message id already exists in the conversation, in which case that
	// message is returned with created == false.
	InsertMessageIdempotent(ctx context.Context, msg *model.Message) (*model.Message, bool, error)
	GetByID(ctx context.Context, id string) (*model.Message, error)
	ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error)
	FilterMessage(ctx context.Context, conversationID string, page int64) (*db.PaginatedResult[model.Message], error)
	// AddReader adds readerID to readBy and moves the status to read. Only a
	// delivered (or already read) message can be read; otherwise, and when the
	// reader is already present or is the sender, it is a no-op (changed == false).
	AddReader(ctx context.Context, messageID, readerID string) (*model.Message, bool, error)
	// AdvanceStatus sets status to `to` only if the current status is one of `from`.
	AdvanceStatus(ctx context.Context, messageID string, from []model.MessageStatus, to model.MessageStatus) (bool, error)
}

// readableStatuses are the states a read receipt may be applied in.
var readableStatuses = []model.MessageStatus{model.MessageDelivered, model.MessageRead}

type messageRepository struct {
	mongoRepo *db.Repository[model.Message]
	logger    *zap.Logger
}

func NewMessageRepository(repo *db.Repository[model.Message], logger *zap.Logger) MessageRepository {
	return &messageRepository{
		mongoRepo: repo,
		logger:    logger,
	}
}

func (m *messageRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	if err := m.mongoRepo.EnsureIndex(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}},
	}); err != nil {
		return fmt.Errorf("create message order index: %w", err)
	}

	err := m.mongoRepo.EnsureIndex(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "client_message_id", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"client_message_id": bson.M{"$type": "string"}}),
	})
	if err != nil {
		return fmt.Errorf("create client message index: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// InsertMessage
// -----------------------------------------------------------------------------

func (m *messageRepository) insertMessage(ctx context.Context, msg *model.Message) error {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := waitForRetry(ctx, attempt); err != nil {
				return err
			}
			metrics.StoreRetries.WithLabelValues("insert_message").Inc()
		}

		_, err := m.mongoRepo.Create(ctx, *msg)
		if err == nil {
			m.logger.Info("message inserted successfully",
				zap.String("message_id", msg.ID),
				zap.String("conversation_id", msg.ConversationID),
				zap.Int("attempt", attempt+1),
			)
			return nil
		}

		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateClientMessage
		}

		lastErr = err

		// Don't retry on context cancellation or non-retryable errors
		if !isRetryableError(err) {
			break
		}

		m.logger.Warn("insert attempt failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", maxRetries),
		)
	}

	m.logger.Error("failed to insert message after all retries",
		zap.Error(lastErr),
		zap.String("conversation_id", msg.ConversationID),
	)

	return fmt.Errorf("insert message failed: %w", lastErr)
}

// -----------------------------------------------------------------------------
// InsertMessageIdempotent - Prevents duplicate inserts
// -----------------------------------------------------------------------------

func (m *messageRepository) InsertMessageIdempotent(ctx context.Context, msg *model.Message) (*model.Message, bool, error) {
	if err := validateMessage(msg); err != nil {
		return nil, false, err
	}

	if msg.ClientMessageID != "" {
		existing, err := m.findByClientMessageID(ctx, msg.ConversationID, msg.ClientMessageID)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			m.logger.Debug("message already exists",
				zap.String("message_id", existing.ID),
				zap.String("client_message_id", msg.ClientMessageID),
			)
			return existing, false, nil
		}
	}

	err := m.insertMessage(ctx, msg)
	if errors.Is(err, ErrDuplicateClientMessage) {
		// lost the race against a concurrent retry of the same send
		existing, findErr := m.findByClientMessageID(ctx, msg.ConversationID, msg.ClientMessageID)
		if findErr != nil {
			return nil, false, findErr
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return nil, false, err
	}

	return msg, true, nil
}

func (m *messageRepository) findByClientMessageID(ctx context.Context, conversationID, clientMessageID string) (*model.Message, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("conversation_id", conversationID).
		Eq("client_message_id", clientMessageID).
		Build()

	msg, err := m.mongoRepo.FindOne(ctx, filter)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("existence check failed: %w", err)
	}
	return msg, nil
}

// -----------------------------------------------------------------------------
// Reads
// -----------------------------------------------------------------------------

func (m *messageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	msg, err := m.mongoRepo.FindByID(ctx, id)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, m.handleReadError(err, id)
	}
	return msg, nil
}

func (m *messageRepository) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("conversation_id", conversationID).Build()
	msgs, err := m.mongoRepo.FindAll(ctx, filter, bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	if err != nil {
		return nil, m.handleReadError(err, conversationID)
	}
	return msgs, nil
}

// -----------------------------------------------------------------------------
// FilterMessage
// -----------------------------------------------------------------------------
func (m *messageRepository) FilterMessage(ctx context.Context, conversationID string, page int64) (*db.PaginatedResult[model.Message], error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	// Ensure timeout
	ctx, cancel := ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("conversation_id", conversationID).Build()

	m.logger.Debug("filtering messages",
		zap.String("conversation_id", conversationID),
		zap.Int64("page", page),
	)

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := waitForRetry(ctx, attempt); err != nil {
				return nil, err
			}
			metrics.StoreRetries.WithLabelValues("filter_message").Inc()
			m.logger.Warn("retrying filter message",
				zap.String("conversation_id", conversationID),
				zap.Int("attempt", attempt+1),
			)
		}

		result, err := m.mongoRepo.FindWithPagination(ctx, filter, db.PaginationParams{
			Page:     page,
			PageSize: messagePageSize,
			SortBy:   "created_at",
			SortDesc: false,
		})

		if err == nil {
			m.logger.Debug("messages filtered successfully",
				zap.String("conversation_id", conversationID),
				zap.Int("count", len(result.Data)),
				zap.Int64("total", result.Total),
				zap.Int64("total_pages", result.TotalPages),
			)
			return result, nil
		}

		lastErr = err

		if !isRetryableError(err) {
			break
		}
	}

	return nil, m.handleReadError(lastErr, conversationID)
}

// -----------------------------------------------------------------------------
// Status and read receipts
// -----------------------------------------------------------------------------

func (m *messageRepository) AddReader(ctx context.Context, messageID, readerID string) (*model.Message, bool, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	// read_by $ne matches arrays that do not contain readerID, so a repeated
	// receipt matches nothing and the update is skipped. A message that was
	// never delivered is skipped too.
	filter := db.NewFilter().
		Eq("_id", messageID).
		Ne("sender_id", readerID).
		Ne("read_by", readerID).
		In("status", readableStatuses).
		Build()
	update := bson.M{
		"$addToSet": bson.M{"read_by": readerID},
		"$set":      bson.M{"status": model.MessageRead},
	}

	updated, err := m.mongoRepo.FindOneAndUpdate(ctx, filter, update, false)
	if err == nil {
		return updated, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		m.logger.Error("failed to add reader",
			zap.String("message_id", messageID),
			zap.String("reader_id", readerID),
			zap.Error(err),
		)
		return nil, false, fmt.Errorf("add reader failed: %w", err)
	}

	current, err := m.GetByID(ctx, messageID)
	if err != nil {
		return nil, false, err
	}
	return current, false, nil
}

func (m *messageRepository) AdvanceStatus(ctx context.Context, messageID string, from []model.MessageStatus, to model.MessageStatus) (bool, error) {
	ctx, cancel := ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().Eq("_id", messageID).In("status", from).Build()
	result, err := m.mongoRepo.Update(ctx, filter, bson.M{"status": to})
	if err != nil {
		return false, fmt.Errorf("advance status failed: %w", err)
	}
	if result.MatchedCount == 0 {
		exists, err := m.mongoRepo.Exists(ctx, bson.M{"_id": messageID})
		if err != nil {
			return false, fmt.Errorf("advance status failed: %w", err)
		}
		if !exists {
			return false, ErrMessageNotFound
		}
		return false, nil
	}
	return true, nil
}

// -----------------------------------------------------------------------------
// Private Helper Methods
// -----------------------------------------------------------------------------

func validateMessage(msg *model.Message) error {
	if msg == nil {
		return ErrInvalidMessage
	}
	if msg.ConversationID == "" {
		return ErrInvalidConversationID
	}
	return nil
}

func ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, timeout)
}

func waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	// MongoDB transient errors
	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}

func (m *messageRepository) handleReadError(err error, conversationID string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		m.logger.Error("read timeout", zap.String("conversation_id", conversationID))
		return ErrOperationTimeout
	}

	if errors.Is(err, context.Canceled) {
		m.logger.Debug("read cancelled", zap.String("conversation_id", conversationID))
		return err
	}

	m.logger.Error("read failed", zap.Error(err), zap.String("conversation_id", conversationID))
	return fmt.Errorf("read messages failed: %w", err)
}
