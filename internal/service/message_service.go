package service

import (
	"Boxchat/internal/db"
	"Boxchat/internal/metrics"
	"Boxchat/internal/model"
	"Boxchat/internal/repo"
	"Boxchat/internal/stream"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const previewLength = 120

// AppendRequest is one send from a client. ClientMessageID is the correlation
// id of the provisional entry; reusing it makes the append idempotent.
type AppendRequest struct {
	ConversationID  string
	Sender          model.UserSnapshot
	Content         string
	ClientMessageID string
}

type MessageService interface {
	Append(ctx context.Context, req AppendRequest) (*model.Message, error)
	MarkRead(ctx context.Context, messageID, readerID string) (*model.Message, error)
	MarkDelivered(ctx context.Context, messageID, recipientID string) (*model.Message, error)
	// MarkConversationRead marks every message from the other participant as
	// read by readerID and returns how many changed.
	MarkConversationRead(ctx context.Context, conversationID, readerID string) (int, error)
	List(ctx context.Context, conversationID string, page int64) (*db.PaginatedResult[model.Message], error)
	Messages(ctx context.Context, conversationID string) ([]model.Message, error)
	SubscribeForConversation(ctx context.Context, conversationID string) (*stream.Subscription[[]model.Message], error)
}

type messageService struct {
	messages      repo.MessageRepository
	conversations ConversationService
	notifier      *stream.Notifier
	sink          NotificationSink
	now           Clock
	logger        *zap.Logger
}

func NewMessageService(messages repo.MessageRepository, conversations ConversationService, notifier *stream.Notifier, sink NotificationSink, now Clock, logger *zap.Logger) MessageService {
	if now == nil {
		now = time.Now
	}
	return &messageService{
		messages:      messages,
		conversations: conversations,
		notifier:      notifier,
		sink:          sink,
		now:           now,
		logger:        logger,
	}
}

func (s *messageService) Append(ctx context.Context, req AppendRequest) (*model.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if req.Sender.ID == "" {
		return nil, ErrMissingParticipant
	}

	conv, err := s.conversations.RequireParticipant(ctx, req.ConversationID, req.Sender.ID)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	msg := &model.Message{
		ID:              id.String(),
		ConversationID:  conv.ID,
		ClientMessageID: req.ClientMessageID,
		SenderID:        req.Sender.ID,
		Sender:          req.Sender,
		Type:            model.MessageTypeText,
		Content:         content,
		CreatedAt:       s.now().UTC().Truncate(time.Millisecond),
		Status:          model.MessageSent,
		ReadBy:          []string{},
	}

	stored, created, err := s.messages.InsertMessageIdempotent(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !created {
		metrics.DuplicateSends.Inc()
		s.logger.Info("duplicate send resolved to existing message",
			zap.String("message_id", stored.ID),
			zap.String("client_message_id", req.ClientMessageID),
		)
		return stored, nil
	}

	metrics.MessagesAppended.Inc()
	metrics.RecordTransition(model.MessageSending.String(), model.MessageSent.String())
	s.notifier.Notify(stream.ConversationMessages(conv.ID))

	preview := model.LastMessage{
		MessageId: stored.ID,
		Content:   model.Preview(stored.Content, previewLength),
		SenderId:  stored.SenderID,
		SentAt:    stored.CreatedAt,
	}
	if err := s.conversations.UpdateLastMessage(ctx, conv.ID, preview); err != nil {
		s.logger.Warn("failed to update conversation preview",
			zap.String("conversation_id", conv.ID),
			zap.String("message_id", stored.ID),
			zap.Error(err),
		)
	}

	s.notifyRecipient(ctx, conv, stored)
	return stored, nil
}

func (s *messageService) notifyRecipient(ctx context.Context, conv *model.Conversation, msg *model.Message) {
	if s.sink == nil {
		return
	}

	recipient := conv.Peer(msg.SenderID)
	if recipient == "" {
		return
	}

	title := msg.Sender.Name
	if title == "" {
		title = "New message"
	}

	err := s.sink.Notify(ctx, recipient, model.Notification{
		Kind:      NotificationNewMessage,
		Title:     title,
		Body:      model.Preview(msg.Content, previewLength),
		ActionRef: conv.ID,
	})
	if err != nil {
		metrics.NotificationsSent.WithLabelValues("error").Inc()
		s.logger.Warn("notification sink failed",
			zap.String("user_id", recipient),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return
	}
	metrics.NotificationsSent.WithLabelValues("ok").Inc()
}

// loadForRecipient fetches the message and checks that userID may acknowledge it.
func (s *messageService) loadForRecipient(ctx context.Context, messageID, userID string) (*model.Message, error) {
	if messageID == "" {
		return nil, ErrMissingMessageID
	}
	if userID == "" {
		return nil, ErrMissingParticipant
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID == userID {
		return nil, ErrOwnMessage
	}
	if _, err := s.conversations.RequireParticipant(ctx, msg.ConversationID, userID); err != nil {
		return nil, err
	}
	return msg, nil
}

// deliver moves a sent message to delivered. Reads go through it first so the
// status never skips delivered.
func (s *messageService) deliver(ctx context.Context, msg *model.Message) (bool, error) {
	if msg.Status != model.MessageSent {
		return false, nil
	}

	changed, err := s.messages.AdvanceStatus(ctx, msg.ID, []model.MessageStatus{model.MessageSent}, model.MessageDelivered)
	if err != nil {
		return false, err
	}
	if changed {
		metrics.RecordTransition(model.MessageSent.String(), model.MessageDelivered.String())
	}
	return changed, nil
}

// read delivers msg if needed and then adds readerID. It reports which of the
// two steps wrote anything.
func (s *messageService) read(ctx context.Context, msg *model.Message, readerID string) (updated *model.Message, delivered, added bool, err error) {
	delivered, err = s.deliver(ctx, msg)
	if err != nil {
		return nil, false, false, err
	}

	updated, added, err = s.messages.AddReader(ctx, msg.ID, readerID)
	if err != nil {
		return nil, delivered, false, err
	}
	if added {
		metrics.RecordTransition(model.MessageDelivered.String(), model.MessageRead.String())
	}
	return updated, delivered, added, nil
}

func (s *messageService) MarkRead(ctx context.Context, messageID, readerID string) (*model.Message, error) {
	msg, err := s.loadForRecipient(ctx, messageID, readerID)
	if err != nil {
		return nil, err
	}
	if msg.IsReadBy(readerID) {
		return msg, nil
	}

	updated, delivered, added, err := s.read(ctx, msg, readerID)
	if delivered || added {
		s.notifier.Notify(stream.ConversationMessages(msg.ConversationID))
	}
	if err != nil {
		return nil, err
	}
	if added {
		s.logger.Debug("message read",
			zap.String("message_id", messageID),
			zap.String("reader_id", readerID),
		)
	}
	return updated, nil
}

func (s *messageService) MarkDelivered(ctx context.Context, messageID, recipientID string) (*model.Message, error) {
	msg, err := s.loadForRecipient(ctx, messageID, recipientID)
	if err != nil {
		return nil, err
	}

	changed, err := s.deliver(ctx, msg)
	if err != nil {
		return nil, err
	}
	if !changed {
		// already delivered or read
		return msg, nil
	}

	s.notifier.Notify(stream.ConversationMessages(msg.ConversationID))
	return s.messages.GetByID(ctx, messageID)
}

func (s *messageService) MarkConversationRead(ctx context.Context, conversationID, readerID string) (int, error) {
	if _, err := s.conversations.RequireParticipant(ctx, conversationID, readerID); err != nil {
		return 0, err
	}

	msgs, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return 0, err
	}

	unread := Filter(msgs, func(m model.Message) bool { return m.IsUnreadFor(readerID) })

	marked, wrote := 0, false
	defer func() {
		if wrote {
			s.notifier.Notify(stream.ConversationMessages(conversationID))
		}
	}()

	for i := range unread {
		_, delivered, added, err := s.read(ctx, &unread[i], readerID)
		wrote = wrote || delivered || added
		if added {
			marked++
		}
		if err != nil {
			return marked, err
		}
	}

	if marked > 0 {
		s.logger.Debug("conversation marked read",
			zap.String("conversation_id", conversationID),
			zap.String("reader_id", readerID),
			zap.Int("count", marked),
		)
	}
	return marked, nil
}

func (s *messageService) List(ctx context.Context, conversationID string, page int64) (*db.PaginatedResult[model.Message], error) {
	return s.messages.FilterMessage(ctx, conversationID, page)
}

func (s *messageService) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	msgs, err := s.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	model.SortMessages(msgs)
	return msgs, nil
}

func (s *messageService) SubscribeForConversation(ctx context.Context, conversationID string) (*stream.Subscription[[]model.Message], error) {
	if conversationID == "" {
		return nil, repo.ErrInvalidConversationID
	}
	load := func(ctx context.Context) ([]model.Message, error) {
		return s.Messages(ctx, conversationID)
	}
	return stream.Watch(ctx, s.notifier, load, s.logger, stream.ConversationMessages(conversationID)), nil
}
