package service

import (
	"Boxchat/internal/model"
	"context"
	"errors"

	"go.uber.org/zap"
)

const NotificationNewMessage = "new_message"

// NotificationSink delivers out-of-band notifications to a user. The message
// log hands one to the sink per newly persisted message, addressed to the
// participant who did not send it.
type NotificationSink interface {
	Notify(ctx context.Context, userID string, n model.Notification) error
}

// LogSink writes notifications to the log. It is the fallback sink when no
// push transport is configured.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Notify(ctx context.Context, userID string, n model.Notification) error {
	s.Logger.Info("notification",
		zap.String("user_id", userID),
		zap.String("kind", n.Kind),
		zap.String("title", n.Title),
		zap.String("action_ref", n.ActionRef),
	)
	return nil
}

// MultiSink fans a notification out to every sink and joins their errors.
type MultiSink []NotificationSink

func (m MultiSink) Notify(ctx context.Context, userID string, n model.Notification) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Notify(ctx, userID, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
