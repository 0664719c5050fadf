// Package metrics provides Prometheus metrics for the messaging core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesAppended tracks messages persisted by the message log.
	MessagesAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxchat_messages_appended_total",
			Help: "Total number of messages appended to the message log",
		},
	)

	// DuplicateSends tracks appends resolved to an existing message by client id.
	DuplicateSends = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxchat_duplicate_sends_total",
			Help: "Total number of appends that matched an already persisted client message id",
		},
	)

	// StatusTransitions tracks message status changes.
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxchat_message_status_transitions_total",
			Help: "Total number of message status transitions",
		},
		[]string{"from_status", "to_status"},
	)

	// ConversationsCreated tracks conversations created by find-or-create.
	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxchat_conversations_created_total",
			Help: "Total number of conversations created",
		},
	)

	// NotificationsSent tracks notification sink calls by outcome.
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxchat_notifications_total",
			Help: "Total number of new-message notifications handed to the sink",
		},
		[]string{"outcome"},
	)

	// TypingSignals tracks typing signals by value.
	TypingSignals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxchat_typing_signals_total",
			Help: "Total number of typing signals received",
		},
		[]string{"typing"},
	)

	// TypingExpirations tracks automatic typing clears.
	TypingExpirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxchat_typing_expirations_total",
			Help: "Total number of typing flags cleared by the expiry timer",
		},
	)

	// OnlineUsers tracks the size of the last published online set.
	OnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boxchat_online_users",
			Help: "Number of users holding a live presence lease",
		},
	)

	// PresenceExpirations tracks leases expired by the sweeper.
	PresenceExpirations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "boxchat_presence_expirations_total",
			Help: "Total number of presence leases expired without a heartbeat",
		},
	)

	// ActiveSubscriptions tracks live stream subscriptions.
	ActiveSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boxchat_active_subscriptions",
			Help: "Number of live stream subscriptions",
		},
	)

	// SocketConnections tracks connected websocket clients.
	SocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "boxchat_socket_connections",
			Help: "Number of connected websocket clients",
		},
	)

	// StoreRetries tracks retried store writes.
	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "boxchat_store_retries_total",
			Help: "Total number of store operations retried after a transient error",
		},
		[]string{"operation"},
	)
)

// RecordTransition records a message status change.
func RecordTransition(from, to string) {
	StatusTransitions.WithLabelValues(from, to).Inc()
}

// RecordTyping records a typing signal.
func RecordTyping(isTyping bool) {
	if isTyping {
		TypingSignals.WithLabelValues("true").Inc()
		return
	}
	TypingSignals.WithLabelValues("false").Inc()
}
