package hub

import (
	"Boxchat/internal/event"
	"Boxchat/internal/model"
	"Boxchat/internal/stream"
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// canceller is any live subscription the client owns.
type canceller interface {
	Cancel()
}

type Client struct {
	ID     string
	user   model.UserSnapshot
	conn   *websocket.Conn
	hub    *Hub
	egress chan event.WsEvent
	logger *zap.Logger

	// open conversation view and its subscriptions
	viewMu                sync.Mutex
	viewGen               uint64 // bumped whenever the view closes
	currentConversationID string
	viewSubs              []canceller

	// inbox and presence subscriptions, live for the whole connection
	subsMu sync.Mutex
	subs   []canceller

	// cancel or stop goroutine
	cancel         context.CancelFunc
	ctx            context.Context
	once           sync.Once
	connClosed     chan struct{}
	connClosedOnce sync.Once
}

var (
	// tuning parameters
	writeWait          = 10 * time.Second       // time allowed to write a message to the peer
	pongWait           = 20 * time.Second       // time allowed to read the next pong message from the peer
	pingInterval       = (pongWait * 9) / 10    // send pings to peer with this period
	maxMessageSize     = 64 * 1024              // max inbound message size (64KB)
	sendBufSize        = 256                    // per-connection outbound buffer size
	workerPoolSize     = 16                     // number of workers to process inbound messages
	sendTimeout        = 2 * time.Second        // timeout for enqueuing outbound messages
	registerTimeout    = 5 * time.Second        // timeout for client registration
	unregisterTimeout  = 5 * time.Second        // timeout for client unregistration
	inboundSendTimeout = 500 * time.Millisecond // timeout for sending to inbound channel
	operationTimeout   = 10 * time.Second       // timeout for one inbound event against the services
)

// RegisterClient creates a new client with a single WebSocket connection
func RegisterClient(user model.UserSnapshot, conn *websocket.Conn, h *Hub) *Client {
	ctx, cancel := context.WithCancel(h.ctx)
	clientID := uuid.New().String()

	client := &Client{
		ID:         clientID,
		user:       user,
		conn:       conn,
		hub:        h,
		egress:     make(chan event.WsEvent, sendBufSize),
		logger:     h.logger.With(zap.String("client_id", clientID), zap.String("user_id", user.ID)),
		cancel:     cancel,
		ctx:        ctx,
		connClosed: make(chan struct{}),
	}

	select {
	case h.register <- client:
		// registered
		go client.ReadMessages()
		go client.WriteMessage()
		return client
	case <-time.After(registerTimeout):
		cancel()
		conn.Close()
		return nil
	}
}

func (c *Client) ReadMessages() {
	defer func() {
		select {
		case c.hub.unregister <- c:
			// unregistered successfully
		case <-time.After(unregisterTimeout):
			c.logger.Warn("failed to unregister client: timeout")
		}
		c.Close()
	}()

	c.conn.SetReadLimit(int64(maxMessageSize))
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(c.pongHandler)

	for {
		var ev event.WsEvent

		if err := c.conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure,
			) {
				c.logger.Debug("client disconnected")
				return
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.logger.Info("client timed out, closing connection")
				return
			}

			if c.ctx.Err() == nil {
				c.logger.Warn("error reading from client", zap.Error(err))
			}
			return
		}

		// bounded wait so a stalled worker pool cannot block the reader forever
		select {
		case c.hub.inbound <- inboundMessage{client: c, event: ev}:
			// accepted for processing
		case <-time.After(inboundSendTimeout):
			c.logger.Warn("inbound send timeout, dropping client")
			return
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) WriteMessage() {
	ticker := time.NewTicker(pingInterval)

	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.conn.Close()

		c.connClosedOnce.Do(func() {
			close(c.connClosed)
		})
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case ev := <-c.egress:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) pongHandler(pongMsg string) error {
	return c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

// Close stops both pumps. The egress channel stays open so concurrent
// senders never hit a closed channel; they observe ctx instead.
func (c *Client) Close() {
	c.once.Do(func() {
		c.cancel()

		// Wait for WriteMessage to close conn, or force close after timeout
		go func() {
			select {
			case <-c.connClosed:
				// WriteMessage closed it properly
			case <-time.After(5 * time.Second):
				_ = c.conn.Close()
				c.logger.Warn("safety timeout: force closed connection")
			}
		}()
	})
}

// IsClosed returns true if the client has been closed
func (c *Client) IsClosed() bool {
	return c.ctx.Err() != nil
}

// SafeSend attempts to send an event to the client's egress channel.
// Returns true if sent successfully, false if client is closed or timeout.
func (c *Client) SafeSend(ev event.WsEvent, timeout time.Duration) bool {
	if c.IsClosed() {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return false
	case c.egress <- ev:
		return true
	case <-timer.C:
		c.logger.Warn("egress full, disconnecting client")
		c.Close()
		return false
	}
}

// send marshals payload and queues it.
func (c *Client) send(name string, payload any) {
	ev, err := event.New(name, payload)
	if err != nil {
		c.logger.Error("failed to marshal event", zap.String("event", name), zap.Error(err))
		return
	}
	c.SafeSend(ev, sendTimeout)
}

// forward pushes every snapshot of sub to the socket as the named event.
func forward[T any](c *Client, sub *stream.Subscription[T], name string, wrap func(T) any) {
	go func() {
		for v := range sub.Updates() {
			c.send(name, wrap(v))
		}
	}()
}

// forwardView is forward for the conversation view. A snapshot is only sent
// while the view it was opened for is still current, checked under viewMu, so
// nothing from a previous conversation reaches the socket after a switch.
func forwardView[T any](c *Client, gen uint64, sub *stream.Subscription[T], name string, wrap func(T) any) {
	go func() {
		for v := range sub.Updates() {
			c.viewMu.Lock()
			if c.viewGen == gen {
				c.send(name, wrap(v))
			}
			c.viewMu.Unlock()
		}
	}()
}

// startSubscriptions opens the streams a socket follows for its lifetime.
func (c *Client) startSubscriptions() {
	svc := c.hub.services

	inbox, err := svc.ReadState.SubscribeInbox(c.ctx, c.user.ID)
	if err != nil {
		c.logger.Warn("failed to subscribe inbox", zap.Error(err))
	} else {
		forward(c, inbox, event.EventInboxSnapshot, func(s model.InboxSnapshot) any { return s })
		c.addSubscription(inbox)
	}

	online := svc.Presence.SubscribeOnlineUsers(c.ctx)
	forward(c, online, event.EventPresenceSnapshot, func(ids []string) any {
		return model.PresenceSnapshot{UserIDs: ids}
	})
	c.addSubscription(online)
}

func (c *Client) addSubscription(sub canceller) {
	c.subsMu.Lock()
	c.subs = append(c.subs, sub)
	c.subsMu.Unlock()
}

func (c *Client) closeSubscriptions() {
	c.subsMu.Lock()
	subs := c.subs
	c.subs = nil
	c.subsMu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}

// openView switches the client to conversationID. The previous view's
// subscriptions are cancelled before the new ones start.
func (c *Client) openView(conversationID string) error {
	svc := c.hub.services

	c.viewMu.Lock()
	defer c.viewMu.Unlock()

	c.closeViewLocked()

	msgs, err := svc.Messages.SubscribeForConversation(c.ctx, conversationID)
	if err != nil {
		return err
	}
	typing, err := svc.Typing.SubscribeTyping(c.ctx, conversationID, c.user.ID)
	if err != nil {
		msgs.Cancel()
		return err
	}

	gen := c.viewGen
	forwardView(c, gen, msgs, event.EventMessagesSnapshot, func(m []model.Message) any {
		return model.MessagesSnapshot{ConversationID: conversationID, Messages: m}
	})
	forwardView(c, gen, typing, event.EventTypingSnapshot, func(ids []string) any {
		return model.TypingSnapshot{ConversationID: conversationID, UserIDs: ids}
	})

	c.currentConversationID = conversationID
	c.viewSubs = []canceller{msgs, typing}
	return nil
}

func (c *Client) closeView() {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()
	c.closeViewLocked()
}

func (c *Client) closeViewLocked() {
	c.viewGen++
	if c.currentConversationID != "" {
		if err := c.hub.services.Typing.SetTyping(c.currentConversationID, c.user.ID, false); err != nil {
			c.logger.Debug("failed to clear typing", zap.Error(err))
		}
	}
	for _, sub := range c.viewSubs {
		sub.Cancel()
	}
	c.viewSubs = nil
	c.currentConversationID = ""
}

// CurrentConversationID returns the conversation the socket has open.
func (c *Client) CurrentConversationID() string {
	c.viewMu.Lock()
	defer c.viewMu.Unlock()
	return c.currentConversationID
}

func (c *Client) subscriptionCount() int {
	c.subsMu.Lock()
	n := len(c.subs)
	c.subsMu.Unlock()

	c.viewMu.Lock()
	n += len(c.viewSubs)
	c.viewMu.Unlock()
	return n
}
