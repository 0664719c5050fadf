package hub

import (
	"Boxchat/internal/event"
	"Boxchat/internal/metrics"
	"Boxchat/internal/model"
	"Boxchat/internal/service"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	shardCount = 64 // tune: 16/64/128 depending on load
)

type inboundMessage struct {
	event  event.WsEvent
	client *Client
}

// clientBucket holds the sockets of the users hashed into one shard.
type clientBucket struct {
	sync.RWMutex
	users map[string]map[string]*Client // user ID -> client ID -> client
}

// Services are the messaging services the hub drives on behalf of sockets.
type Services struct {
	Conversations service.ConversationService
	Messages      service.MessageService
	Presence      *service.PresenceService
	Typing        *service.TypingService
	ReadState     *service.ReadStateService
}

type Hub struct {
	shards     [shardCount]*clientBucket
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMessage
	services   Services
	upgrader   websocket.Upgrader
	logger     *zap.Logger

	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewHub builds an idle hub. It can already serve as a notification sink;
// sockets are accepted once Start has been called with the services.
func NewHub(allowedOrigins []string, logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		register:   make(chan *Client, 1024),
		unregister: make(chan *Client, 1024),
		inbound:    make(chan inboundMessage, 4096), // buffer for burst handling
		logger:     logger.With(zap.String("component", "hub")),
		ctx:        ctx,
		cancel:     cancel,
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	for i := 0; i < shardCount; i++ {
		h.shards[i] = &clientBucket{
			users: make(map[string]map[string]*Client),
		}
	}

	return h
}

// Start runs the manager loop and the inbound worker pool.
func (h *Hub) Start(services Services) {
	h.startOnce.Do(func() {
		h.services = services

		// run manager loop
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.run()
		}()

		// start worker loop
		for i := 0; i < workerPoolSize; i++ {
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				for {
					select {
					case <-h.ctx.Done():
						return
					case in := <-h.inbound:
						h.handleEvent(in.event, in.client)
					}
				}
			}()
		}
	})
}

func getShard(userID string) uint32 {
	if userID == "" {
		return 0
	}

	h := sha1.Sum([]byte(userID))
	return binary.BigEndian.Uint32(h[:4]) % shardCount
}

func (h *Hub) addClient(c *Client) {
	sh := getShard(c.user.ID)
	b := h.shards[sh]
	b.Lock()
	sockets, ok := b.users[c.user.ID]
	if !ok {
		sockets = make(map[string]*Client)
		b.users[c.user.ID] = sockets
	}
	sockets[c.ID] = c
	b.Unlock()

	metrics.SocketConnections.Inc()
	h.logger.Info("client registered",
		zap.String("client_id", c.ID),
		zap.String("user_id", c.user.ID),
		zap.Uint32("shard", sh),
	)

	if err := h.services.Presence.SetOnline(h.ctx, c.user.ID); err != nil {
		h.logger.Warn("failed to set presence online", zap.String("user_id", c.user.ID), zap.Error(err))
	}
	c.startSubscriptions()
}

func (h *Hub) removeClient(c *Client) {
	sh := getShard(c.user.ID)
	b := h.shards[sh]
	b.Lock()
	sockets, ok := b.users[c.user.ID]
	if !ok {
		b.Unlock()
		return
	}
	if _, exists := sockets[c.ID]; !exists {
		b.Unlock()
		return
	}
	delete(sockets, c.ID)
	lastSocket := len(sockets) == 0
	if lastSocket {
		delete(b.users, c.user.ID)
	}
	b.Unlock()

	metrics.SocketConnections.Dec()
	c.Close()
	c.closeView()
	c.closeSubscriptions()

	h.logger.Info("client removed",
		zap.String("client_id", c.ID),
		zap.String("user_id", c.user.ID),
		zap.Bool("last_socket", lastSocket),
	)

	if lastSocket {
		if err := h.services.Presence.SetOffline(h.ctx, c.user.ID); err != nil {
			h.logger.Warn("failed to set presence offline", zap.String("user_id", c.user.ID), zap.Error(err))
		}
	}
}

// clientsOf returns the connected sockets of a user.
func (h *Hub) clientsOf(userID string) []*Client {
	b := h.shards[getShard(userID)]
	b.RLock()
	defer b.RUnlock()

	sockets := b.users[userID]
	clients := make([]*Client, 0, len(sockets))
	for _, c := range sockets {
		clients = append(clients, c)
	}
	return clients
}

// allClients returns every connected socket.
func (h *Hub) allClients() []*Client {
	clients := make([]*Client, 0)
	for _, b := range h.shards {
		b.RLock()
		for _, sockets := range b.users {
			for _, c := range sockets {
				clients = append(clients, c)
			}
		}
		b.RUnlock()
	}
	return clients
}

// Notify pushes a notification to every socket of the user. Users without a
// socket are skipped; the notification is not queued.
func (h *Hub) Notify(ctx context.Context, userID string, n model.Notification) error {
	clients := h.clientsOf(userID)
	if len(clients) == 0 {
		return nil
	}

	ev, err := event.New(event.EventNotification, n)
	if err != nil {
		return err
	}
	for _, c := range clients {
		if !c.SafeSend(ev, sendTimeout) {
			h.logger.Debug("notification dropped", zap.String("client_id", c.ID))
		}
	}
	return nil
}

func (h *Hub) run() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		h.cancel()
		h.wg.Wait()

		// Close all client connections
		for _, c := range h.allClients() {
			c.Close()
			c.closeView()
			c.closeSubscriptions()
		}
		h.logger.Info("hub stopped")
	})
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := set["*"]; ok {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// ServeWS upgrades the request and registers a socket for user.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, user model.UserSnapshot) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	if RegisterClient(user, conn, h) == nil {
		h.logger.Warn("client registration timed out", zap.String("user_id", user.ID))
	}
}

// sendError replies with an error event.
func (h *Hub) sendError(c *Client, code string, err error) {
	ev, mErr := event.New(event.EventError, model.ErrorPayload{Code: code, Message: err.Error()})
	if mErr != nil {
		return
	}
	c.SafeSend(ev, sendTimeout)
}
