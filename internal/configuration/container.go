package configuration

import (
	"Boxchat/internal/db"
	"Boxchat/internal/handler"
	"Boxchat/internal/hub"
	"Boxchat/internal/identity"
	"Boxchat/internal/model"
	"Boxchat/internal/repo"
	"Boxchat/internal/service"
	"Boxchat/internal/stream"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

type Container struct {
	ConversationHandler handler.ConversationHandler
	PresenceHandler     handler.PresenceHandler
	MonitorHandler      handler.MonitorHandler
	Identity            identity.Provider
	Hub                 *hub.Hub
	Presence            *service.PresenceService
	Typing              *service.TypingService
	Config              Config
	Logger              *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
	redisClient *redis.Client
	cancel      context.CancelFunc
}

func BuildContainer(config *Config) (*Container, error) {
	if config.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}

	logger, err := NewLogger(config.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	c := &Container{
		Config: *config,
		Logger: logger,
	}

	conversationRepo, messageRepo, err := c.openMessageStore()
	if err != nil {
		c.Close()
		return nil, err
	}

	presenceRepo, err := c.openPresenceStore()
	if err != nil {
		c.Close()
		return nil, err
	}

	notifier := stream.NewNotifier()
	c.Hub = hub.NewHub(config.Server.AllowedOrigins, logger)

	sink := service.MultiSink{service.LogSink{Logger: logger}, c.Hub}
	conversations := service.NewConversationService(conversationRepo, notifier, time.Now, logger)
	messages := service.NewMessageService(messageRepo, conversations, notifier, sink, time.Now, logger)
	readState := service.NewReadStateService(conversations, messages, logger)
	c.Typing = service.NewTypingService(notifier, config.Messaging.TypingWindow(), logger)
	c.Presence = service.NewPresenceService(presenceRepo, notifier,
		config.Messaging.HeartbeatInterval(), config.Messaging.PresenceLease(), time.Now, logger)

	c.Hub.Start(hub.Services{
		Conversations: conversations,
		Messages:      messages,
		Presence:      c.Presence,
		Typing:        c.Typing,
		ReadState:     readState,
	})

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.Presence.Start(ctx)

	c.Identity = identity.NewJWTProvider(config.Auth.JWTSecret)
	c.ConversationHandler = handler.NewConversationHandler(conversations, messages, readState, c.Typing)
	c.PresenceHandler = handler.NewPresenceHandler(c.Presence)
	c.MonitorHandler = handler.NewMonitorHandler(hub.NewMonitorService(c.Hub))

	logger.Info("container built",
		zap.String("store_driver", config.Store.Driver),
		zap.String("presence_driver", config.Presence.Driver),
	)
	return c, nil
}

func (c *Container) openMessageStore() (repo.ConversationRepository, repo.MessageRepository, error) {
	switch c.Config.Store.Driver {
	case DriverMemory:
		return repo.NewMemoryConversationRepository(), repo.NewMemoryMessageRepository(), nil
	case DriverMongo:
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", c.Config.Store.Driver)
	}

	cfg := c.Config.ChatDatabase
	con, err := db.OpenConnection(cfg.Uri, cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	c.mongoClient = con

	conversationRepo := repo.NewConversationRepository(
		db.NewRepository[model.Conversation](con, cfg.ConversationsCollection), c.Logger)
	messageRepo := repo.NewMessageRepository(
		db.NewRepository[model.Message](con, cfg.MessagesCollection), c.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := conversationRepo.EnsureIndexes(ctx); err != nil {
		return nil, nil, err
	}
	if err := messageRepo.EnsureIndexes(ctx); err != nil {
		return nil, nil, err
	}
	return conversationRepo, messageRepo, nil
}

func (c *Container) openPresenceStore() (repo.PresenceRepository, error) {
	switch c.Config.Presence.Driver {
	case DriverMemory:
		return repo.NewMemoryPresenceRepository(), nil
	case DriverRedis:
	default:
		return nil, fmt.Errorf("unknown presence driver %q", c.Config.Presence.Driver)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Addr,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	c.redisClient = client

	return repo.NewRedisPresenceRepository(client, c.Logger), nil
}

// NewLogger builds the production logger, or the development one when asked.
func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

	if c.cancel != nil {
		c.cancel()
	}
	if c.Presence != nil {
		c.Presence.Stop()
	}
	if c.Typing != nil {
		c.Typing.Stop()
	}

	var errs []error
	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis connection: %w", err))
		}
	}

	// Close MongoDB connection pool
	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close MongoDB connection: %w", err))
		}
	}

	// Sync logger
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	return errors.Join(errs...)
}
