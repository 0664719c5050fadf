package configuration

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMongo  = "mongo"
	DriverRedis  = "redis"
	DriverMemory = "memory"

	defaultConfigPath = "config.json"
)

type MongoConfig struct {
	Uri                     string `json:"uri"`
	Database                string `json:"database"`
	MessagesCollection      string `json:"messagesCollection"`
	ConversationsCollection string `json:"conversationsCollection"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ServerConfig struct {
	AppPort        int      `json:"app_port"`
	SocketPort     int      `json:"socket_port"`
	SocketRoute    string   `json:"socket_route"`
	AllowedOrigins []string `json:"allowed_origins"`
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
}

type MessagingConfig struct {
	TypingWindowMs       int `json:"typing_window_ms"`
	PresenceHeartbeatSec int `json:"presence_heartbeat_sec"`
	PresenceLeaseSec     int `json:"presence_lease_sec"`
}

func (m MessagingConfig) TypingWindow() time.Duration {
	return time.Duration(m.TypingWindowMs) * time.Millisecond
}

func (m MessagingConfig) HeartbeatInterval() time.Duration {
	return time.Duration(m.PresenceHeartbeatSec) * time.Second
}

func (m MessagingConfig) PresenceLease() time.Duration {
	return time.Duration(m.PresenceLeaseSec) * time.Second
}

// DriverConfig selects a store implementation.
type DriverConfig struct {
	Driver string `json:"driver"`
}

type LogConfig struct {
	Development bool   `json:"development"`
	Level       string `json:"level"`
}

type Config struct {
	ChatDatabase MongoConfig     `json:"mongo"`
	Redis        RedisConfig     `json:"redis"`
	Server       ServerConfig    `json:"server"`
	Auth         AuthConfig      `json:"auth"`
	Messaging    MessagingConfig `json:"messaging"`
	Store        DriverConfig    `json:"store"`
	Presence     DriverConfig    `json:"presence"`
	Log          LogConfig       `json:"log"`
}

// Load reads .env (if present), then the JSON file named by BOXCHAT_CONFIG.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	path := os.Getenv("BOXCHAT_CONFIG")
	if path == "" {
		path = defaultConfigPath
	}
	return LoadConfig(path)
}

func LoadConfig(config_path string) (*Config, error) {
	file, err := os.ReadFile(config_path)
	if err != nil {
		return nil, err
	}

	var config Config
	err = json.Unmarshal(file, &config)
	if err != nil {
		return nil, err
	}

	config.applyEnv()
	config.applyDefaults()
	return &config, nil
}

// applyEnv lets secrets and endpoints come from the environment instead of
// the checked-in file.
func (c *Config) applyEnv() {
	if v := os.Getenv("BOXCHAT_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("BOXCHAT_MONGO_URI"); v != "" {
		c.ChatDatabase.Uri = v
	}
	if v := os.Getenv("BOXCHAT_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("BOXCHAT_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
}

func (c *Config) applyDefaults() {
	if c.ChatDatabase.Database == "" {
		c.ChatDatabase.Database = "boxchat"
	}
	if c.ChatDatabase.MessagesCollection == "" {
		c.ChatDatabase.MessagesCollection = "messages"
	}
	if c.ChatDatabase.ConversationsCollection == "" {
		c.ChatDatabase.ConversationsCollection = "conversations"
	}
	if c.Server.AppPort == 0 {
		c.Server.AppPort = 8080
	}
	if c.Server.SocketPort == 0 {
		c.Server.SocketPort = 8081
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"http://localhost:4200"}
	}
	if c.Server.SocketRoute == "" {
		c.Server.SocketRoute = "ws"
	}
	if c.Messaging.TypingWindowMs <= 0 {
		c.Messaging.TypingWindowMs = 3000
	}
	if c.Messaging.PresenceHeartbeatSec <= 0 {
		c.Messaging.PresenceHeartbeatSec = 30
	}
	if c.Messaging.PresenceLeaseSec <= 0 {
		c.Messaging.PresenceLeaseSec = 90
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMongo
	}
	if c.Presence.Driver == "" {
		c.Presence.Driver = DriverRedis
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}
