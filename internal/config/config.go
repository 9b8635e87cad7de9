package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds settings for the chat server runtime.
type ServerConfig struct {
	ListenAddr     string
	Env            string
	LogLevel       string
	Database       DatabaseConfig
	JWT            JWTConfig
	AuthMode       string
	AllowedOrigins []string
	Chat           ChatConfig
	Transport      TransportConfig
	Persist        PersistConfig
}

// ClientConfig holds settings for the terminal client.
type ClientConfig struct {
	ServerURL     string
	Token         string
	CommandPrefix rune
}

// DatabaseConfig captures storage configuration.
type DatabaseConfig struct {
	Driver     string
	Path       string
	RedisURL   string
	MessageTTL time.Duration
}

// JWTConfig defines token issuance parameters.
type JWTConfig struct {
	Secret     string
	Issuer     string
	Expiration time.Duration
}

// ChatConfig bounds message and presence behaviour.
type ChatConfig struct {
	MaxMessageBytes int
	GracePeriod     time.Duration
	SendBuffer      int
}

// TransportConfig tunes the websocket pumps.
type TransportConfig struct {
	MaxFrameBytes int64
	PongWait      time.Duration
	PingInterval  time.Duration
	WriteTimeout  time.Duration
	RateBurst     int
	RateInterval  time.Duration
	HubTimeout    time.Duration
}

// PersistConfig controls the asynchronous message persister.
type PersistConfig struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Timeout        time.Duration
}

const (
	AuthModeJWT    = "jwt"
	AuthModeHeader = "header"

	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// LoadServerConfig builds the server configuration from environment variables with sensible defaults.
// A .env file in the working directory is honoured when present.
func LoadServerConfig() ServerConfig {
	_ = godotenv.Load()

	return ServerConfig{
		ListenAddr:     envOrDefault("ROOMCHAT_LISTEN_ADDR", ":8080"),
		Env:            envOrDefault("ROOMCHAT_ENV", "development"),
		LogLevel:       envOrDefault("ROOMCHAT_LOG_LEVEL", "info"),
		Database:       loadDatabaseConfig(),
		JWT:            loadJWTConfig(),
		AuthMode:       strings.ToLower(envOrDefault("ROOMCHAT_AUTH_MODE", AuthModeJWT)),
		AllowedOrigins: envList("ROOMCHAT_ALLOWED_ORIGINS", []string{"http://localhost:8080"}),
		Chat: ChatConfig{
			MaxMessageBytes: envInt("ROOMCHAT_MAX_MESSAGE_BYTES", 4096),
			GracePeriod:     envDuration("ROOMCHAT_PRESENCE_GRACE", 5*time.Second),
			SendBuffer:      envInt("ROOMCHAT_SEND_BUFFER", 256),
		},
		Transport: TransportConfig{
			MaxFrameBytes: int64(envInt("ROOMCHAT_MAX_FRAME_BYTES", 16<<10)),
			PongWait:      envDuration("ROOMCHAT_PONG_WAIT", 60*time.Second),
			PingInterval:  envDuration("ROOMCHAT_PING_INTERVAL", 54*time.Second),
			WriteTimeout:  envDuration("ROOMCHAT_WRITE_TIMEOUT", 10*time.Second),
			RateBurst:     envInt("ROOMCHAT_RATE_BURST", 10),
			RateInterval:  envDuration("ROOMCHAT_RATE_INTERVAL", time.Second),
			HubTimeout:    envDuration("ROOMCHAT_HUB_TIMEOUT", 5*time.Second),
		},
		Persist: PersistConfig{
			Workers:        envInt("ROOMCHAT_PERSIST_WORKERS", 4),
			QueueSize:      envInt("ROOMCHAT_PERSIST_QUEUE", 1024),
			MaxAttempts:    envInt("ROOMCHAT_PERSIST_ATTEMPTS", 5),
			InitialBackoff: envDuration("ROOMCHAT_PERSIST_BACKOFF", 100*time.Millisecond),
			MaxBackoff:     envDuration("ROOMCHAT_PERSIST_MAX_BACKOFF", 5*time.Second),
			Timeout:        envDuration("ROOMCHAT_PERSIST_TIMEOUT", 3*time.Second),
		},
	}
}

// LoadClientConfig builds the client configuration from environment variables.
func LoadClientConfig() ClientConfig {
	_ = godotenv.Load()

	prefix := envOrDefault("ROOMCHAT_COMMAND_PREFIX", "/")
	runes := []rune(prefix)
	commandPrefix := '/'
	if len(runes) > 0 {
		commandPrefix = runes[0]
	}
	return ClientConfig{
		ServerURL:     envOrDefault("ROOMCHAT_SERVER_URL", "ws://localhost:8080/ws"),
		Token:         envOrDefault("ROOMCHAT_TOKEN", ""),
		CommandPrefix: commandPrefix,
	}
}

// LoadJWTConfig exposes the token settings to tools that only need signing.
func LoadJWTConfig() JWTConfig {
	_ = godotenv.Load()
	return loadJWTConfig()
}

// IsDevelopment reports whether the server runs with development defaults.
func (c ServerConfig) IsDevelopment() bool {
	return c.Env == "development"
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:     strings.ToLower(envOrDefault("ROOMCHAT_STORE_DRIVER", DriverSQLite)),
		Path:       envOrDefault("ROOMCHAT_DB_PATH", "roomchat.db"),
		RedisURL:   envOrDefault("ROOMCHAT_REDIS_URL", "redis://localhost:6379/0"),
		MessageTTL: envDuration("ROOMCHAT_REDIS_MESSAGE_TTL", 0),
	}
}

func loadJWTConfig() JWTConfig {
	expiration := envDuration("ROOMCHAT_JWT_EXPIRATION", 24*time.Hour)
	return JWTConfig{
		Secret:     envOrDefault("ROOMCHAT_JWT_SECRET", "replace-me"),
		Issuer:     envOrDefault("ROOMCHAT_JWT_ISSUER", "roomchat"),
		Expiration: expiration,
	}
}

func envOrDefault(key, value string) string {
	if env, ok := os.LookupEnv(key); ok {
		return env
	}
	return value
}

func envDuration(key string, def time.Duration) time.Duration {
	if env, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(env); err == nil {
			return parsed
		}
	}
	return def
}

func envInt(key string, def int) int {
	if env, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(env); err == nil && parsed > 0 {
			return parsed
		}
	}
	return def
}

func envList(key string, def []string) []string {
	env, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	var values []string
	for _, part := range strings.Split(env, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
