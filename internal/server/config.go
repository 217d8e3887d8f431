// Package server provides configuration helpers that define runtime defaults,
// validation, and environment loading for the GoChat service.
package server

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers selectable with STORE_DRIVER.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// StoreConfig selects and configures the message store.
type StoreConfig struct {
	Driver      string
	SQLitePath  string
	RedisAddr   string
	RedisPrefix string
}

// JWTSettings holds credential verification settings.
type JWTSettings struct {
	Secret string
	Issuer string
}

// NATSConfig configures the optional event mirror. An empty URL disables it.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port             string
	AllowedOrigins   []string
	MaxMessageSize   int64
	SendBufferSize   int
	HandshakeTimeout time.Duration
	AutoJoinLounge   bool
	ShutdownTimeout  time.Duration
	LogLevel         string
	LogFormat        string

	JWT   JWTSettings
	Store StoreConfig
	NATS  NATSConfig
}

// DefaultConfig returns a Config populated with default values for all settings.
func DefaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:   16384,
		SendBufferSize:   256,
		HandshakeTimeout: 10 * time.Second,
		ShutdownTimeout:  30 * time.Second,
		LogLevel:         "info",
		LogFormat:        "text",
		Store: StoreConfig{
			Driver:      StoreMemory,
			SQLitePath:  "gochat.db",
			RedisAddr:   "localhost:6379",
			RedisPrefix: "gochat:",
		},
		NATS: NATSConfig{
			SubjectPrefix: "gochat",
		},
	}
}

// Sanitize replaces unusable values with their defaults.
func (c Config) Sanitize() Config {
	def := DefaultConfig()

	if c.Port == "" {
		c.Port = def.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = def.SendBufferSize
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}

	switch c.Store.Driver {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = def.Store.SQLitePath
	}
	if c.Store.RedisAddr == "" {
		c.Store.RedisAddr = def.Store.RedisAddr
	}
	if c.Store.RedisPrefix == "" {
		c.Store.RedisPrefix = def.Store.RedisPrefix
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = def.NATS.SubjectPrefix
	}

	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	if size := os.Getenv("SEND_BUFFER_SIZE"); size != "" {
		cfg.SendBufferSize = parseIntValue(size, cfg.SendBufferSize)
	}

	if timeout := os.Getenv("HANDSHAKE_TIMEOUT"); timeout != "" {
		cfg.HandshakeTimeout = parseDuration(timeout, cfg.HandshakeTimeout)
	}

	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseDuration(timeout, cfg.ShutdownTimeout)
	}

	if autoJoin := os.Getenv("AUTO_JOIN_LOUNGE"); autoJoin != "" {
		cfg.AutoJoinLounge = parseBool(autoJoin, cfg.AutoJoinLounge)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = strings.ToLower(level)
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.LogFormat = strings.ToLower(format)
	}

	cfg.JWT.Secret = os.Getenv("JWT_SECRET")
	cfg.JWT.Issuer = os.Getenv("JWT_ISSUER")

	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		cfg.Store.Driver = strings.ToLower(driver)
	}
	if path := os.Getenv("SQLITE_PATH"); path != "" {
		cfg.Store.SQLitePath = path
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Store.RedisAddr = addr
	}
	if prefix := os.Getenv("REDIS_PREFIX"); prefix != "" {
		cfg.Store.RedisPrefix = prefix
	}

	cfg.NATS.URL = os.Getenv("NATS_URL")
	if prefix := os.Getenv("NATS_SUBJECT_PREFIX"); prefix != "" {
		cfg.NATS.SubjectPrefix = prefix
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration syntax ("15s") or a plain number of
// seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}

func parseBool(value string, defaultValue bool) bool {
	if parsed, err := strconv.ParseBool(value); err == nil {
		return parsed
	}
	return defaultValue
}
