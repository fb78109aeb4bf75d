package config

import (
	"fmt"
	"strings"
	"time"

	// Import godotenv for loading .env files
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Chat     ChatConfig     `mapstructure:"chat"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Security SecurityConfig `mapstructure:"security"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	URI      string `mapstructure:"uri"` // Full connection URI, wins over host/port
}

type JWTConfig struct {
	SecretKey  string        `mapstructure:"secret_key"`
	Expiration time.Duration `mapstructure:"expiration"`
	Issuer     string        `mapstructure:"issuer"`
}

// ChatConfig tunes the real-time chat gateway and broadcaster.
type ChatConfig struct {
	MaxContentLength int           `mapstructure:"max_content_length"` // in runes
	HistoryOnJoin    bool          `mapstructure:"history_on_join"`
	HistoryLimit     int           `mapstructure:"history_limit"`
	RequireAuth      bool          `mapstructure:"require_auth"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	PersistTimeout   time.Duration `mapstructure:"persist_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	WriteWait        time.Duration `mapstructure:"write_wait"`
	MaxFrameSize     int64         `mapstructure:"max_frame_size"` // in bytes, 0 derives it from MaxContentLength
}

// Worst case a rune arrives as an escaped surrogate pair, "\ud83d\ude00".
const (
	maxEncodedRuneBytes = 12
	frameEnvelopeBytes  = 512
)

// MinFrameSize is the smallest websocket read limit that still lets a send
// event carrying maxContentLength runes reach content validation.
func MinFrameSize(maxContentLength int) int64 {
	return int64(maxContentLength)*maxEncodedRuneBytes + frameEnvelopeBytes
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type SecurityConfig struct {
	CORSOrigins []string      `mapstructure:"cors_origins"`
	RateLimit   int           `mapstructure:"rate_limit"`
	RateWindow  time.Duration `mapstructure:"rate_window"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// LoadConfig reads config.yaml (optional) and environment variables.
// Environment variables always win over the file.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if raw := v.GetString("security.cors_origins"); raw != "" {
		cfg.Security.CORSOrigins = splitOrigins(raw)
	}
	if len(cfg.Security.CORSOrigins) == 0 {
		cfg.Security.CORSOrigins = []string{"*"}
	}

	if cfg.Database.URI == "" {
		if cfg.Database.Username != "" && cfg.Database.Password != "" {
			cfg.Database.URI = fmt.Sprintf("mongodb://%s:%s@%s:%s", cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port)
		} else {
			cfg.Database.URI = fmt.Sprintf("mongodb://%s:%s", cfg.Database.Host, cfg.Database.Port)
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "27017")
	v.SetDefault("database.name", "alumnet")

	v.SetDefault("jwt.expiration", 24*time.Hour)
	v.SetDefault("jwt.issuer", "alumnet")

	v.SetDefault("chat.max_content_length", 1000)
	v.SetDefault("chat.history_on_join", true)
	v.SetDefault("chat.history_limit", 50)
	v.SetDefault("chat.require_auth", true)
	v.SetDefault("chat.send_buffer", 64)
	v.SetDefault("chat.persist_timeout", 5*time.Second)
	v.SetDefault("chat.ping_interval", 30*time.Second)
	v.SetDefault("chat.pong_wait", 60*time.Second)
	v.SetDefault("chat.write_wait", 10*time.Second)
	v.SetDefault("chat.max_frame_size", 0)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "alumnet:chat")
	v.SetDefault("redis.cache_ttl", 30*time.Second)

	v.SetDefault("security.cors_origins", "*")
	v.SetDefault("security.rate_limit", 100)
	v.SetDefault("security.rate_window", time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.host", "HOST")
	v.BindEnv("server.read_timeout", "READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "WRITE_TIMEOUT")
	v.BindEnv("server.idle_timeout", "IDLE_TIMEOUT")

	v.BindEnv("database.uri", "DB_URI")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("database.username", "DB_USERNAME")
	v.BindEnv("database.password", "DB_PASSWORD")

	v.BindEnv("jwt.secret_key", "JWT_SECRET")
	v.BindEnv("jwt.expiration", "JWT_EXPIRATION")

	v.BindEnv("chat.max_content_length", "CHAT_MAX_CONTENT_LENGTH")
	v.BindEnv("chat.history_on_join", "CHAT_HISTORY_ON_JOIN")
	v.BindEnv("chat.history_limit", "CHAT_HISTORY_LIMIT")
	v.BindEnv("chat.require_auth", "CHAT_REQUIRE_AUTH")
	v.BindEnv("chat.send_buffer", "CHAT_SEND_BUFFER")
	v.BindEnv("chat.persist_timeout", "CHAT_PERSIST_TIMEOUT")
	v.BindEnv("chat.ping_interval", "CHAT_PING_INTERVAL")
	v.BindEnv("chat.pong_wait", "CHAT_PONG_WAIT")
	v.BindEnv("chat.write_wait", "CHAT_WRITE_WAIT")
	v.BindEnv("chat.max_frame_size", "CHAT_MAX_FRAME_SIZE")

	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.db", "REDIS_DB")
	v.BindEnv("redis.prefix", "REDIS_PREFIX")
	v.BindEnv("redis.cache_ttl", "REDIS_CACHE_TTL")

	v.BindEnv("security.cors_origins", "CORS_ORIGINS")
	v.BindEnv("security.rate_limit", "RATE_LIMIT")
	v.BindEnv("security.rate_window", "RATE_WINDOW")

	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.pretty", "LOG_PRETTY")
}

func splitOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "*" || strings.TrimSpace(raw) == "" {
		return []string{"*"}
	}
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Database.URI == "" && c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.JWT.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if c.Chat.MaxContentLength <= 0 {
		return fmt.Errorf("chat max content length must be positive, got %d", c.Chat.MaxContentLength)
	}
	if c.Chat.HistoryLimit < 0 {
		return fmt.Errorf("chat history limit must not be negative, got %d", c.Chat.HistoryLimit)
	}
	if c.Chat.SendBuffer <= 0 {
		return fmt.Errorf("chat send buffer must be positive, got %d", c.Chat.SendBuffer)
	}
	if need := MinFrameSize(c.Chat.MaxContentLength); c.Chat.MaxFrameSize != 0 && c.Chat.MaxFrameSize < need {
		return fmt.Errorf("chat max frame size (%d bytes) cannot carry %d characters, need at least %d",
			c.Chat.MaxFrameSize, c.Chat.MaxContentLength, need)
	}
	if c.Chat.PingInterval >= c.Chat.PongWait {
		return fmt.Errorf("chat ping interval (%s) must be shorter than pong wait (%s)", c.Chat.PingInterval, c.Chat.PongWait)
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis address is required when redis is enabled")
	}

	return nil
}
