package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/weiawesome/friendlychat/internal/identity"
	pkgconfig "github.com/weiawesome/friendlychat/pkg/config"
	"github.com/weiawesome/friendlychat/pkg/log"
	"github.com/weiawesome/friendlychat/pkg/database"
	"github.com/weiawesome/friendlychat/pkg/pubsub"
	"github.com/weiawesome/friendlychat/pkg/storage"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Database  database.Config
	PubSub    pubsub.Config `mapstructure:"pubsub"`
	Storage   storage.Config
	Cache     CacheConfig
	Chat      ChatConfig
	Upload    UploadConfig
	Log       log.Config
}

type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// SecureCookies marks session cookies Secure; enable behind TLS.
	SecureCookies bool `mapstructure:"secure_cookies"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type AuthConfig struct {
	Provider identity.ProviderConfig
	Issuer   string
	// SigningKeyFile is a PEM RSA key; empty generates one per process.
	SigningKeyFile  string        `mapstructure:"signing_key_file"`
	SessionDuration time.Duration `mapstructure:"session_duration"`
	StateTTL        time.Duration `mapstructure:"state_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type CacheConfig struct {
	Driver string // "redis", "none"
	Prefix string
	TTL    time.Duration
	// Redis defaults to the pubsub.redis settings when no address is set.
	Redis pubsub.RedisConfig `mapstructure:"redis"`
}

type ChatConfig struct {
	Collection       string
	WindowSize       int           `mapstructure:"window_size"`
	QueryBuffer      int           `mapstructure:"query_buffer"`
	FadeInDelay      time.Duration `mapstructure:"fade_in_delay"`
	StaleUploadAfter time.Duration `mapstructure:"stale_upload_after"`
	ReapInterval     time.Duration `mapstructure:"reap_interval"`
}

type UploadConfig struct {
	MaxSize     int64         `mapstructure:"max_size"`
	MaxWidth    int           `mapstructure:"max_width"`
	JPEGQuality int           `mapstructure:"jpeg_quality"`
	URLExpiry   time.Duration `mapstructure:"url_expiry"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.secure_cookies", false)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("auth.provider.driver", "dev")
	v.SetDefault("auth.provider.redirect_url", "http://localhost:8080/auth/callback")
	v.SetDefault("auth.provider.dev_login_path", "/auth/dev")
	v.SetDefault("auth.issuer", "friendlychat")
	v.SetDefault("auth.signing_key_file", "")
	v.SetDefault("auth.session_duration", "24h")
	v.SetDefault("auth.state_ttl", "10m")
	v.SetDefault("auth.cleanup_interval", "5m")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "data/friendlychat.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.dbname", "friendlychat")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("pubsub.driver", "memory")
	v.SetDefault("pubsub.redis.address", "localhost:6379")
	v.SetDefault("pubsub.redis.pool_size", 10)
	v.SetDefault("pubsub.redis.read_timeout", "3s")
	v.SetDefault("pubsub.redis.write_timeout", "3s")
	v.SetDefault("pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("pubsub.kafka.group_id", "friendlychat")
	v.SetDefault("pubsub.kafka.partitions", 3)
	v.SetDefault("storage.driver", "local")
	v.SetDefault("storage.local.base_path", "data/uploads")
	v.SetDefault("storage.local.url_prefix", "/files")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.bucket", "friendlychat")
	v.SetDefault("cache.driver", "none")
	v.SetDefault("cache.prefix", "chat:messages")
	v.SetDefault("cache.ttl", "30s")
	v.SetDefault("chat.collection", "messages")
	v.SetDefault("chat.window_size", 20)
	v.SetDefault("chat.query_buffer", 64)
	v.SetDefault("chat.fade_in_delay", "1ms")
	v.SetDefault("chat.stale_upload_after", "5m")
	v.SetDefault("chat.reap_interval", "1m")
	v.SetDefault("upload.max_size", 10<<20)
	v.SetDefault("upload.max_width", 1024)
	v.SetDefault("upload.jpeg_quality", 85)
	v.SetDefault("upload.url_expiry", "168h")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "friendlychat")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("auth.provider.driver", "OAUTH_PROVIDER")
	v.BindEnv("auth.provider.client_id", "OAUTH_CLIENT_ID")
	v.BindEnv("auth.provider.client_secret", "OAUTH_CLIENT_SECRET")
	v.BindEnv("auth.provider.redirect_url", "OAUTH_REDIRECT_URL")
	v.BindEnv("auth.signing_key_file", "JWT_SIGNING_KEY_FILE")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("pubsub.driver", "PUBSUB_DRIVER")
	v.BindEnv("pubsub.redis.address", "REDIS_ADDRESS")
	v.BindEnv("pubsub.redis.password", "REDIS_PASSWORD")
	v.BindEnv("pubsub.kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")
	v.BindEnv("storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("storage.s3.public_url", "S3_PUBLIC_URL")
	v.BindEnv("cache.driver", "CACHE_DRIVER")
	v.BindEnv("cache.redis.address", "CACHE_REDIS_ADDRESS")
	v.BindEnv("cache.redis.password", "CACHE_REDIS_PASSWORD")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Parse durations
	parseDurations(v, &cfg)
	if cfg.Cache.Redis.Address == "" {
		cfg.Cache.Redis = cfg.PubSub.Redis
	}

	return &cfg, nil
}

// CacheSharesBusRedis reports whether the window cache can use the change
// bus's Redis client instead of dialing its own.
func (c *Config) CacheSharesBusRedis() bool {
	return c.PubSub.Driver == "redis" && c.Cache.Driver == "redis" && c.Cache.Redis == c.PubSub.Redis
}

func parseDurations(v *viper.Viper, cfg *Config) {
	cfg.Server.ReadTimeout = pkgconfig.ParseDuration(v, "server.read_timeout", 30*time.Second)
	cfg.Server.WriteTimeout = pkgconfig.ParseDuration(v, "server.write_timeout", 60*time.Second)
	cfg.Server.ShutdownTimeout = pkgconfig.ParseDuration(v, "server.shutdown_timeout", 10*time.Second)
	cfg.WebSocket.PingInterval = pkgconfig.ParseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = pkgconfig.ParseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = pkgconfig.ParseDuration(v, "websocket.write_wait", 10*time.Second)
	cfg.Auth.SessionDuration = pkgconfig.ParseDuration(v, "auth.session_duration", 24*time.Hour)
	cfg.Auth.StateTTL = pkgconfig.ParseDuration(v, "auth.state_ttl", 10*time.Minute)
	cfg.Auth.CleanupInterval = pkgconfig.ParseDuration(v, "auth.cleanup_interval", 5*time.Minute)
	cfg.PubSub.Redis.ReadTimeout = pkgconfig.ParseDuration(v, "pubsub.redis.read_timeout", 3*time.Second)
	cfg.PubSub.Redis.WriteTimeout = pkgconfig.ParseDuration(v, "pubsub.redis.write_timeout", 3*time.Second)
	cfg.Cache.TTL = pkgconfig.ParseDuration(v, "cache.ttl", 30*time.Second)
	cfg.Cache.Redis.ReadTimeout = pkgconfig.ParseDuration(v, "cache.redis.read_timeout", cfg.PubSub.Redis.ReadTimeout)
	cfg.Cache.Redis.WriteTimeout = pkgconfig.ParseDuration(v, "cache.redis.write_timeout", cfg.PubSub.Redis.WriteTimeout)
	cfg.Chat.FadeInDelay = pkgconfig.ParseDuration(v, "chat.fade_in_delay", time.Millisecond)
	cfg.Chat.StaleUploadAfter = pkgconfig.ParseDuration(v, "chat.stale_upload_after", 5*time.Minute)
	cfg.Chat.ReapInterval = pkgconfig.ParseDuration(v, "chat.reap_interval", time.Minute)
	cfg.Upload.URLExpiry = pkgconfig.ParseDuration(v, "upload.url_expiry", 7*24*time.Hour)
}
