package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/restaurant-notify/internal/worker"
	"github.com/jwalitptl/restaurant-notify/pkg/messaging/redis"
)

// EnvPrefix namespaces environment overrides: NOTIFY_API_BASE_URL,
// NOTIFY_CHANNEL_MAX_RECONNECT_ATTEMPTS and so on (field names split on words).
const EnvPrefix = "NOTIFY"

type Config struct {
	Server    ServerConfig    `mapstructure:"server" split_words:"true"`
	API       APIConfig       `mapstructure:"api" split_words:"true"`
	Channel   ChannelConfig   `mapstructure:"channel" split_words:"true"`
	Store     StoreConfig     `mapstructure:"store" split_words:"true"`
	Delivery  DeliveryConfig  `mapstructure:"delivery" split_words:"true"`
	Sound     SoundConfig     `mapstructure:"sound" split_words:"true"`
	Outbox    OutboxConfig    `mapstructure:"outbox" split_words:"true"`
	Storage   StorageConfig   `mapstructure:"storage" split_words:"true"`
	Redis     RedisConfig     `mapstructure:"redis" split_words:"true"`
	AWS       AWSConfig       `mapstructure:"aws" split_words:"true"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" split_words:"true"`
	Log       LogConfig       `mapstructure:"log" split_words:"true"`
}

// ServerConfig configures the local consumer API.
type ServerConfig struct {
	Port           int           `mapstructure:"port" split_words:"true"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" split_words:"true"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" split_words:"true"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" split_words:"true"`
	// APIKeyHash is a bcrypt hash; empty disables consumer authentication.
	APIKeyHash string `mapstructure:"api_key_hash" split_words:"true"`
}

// APIConfig points at the restaurant backend's REST API.
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url" split_words:"true"`
	AuthToken string        `mapstructure:"auth_token" split_words:"true"`
	AuthType  string        `mapstructure:"auth_type" split_words:"true"`
	Timeout   time.Duration `mapstructure:"timeout" split_words:"true"`
	// MaxFailures consecutive failures open the REST circuit breaker.
	MaxFailures    int           `mapstructure:"max_failures" split_words:"true"`
	BreakerTimeout time.Duration `mapstructure:"breaker_timeout" split_words:"true"`
}

type ChannelConfig struct {
	Enabled              bool          `mapstructure:"enabled" split_words:"true"`
	URL                  string        `mapstructure:"url" split_words:"true"`
	ConnectTimeout       time.Duration `mapstructure:"connect_timeout" split_words:"true"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval" split_words:"true"`
	ReconnectBase        time.Duration `mapstructure:"reconnect_base" split_words:"true"`
	ReconnectMax         time.Duration `mapstructure:"reconnect_max" split_words:"true"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts" split_words:"true"`
	TokenExpirySkew      time.Duration `mapstructure:"token_expiry_skew" split_words:"true"`
}

type StoreConfig struct {
	InitialLimit    int           `mapstructure:"initial_limit" split_words:"true"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval" split_words:"true"`
}

type DeliveryConfig struct {
	SurfacedTTL     time.Duration `mapstructure:"surfaced_ttl" split_words:"true"`
	SurfacedCleanup time.Duration `mapstructure:"surfaced_cleanup" split_words:"true"`
}

type SoundConfig struct {
	Enabled bool `mapstructure:"enabled" split_words:"true"`
	// Asset is a local path or an s3://bucket/key URL. Empty means tone only.
	Asset string `mapstructure:"asset" split_words:"true"`
	// Player is one of command, bell, none.
	Player    string        `mapstructure:"player" split_words:"true"`
	Command   []string      `mapstructure:"command" split_words:"true"`
	ToneHz    float64       `mapstructure:"tone_hz" split_words:"true"`
	ToneLen   time.Duration `mapstructure:"tone_length" split_words:"true"`
	PlayLimit time.Duration `mapstructure:"play_timeout" split_words:"true"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size" split_words:"true"`
	PollInterval  time.Duration `mapstructure:"poll_interval" split_words:"true"`
	RetryAttempts int           `mapstructure:"retry_attempts" split_words:"true"`
	RetryDelay    time.Duration `mapstructure:"retry_delay" split_words:"true"`
	MaxAttempts   int           `mapstructure:"max_attempts" split_words:"true"`
}

// StorageConfig selects where the surfaced ledger and ack outbox live.
type StorageConfig struct {
	// Driver is memory, sqlite or postgres.
	Driver string `mapstructure:"driver" split_words:"true"`
	DSN    string `mapstructure:"dsn" split_words:"true"`
}

type RedisConfig struct {
	// URL empty means the in-process broker.
	URL          string        `mapstructure:"url" split_words:"true"`
	MaxRetries   int           `mapstructure:"max_retries" split_words:"true"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" split_words:"true"`
	PoolSize     int           `mapstructure:"pool_size" split_words:"true"`
	MinIdleConns int           `mapstructure:"min_idle_conns" split_words:"true"`
}

type AWSConfig struct {
	Region      string `mapstructure:"region" split_words:"true"`
	EndpointURL string `mapstructure:"endpoint_url" split_words:"true"`
	AccessKeyID string `mapstructure:"access_key_id" split_words:"true"`
	SecretKey   string `mapstructure:"secret_access_key" split_words:"true"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled" split_words:"true"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" split_words:"true"`
	Burst             int     `mapstructure:"burst" split_words:"true"`
}

type LogConfig struct {
	Level string `mapstructure:"level" split_words:"true"`
	JSON  bool   `mapstructure:"json" split_words:"true"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 0)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("api.base_url", "http://localhost:8000/api")
	v.SetDefault("api.auth_type", "Token")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("api.max_failures", 5)
	v.SetDefault("api.breaker_timeout", 30*time.Second)

	v.SetDefault("channel.enabled", true)
	v.SetDefault("channel.connect_timeout", 5*time.Second)
	v.SetDefault("channel.heartbeat_interval", 30*time.Second)
	v.SetDefault("channel.reconnect_base", time.Second)
	v.SetDefault("channel.reconnect_max", 10*time.Second)
	v.SetDefault("channel.max_reconnect_attempts", 3)
	v.SetDefault("channel.token_expiry_skew", 30*time.Second)

	v.SetDefault("store.initial_limit", 50)
	v.SetDefault("store.refresh_interval", 30*time.Second)

	v.SetDefault("delivery.surfaced_ttl", 24*time.Hour)
	v.SetDefault("delivery.surfaced_cleanup", time.Hour)

	v.SetDefault("sound.enabled", true)
	v.SetDefault("sound.player", "bell")
	v.SetDefault("sound.command", []string{"aplay", "-q", "-"})
	v.SetDefault("sound.tone_hz", 880.0)
	v.SetDefault("sound.tone_length", 200*time.Millisecond)
	v.SetDefault("sound.play_timeout", 3*time.Second)

	v.SetDefault("outbox.batch_size", 20)
	v.SetDefault("outbox.poll_interval", 15*time.Second)
	v.SetDefault("outbox.retry_attempts", 2)
	v.SetDefault("outbox.retry_delay", time.Second)
	v.SetDefault("outbox.max_attempts", 5)

	v.SetDefault("storage.driver", "memory")

	v.SetDefault("aws.region", "us-east-1")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 20.0)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("log.level", "info")
}

// LoadConfig reads config.yml from the usual locations (or path when given),
// falls back to defaults when no file exists, then applies NOTIFY_*
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/restaurant-notify")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	var problems []string
	if c.API.BaseURL == "" {
		problems = append(problems, "api.base_url is required")
	}
	if c.Channel.MaxReconnectAttempts < 0 {
		problems = append(problems, "channel.max_reconnect_attempts must not be negative")
	}
	if c.Channel.ReconnectBase <= 0 || c.Channel.ReconnectMax < c.Channel.ReconnectBase {
		problems = append(problems, "channel.reconnect_base must be positive and not exceed channel.reconnect_max")
	}
	if c.Store.InitialLimit <= 0 {
		problems = append(problems, "store.initial_limit must be positive")
	}
	switch c.Storage.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			problems = append(problems, "storage.dsn is required for "+c.Storage.Driver)
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown storage.driver %q", c.Storage.Driver))
	}
	switch c.Sound.Player {
	case "command", "bell", "none":
	default:
		problems = append(problems, fmt.Sprintf("unknown sound.player %q", c.Sound.Player))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ToBrokerConfig maps the redis section onto the broker's options.
func (c *Config) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.Redis.URL,
		MaxRetries:   c.Redis.MaxRetries,
		RetryBackoff: c.Redis.RetryBackoff,
		PoolSize:     c.Redis.PoolSize,
		MinIdleConns: c.Redis.MinIdleConns,
	}
}

func (c OutboxConfig) ToWorkerConfig() worker.AckOutboxConfig {
	return worker.AckOutboxConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
		MaxAttempts:   c.MaxAttempts,
	}
}
