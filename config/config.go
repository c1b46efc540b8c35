package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Provider string   `mapstructure:"provider" validate:"oneof=binance kucoin"`
	Symbols  []string `mapstructure:"symbols" validate:"min=1,dive,required"`
	Debug    bool     `mapstructure:"debug"`

	Stream  StreamConfig  `mapstructure:"stream"`
	Book    BookConfig    `mapstructure:"book"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Binance BinanceConfig `mapstructure:"binance"`
	Kucoin  KucoinConfig  `mapstructure:"kucoin"`
	Grpc    ServerConfig  `mapstructure:"grpc"`
	Http    ServerConfig  `mapstructure:"http"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Log     LogConfig     `mapstructure:"log"`
}

type StreamConfig struct {
	BaseDelay        time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxDelay         time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
	MaxAttempts      int           `mapstructure:"max_attempts" validate:"gt=0"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" validate:"gt=0"`
}

type BookConfig struct {
	SnapshotDepth    int           `mapstructure:"snapshot_depth" validate:"gt=0,lte=5000"`
	PublishDepth     int           `mapstructure:"publish_depth" validate:"gt=0"`
	RetryDelay       time.Duration `mapstructure:"snapshot_retry_delay" validate:"gt=0"`
	MaxRetryDelay    time.Duration `mapstructure:"snapshot_max_delay" validate:"gtefield=RetryDelay"`
	FailureThreshold int           `mapstructure:"snapshot_failure_threshold" validate:"gt=0"`
	SnapshotRate     float64       `mapstructure:"snapshot_rate" validate:"gte=0"`
}

type CacheConfig struct {
	Capacity      int           `mapstructure:"capacity" validate:"gt=0"`
	DefaultTTL    time.Duration `mapstructure:"default_ttl" validate:"gt=0"`
	EntryTTL      time.Duration `mapstructure:"entry_ttl" validate:"gt=0"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
}

type BinanceConfig struct {
	StreamURL  string `mapstructure:"stream_url" validate:"omitempty,url"`
	RestURL    string `mapstructure:"rest_url" validate:"omitempty,url"`
	DepthSpeed string `mapstructure:"depth_speed" validate:"omitempty,oneof=100ms 1000ms"`
}

type KucoinConfig struct {
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" validate:"required"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db" validate:"gte=0"`
	StateTTL time.Duration `mapstructure:"state_ttl" validate:"gt=0"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File  string `mapstructure:"file"`
}

var keys = []string{
	"provider", "symbols", "debug",
	"stream.base_delay", "stream.max_delay", "stream.max_attempts", "stream.read_timeout", "stream.handshake_timeout",
	"book.snapshot_depth", "book.publish_depth", "book.snapshot_retry_delay", "book.snapshot_max_delay",
	"book.snapshot_failure_threshold", "book.snapshot_rate",
	"cache.capacity", "cache.default_ttl", "cache.entry_ttl", "cache.sweep_interval",
	"binance.stream_url", "binance.rest_url", "binance.depth_speed",
	"kucoin.base_url",
	"grpc.addr", "http.addr",
	"redis.addr", "redis.password", "redis.db", "redis.state_ttl",
	"log.level", "log.file",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "binance")
	v.SetDefault("symbols", []string{"btc_usdt"})
	v.SetDefault("debug", false)

	v.SetDefault("stream.base_delay", time.Second)
	v.SetDefault("stream.max_delay", 30*time.Second)
	v.SetDefault("stream.max_attempts", 5)
	v.SetDefault("stream.read_timeout", time.Minute)
	v.SetDefault("stream.handshake_timeout", 10*time.Second)

	v.SetDefault("book.snapshot_depth", 1000)
	v.SetDefault("book.publish_depth", 100)
	v.SetDefault("book.snapshot_retry_delay", time.Second)
	v.SetDefault("book.snapshot_max_delay", 30*time.Second)
	v.SetDefault("book.snapshot_failure_threshold", 3)
	v.SetDefault("book.snapshot_rate", 2.0)

	v.SetDefault("cache.capacity", 100)
	v.SetDefault("cache.default_ttl", 5*time.Minute)
	v.SetDefault("cache.entry_ttl", 30*time.Second)
	v.SetDefault("cache.sweep_interval", 5*time.Minute)

	v.SetDefault("binance.stream_url", "")
	v.SetDefault("binance.rest_url", "")
	v.SetDefault("binance.depth_speed", "")
	v.SetDefault("kucoin.base_url", "")

	v.SetDefault("grpc.addr", ":50051")
	v.SetDefault("http.addr", ":8080")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.state_ttl", 30*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// Load reads .env (when present), then the environment over the defaults.
// Nested keys map to upper-case env names: book.snapshot_depth -> BOOK_SNAPSHOT_DEPTH.
func Load(envFiles ...string) (*Config, error) {
	// a missing .env is fine, the process environment is authoritative
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	for i, s := range cfg.Symbols {
		cfg.Symbols[i] = strings.TrimSpace(s)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}
