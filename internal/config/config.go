package config

import (
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	Env       string `mapstructure:"env"`
	Port      string `mapstructure:"port"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaConfig struct {
	Brokers          []string `mapstructure:"brokers"`
	TopicMessageSent string   `mapstructure:"topic_message_sent"`
}

type WSConfig struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
}

type RateLimitConfig struct {
	Limit         int `mapstructure:"limit"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

type MetricsConfig struct {
	Port string `mapstructure:"port"`
}

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	WS        WSConfig        `mapstructure:"ws"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`

	// derived
	PingInterval  time.Duration
	WriteDeadline time.Duration
	RateWindow    time.Duration
}

// Load reads the YAML config at path (optional) with environment overrides
// and applies defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "4001")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "artisanconnect_chat")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "chat")
	v.SetDefault("kafka.topic_message_sent", "chat.message.sent")
	v.SetDefault("ws.ping_interval_seconds", 30)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.max_message_size_bytes", 65536)
	v.SetDefault("rate_limit.limit", 120)
	v.SetDefault("rate_limit.window_seconds", 60)
	v.SetDefault("metrics.port", "9100")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}

	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.RateWindow = time.Duration(c.RateLimit.WindowSeconds) * time.Second
	return &c, nil
}

func (c *Config) Development() bool {
	return c.App.Env != "production"
}
