package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
	Hub      HubConfig      `mapstructure:"hub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AllowedOrigins restricts WebSocket upgrades by Origin. Empty allows any.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AuthConfig leaves authentication disabled when both values are empty.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	APIKey    string `mapstructure:"api_key"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type ConsumerConfig struct {
	Group string `mapstructure:"group"`
	// Name identifies this process within the group. Defaults to
	// realtime-<hostname>-<pid>.
	Name      string        `mapstructure:"name"`
	BatchSize int64         `mapstructure:"batch_size"`
	Block     time.Duration `mapstructure:"block"`
	Backoff   time.Duration `mapstructure:"backoff"`
}

type HubConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// SendQueue is the per-connection backlog before a slow client is dropped.
	SendQueue int `mapstructure:"send_queue"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConsumerName returns realtime-<hostname>-<pid>.
func DefaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("realtime-%s-%d", host, os.Getpid())
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 3002)
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.api_key", "")
	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("consumer.group", "realtime-group")
	v.SetDefault("consumer.name", "")
	v.SetDefault("consumer.batch_size", 100)
	v.SetDefault("consumer.block", "2s")
	v.SetDefault("consumer.backoff", "1s")
	v.SetDefault("hub.ping_interval", "30s")
	v.SetDefault("hub.write_timeout", "10s")
	v.SetDefault("hub.send_queue", 256)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/lightwatch/realtime")
	}

	v.SetEnvPrefix("REALTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Consumer.Name == "" {
		cfg.Consumer.Name = DefaultConsumerName()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Consumer.Group == "" {
		errs = append(errs, errors.New("consumer.group is required"))
	}
	if c.Consumer.BatchSize < 1 {
		errs = append(errs, errors.New("consumer.batch_size must be at least 1"))
	}
	if c.Consumer.Block <= 0 {
		errs = append(errs, errors.New("consumer.block must be positive"))
	}
	if c.Consumer.Backoff <= 0 {
		errs = append(errs, errors.New("consumer.backoff must be positive"))
	}
	if c.Hub.WriteTimeout <= 0 {
		errs = append(errs, errors.New("hub.write_timeout must be positive"))
	}
	if c.Hub.SendQueue <= 0 {
		errs = append(errs, errors.New("hub.send_queue must be positive"))
	}
	if c.Hub.PingInterval < 0 {
		errs = append(errs, errors.New("hub.ping_interval must not be negative"))
	}
	return errors.Join(errs...)
}
