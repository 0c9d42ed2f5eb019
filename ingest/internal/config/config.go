package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Store     StoreConfig     `mapstructure:"store"`
	Redis     RedisConfig     `mapstructure:"redis"`
	DLQ       DLQConfig       `mapstructure:"dlq"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Query     QueryConfig     `mapstructure:"query"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// TrustProxy keys rate limiting on X-Forwarded-For / X-Real-IP.
	TrustProxy     bool     `mapstructure:"trust_proxy"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AuthConfig leaves authentication disabled when both values are empty.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	APIKey    string `mapstructure:"api_key"`
}

type RateLimitConfig struct {
	Backend       string        `mapstructure:"backend"`
	Max           int           `mapstructure:"max"`
	Window        time.Duration `mapstructure:"window"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

type StoreConfig struct {
	Backend           string           `mapstructure:"backend"`
	MongoURI          string           `mapstructure:"mongo_uri"`
	MongoDatabase     string           `mapstructure:"mongo_database"`
	OpTimeout         time.Duration    `mapstructure:"op_timeout"`
	StartupRetries    int              `mapstructure:"startup_retries"`
	StartupRetryDelay time.Duration    `mapstructure:"startup_retry_delay"`
	OpenSearch        OpenSearchConfig `mapstructure:"opensearch"`
}

type OpenSearchConfig struct {
	URL           string `mapstructure:"url"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify"`
	IndexPrefix   string `mapstructure:"index_prefix"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
	// StreamMaxLen approximately caps each stream; 0 disables trimming.
	StreamMaxLen int64 `mapstructure:"stream_max_len"`
}

type DLQConfig struct {
	// Backend is "", "file" or "jetstream". Empty disables the DLQ.
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
	NATSURL string `mapstructure:"nats_url"`
}

type AlertingConfig struct {
	Rules []AlertRule `mapstructure:"rules"`
	// SyncInterval is how often rules stored through the read API are reloaded.
	SyncInterval time.Duration `mapstructure:"sync_interval"`
}

type AlertRule struct {
	Name      string        `mapstructure:"name"`
	Service   string        `mapstructure:"service"`
	Metric    string        `mapstructure:"metric"`
	Operator  string        `mapstructure:"operator"`
	Threshold float64       `mapstructure:"threshold"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

// QueryConfig controls the read API mounted under /api.
type QueryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	DefaultLimit int  `mapstructure:"default_limit"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 3001)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.api_key", "")
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.max", 200)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.idle_timeout", "60s")
	v.SetDefault("rate_limit.purge_interval", "60s")
	v.SetDefault("store.backend", "mongo")
	v.SetDefault("store.mongo_uri", "mongodb://localhost:27017/monitoring")
	v.SetDefault("store.mongo_database", "")
	v.SetDefault("store.op_timeout", "5s")
	v.SetDefault("store.startup_retries", 5)
	v.SetDefault("store.startup_retry_delay", "2s")
	v.SetDefault("store.opensearch.url", "https://localhost:9200")
	v.SetDefault("store.opensearch.username", "admin")
	v.SetDefault("store.opensearch.password", "admin")
	v.SetDefault("store.opensearch.tls_skip_verify", true)
	v.SetDefault("store.opensearch.index_prefix", "lightwatch")
	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("redis.stream_max_len", 100000)
	v.SetDefault("dlq.backend", "")
	v.SetDefault("dlq.path", "/var/lib/lightwatch/dlq")
	v.SetDefault("dlq.nats_url", "nats://localhost:4222")
	v.SetDefault("alerting.sync_interval", "30s")
	v.SetDefault("query.enabled", true)
	v.SetDefault("query.default_limit", 50)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/lightwatch/ingest")
	}

	v.SetEnvPrefix("INGEST")
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	switch c.RateLimit.Backend {
	case "memory", "redis", "none":
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend %q must be memory, redis or none", c.RateLimit.Backend))
	}
	if c.RateLimit.Backend != "none" {
		if c.RateLimit.Max < 1 {
			errs = append(errs, errors.New("rate_limit.max must be at least 1"))
		}
		if c.RateLimit.Window <= 0 {
			errs = append(errs, errors.New("rate_limit.window must be positive"))
		}
	}
	switch c.Store.Backend {
	case "mongo", "opensearch", "memory":
	default:
		errs = append(errs, fmt.Errorf("store.backend %q must be mongo, opensearch or memory", c.Store.Backend))
	}
	if c.Store.StartupRetries < 1 {
		errs = append(errs, errors.New("store.startup_retries must be at least 1"))
	}
	if c.Redis.StreamMaxLen < 0 {
		errs = append(errs, errors.New("redis.stream_max_len must not be negative"))
	}
	switch c.DLQ.Backend {
	case "", "file", "jetstream":
	default:
		errs = append(errs, fmt.Errorf("dlq.backend %q must be file, jetstream or empty", c.DLQ.Backend))
	}
	if c.Alerting.SyncInterval <= 0 {
		errs = append(errs, errors.New("alerting.sync_interval must be positive"))
	}
	if c.Query.DefaultLimit < 1 || c.Query.DefaultLimit > 500 {
		errs = append(errs, fmt.Errorf("query.default_limit %d must be between 1 and 500", c.Query.DefaultLimit))
	}
	return errors.Join(errs...)
}

// AuthEnabled reports whether any credential is configured.
func (c *Config) AuthEnabled() bool {
	return c.Auth.JWTSecret != "" || c.Auth.APIKey != ""
}
