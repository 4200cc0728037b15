package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/PauFou/form-builder-sub001/internal/repository/postgres"
	redisqueue "github.com/PauFou/form-builder-sub001/pkg/queue/redis"
)

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	Migrate  bool   `mapstructure:"migrate"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type IngestConfig struct {
	SignatureTolerance time.Duration `mapstructure:"signature_tolerance"`
	IdempotencyTTL     time.Duration `mapstructure:"idempotency_ttl"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute"`
	MaxBodyBytes       int64         `mapstructure:"max_body_bytes"`
	FormCacheTTL       time.Duration `mapstructure:"form_cache_ttl"`
}

type DeliveryConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"`
	BaseBackoff        time.Duration `mapstructure:"base_backoff"`
	BackoffCap         time.Duration `mapstructure:"backoff_cap"`
	Workers            int           `mapstructure:"workers"`
	BreakerMaxFailures int           `mapstructure:"breaker_max_failures"`
	BreakerTimeout     time.Duration `mapstructure:"breaker_timeout"`
}

type ReaperConfig struct {
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	SweepBatchSize int           `mapstructure:"sweep_batch_size"`
	ClaimTimeout   time.Duration `mapstructure:"claim_timeout"`
	PurgeInterval  time.Duration `mapstructure:"purge_interval"`
	Retention      time.Duration `mapstructure:"retention"`
}

type AdminConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type SMTPConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	AlertTo  string `mapstructure:"alert_to"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Reaper    ReaperConfig    `mapstructure:"reaper"`
	Admin     AdminConfig     `mapstructure:"admin"`
	SMTP      SMTPConfig      `mapstructure:"smtp"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/app")
	viper.AddConfigPath("/app/config")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Env vars (FORMS_DATABASE_PASSWORD, FORMS_REDIS_URL, ...) override the
	// file. envconfig only touches fields whose variable is set.
	if err := envconfig.Process("forms", &config); err != nil {
		return nil, fmt.Errorf("failed to process env overrides: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Ingest.SignatureTolerance == 0 {
		c.Ingest.SignatureTolerance = 300 * time.Second
	}
	if c.Ingest.IdempotencyTTL == 0 {
		c.Ingest.IdempotencyTTL = 24 * time.Hour
	}
	if c.Ingest.RateLimitPerMinute == 0 {
		c.Ingest.RateLimitPerMinute = 60
	}
	if c.Ingest.MaxBodyBytes == 0 {
		c.Ingest.MaxBodyBytes = 1 << 20
	}
	if c.Ingest.FormCacheTTL == 0 {
		c.Ingest.FormCacheTTL = 30 * time.Second
	}
	if c.Delivery.Timeout == 0 {
		c.Delivery.Timeout = 30 * time.Second
	}
	if c.Delivery.BaseBackoff == 0 {
		c.Delivery.BaseBackoff = 30 * time.Second
	}
	if c.Delivery.BackoffCap == 0 {
		c.Delivery.BackoffCap = time.Hour
	}
	if c.Delivery.Workers == 0 {
		c.Delivery.Workers = 4
	}
	if c.Reaper.SweepInterval == 0 {
		c.Reaper.SweepInterval = 2 * time.Minute
	}
	if c.Reaper.SweepBatchSize == 0 {
		c.Reaper.SweepBatchSize = 100
	}
	if c.Reaper.ClaimTimeout == 0 {
		c.Reaper.ClaimTimeout = 10 * time.Minute
	}
	if c.Reaper.PurgeInterval == 0 {
		c.Reaper.PurgeInterval = time.Hour
	}
	if c.Reaper.Retention == 0 {
		c.Reaper.Retention = 72 * time.Hour
	}
	if c.RateLimit.RequestsPerSecond == 0 {
		c.RateLimit.RequestsPerSecond = 100
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 200
	}
}

func (c *DatabaseConfig) ToPostgres() postgres.Config {
	return postgres.Config{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Name:     c.Name,
		SSLMode:  c.SSLMode,
	}
}

func (c *RedisConfig) ToQueueConfig() redisqueue.Config {
	return redisqueue.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}
