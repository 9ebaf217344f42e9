// Package config loads process configuration from the environment and the
// optional bootstrap file seeding a fresh cluster.
package config

import (
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Config holds all process configuration. Values come from environment
// variables layered over an optional .env file.
type Config struct {
	Env       string `env:"WAF_ENV,default=development"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`

	ListenAddr string `env:"WAF_LISTEN_ADDR,default=:8080"`
	AdminAddr  string `env:"WAF_ADMIN_ADDR,default=:8081"`

	RedisAddr     string `env:"WAF_REDIS_ADDR,default=localhost:6379"`
	RedisPassword string `env:"WAF_REDIS_PASSWORD,default="`
	RedisDB       int    `env:"WAF_REDIS_DB,default=0"`
	RedisPoolSize int    `env:"WAF_REDIS_POOL_SIZE,default=10"`

	SyncInterval         time.Duration `env:"WAF_SYNC_INTERVAL,default=30s"`
	MetricsPushInterval  time.Duration `env:"WAF_METRICS_PUSH_INTERVAL,default=30s"`
	LearnerFlushInterval time.Duration `env:"WAF_LEARNER_FLUSH_INTERVAL,default=30s"`

	MaxBodyBytes      int64 `env:"WAF_MAX_BODY_BYTES,default=10485760"`
	WebhookQueueBound int   `env:"WAF_WEBHOOK_QUEUE_BOUND,default=1000"`

	ServiceAuthSecret string `env:"WAF_SERVICE_SECRET,default="`
	BootstrapFile     string `env:"WAF_BOOTSTRAP_FILE,default="`
	Workers           int    `env:"WAF_WORKERS,default=0"`
}

// Load reads configuration. A .env file in the working directory is
// applied first when present; real environment variables win.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// IsProduction reports whether the process runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
