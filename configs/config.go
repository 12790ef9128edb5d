package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type R2 struct {
	AccountID  string        `env:"R2_ACCOUNT_ID"`
	AccessKey  string        `env:"R2_ACCESS_KEY"`
	SecretKey  string        `env:"R2_SECRET_KEY"`
	BucketName string        `env:"R2_BUCKET_NAME"`
	PresignTTL time.Duration `env:"R2_PRESIGN_TTL" envDefault:"1h"`
}

func (r R2) Enabled() bool {
	return r.AccountID != "" && r.AccessKey != "" && r.SecretKey != "" && r.BucketName != ""
}

type Instagram struct {
	ClientID     string `env:"INSTAGRAM_CLIENT_ID"`
	ClientSecret string `env:"INSTAGRAM_CLIENT_SECRET"`
	RedirectURI  string `env:"INSTAGRAM_REDIRECT_URI"`
	AuthURL      string `env:"INSTAGRAM_AUTH_URL" envDefault:"https://www.instagram.com/oauth/authorize"`
	TokenURL     string `env:"INSTAGRAM_TOKEN_URL" envDefault:"https://api.instagram.com/oauth/access_token"`

	GraphURL   string        `env:"INSTAGRAM_GRAPH_URL" envDefault:"https://graph.instagram.com/v21.0"`
	Timeout    time.Duration `env:"INSTAGRAM_TIMEOUT" envDefault:"30s"`
	RatePerSec int           `env:"INSTAGRAM_RATE_PER_SEC" envDefault:"5"`
}

type Scheduler struct {
	DefaultMaxRetries int           `env:"SCHEDULER_MAX_RETRIES" envDefault:"3"`
	RetryBackoff      time.Duration `env:"SCHEDULER_RETRY_BACKOFF" envDefault:"5m"`
	PublishTimeout    time.Duration `env:"SCHEDULER_PUBLISH_TIMEOUT" envDefault:"2m"`
	WorkerConcurrency int           `env:"SCHEDULER_WORKER_CONCURRENCY" envDefault:"10"`
	Queue             string        `env:"SCHEDULER_QUEUE" envDefault:"publisher"`
}

type Sweeper struct {
	Interval        time.Duration `env:"SWEEPER_INTERVAL" envDefault:"6h"`
	StuckAfter      time.Duration `env:"SWEEPER_STUCK_AFTER" envDefault:"2h"`
	PastDueGrace    time.Duration `env:"SWEEPER_PAST_DUE_GRACE" envDefault:"1h"`
	FailedRetention time.Duration `env:"SWEEPER_FAILED_RETENTION" envDefault:"720h"`
	BatchSize       int           `env:"SWEEPER_BATCH_SIZE" envDefault:"500"`
	LockTTL         time.Duration `env:"SWEEPER_LOCK_TTL" envDefault:"30m"`
}

type Jobs struct {
	TokenRefresh          string        `env:"JOB_TOKEN_REFRESH_SPEC" envDefault:"@every 24h"`
	InsightsSync          string        `env:"JOB_INSIGHTS_SYNC_SPEC" envDefault:"@every 6h"`
	InsightsWindow        time.Duration `env:"JOB_INSIGHTS_WINDOW" envDefault:"168h"`
	AccountInsightsWindow time.Duration `env:"JOB_ACCOUNT_INSIGHTS_WINDOW" envDefault:"72h"`
}

type Config struct {
	Env          string `env:"APP_ENV" envDefault:"development"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	HTTPAddr     string `env:"HTTP_ADDR" envDefault:":3000"`
	PostgresURI  string `env:"POSTGRES_URI,required"`
	RedisURI     string `env:"REDIS_URI" envDefault:"redis://localhost:6379/0"`
	FrontendURL  string `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
	MediaBaseURL string `env:"MEDIA_BASE_URL"`
	SecretKey    string `env:"SECRET_KEY,required"`
	CookieName   string `env:"COOKIE_NAME" envDefault:"postscheduler_session"`

	R2        R2
	Instagram Instagram
	Scheduler Scheduler
	Sweeper   Sweeper
	Jobs      Jobs
}

var ErrInvalidConfig = errors.New("invalid configuration")

// LoadConfig reads an optional .env file and then parses the process environment.
func LoadConfig() (*Config, error) {
	// the .env file is optional outside local development
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch len(c.SecretKey) {
	case 16, 24, 32:
	default:
		return fmt.Errorf("SECRET_KEY must be 16, 24 or 32 bytes, got %d", len(c.SecretKey))
	}
	if c.Scheduler.DefaultMaxRetries < 0 {
		return errors.New("SCHEDULER_MAX_RETRIES must not be negative")
	}
	if c.Scheduler.RetryBackoff <= 0 || c.Scheduler.PublishTimeout <= 0 {
		return errors.New("scheduler durations must be positive")
	}
	if c.Sweeper.Interval <= 0 || c.Sweeper.StuckAfter <= 0 || c.Sweeper.PastDueGrace <= 0 || c.Sweeper.FailedRetention <= 0 {
		return errors.New("sweeper durations must be positive")
	}
	if c.Scheduler.PublishTimeout >= c.Sweeper.StuckAfter {
		return fmt.Errorf("SCHEDULER_PUBLISH_TIMEOUT (%s) must be shorter than SWEEPER_STUCK_AFTER (%s)",
			c.Scheduler.PublishTimeout, c.Sweeper.StuckAfter)
	}
	if !c.R2.Enabled() && c.MediaBaseURL == "" {
		return errors.New("either R2 credentials or MEDIA_BASE_URL must be set")
	}
	return nil
}
