package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const dateLayout = "2006-01-02"

type Config struct {
	BotToken    string  `env:"BOT_TOKEN" env-required:"true"`
	Admins      []int64 `env:"ADMINS" env-separator:","`
	DatabaseURL string  `env:"DATABASE_URL" env-default:"subbot.db"`
	LogLevel    string  `env:"LOG_LEVEL" env-default:"info"`

	SubscriptionEnd  string `env:"SUBSCRIPTION_END" env-default:"2026-12-31"`
	SubscriptionDays int    `env:"SUBSCRIPTION_DAYS" env-default:"0"`

	BroadcastBatchSize  int     `env:"BROADCAST_BATCH_SIZE" env-default:"30"`
	BroadcastRate       float64 `env:"BROADCAST_RATE" env-default:"25"`
	BroadcastMinSuccess float64 `env:"BROADCAST_MIN_SUCCESS" env-default:"0.7"`

	SendTimeout  time.Duration `env:"SEND_TIMEOUT" env-default:"10s"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" env-default:"5s"`
	PollTimeout  time.Duration `env:"POLL_TIMEOUT" env-default:"10s"`

	MetricsAddr    string `env:"METRICS_ADDR"`
	ExpirySchedule string `env:"EXPIRY_SCHEDULE" env-default:"@daily"`
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	// a missing .env is fine, the environment may already be populated
	_ = godotenv.Load()

	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("couldn't read environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	c.BotToken = strings.TrimSpace(c.BotToken)
	if c.BotToken == "" {
		return errors.New("BOT_TOKEN is empty")
	}
	if _, err := time.Parse(dateLayout, c.SubscriptionEnd); err != nil {
		return fmt.Errorf("SUBSCRIPTION_END must look like %s: %w", dateLayout, err)
	}
	if c.SubscriptionDays < 0 {
		return errors.New("SUBSCRIPTION_DAYS must not be negative")
	}
	if c.BroadcastBatchSize < 1 {
		return errors.New("BROADCAST_BATCH_SIZE must be at least 1")
	}
	if c.BroadcastMinSuccess < 0 || c.BroadcastMinSuccess > 1 {
		return errors.New("BROADCAST_MIN_SUCCESS must be within [0, 1]")
	}
	if c.BroadcastRate < 0 {
		return errors.New("BROADCAST_RATE must not be negative")
	}
	return nil
}

// SubscriptionEndDate is the fixed expiry handed out on approval when no
// rolling duration is configured.
func (c *Config) SubscriptionEndDate() time.Time {
	t, _ := time.Parse(dateLayout, c.SubscriptionEnd)
	return t
}
