package internal

import (
	"chat-sync/runtime"
	"chat-sync/services"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	LogLevel         string        `env:"LOG_LEVEL,default=INFO"`
	BadgerFilepath   string        `env:"BADGER_FILEPATH,required=true"`
	UserID           string        `env:"USER_ID"`
	DefaultChannel   string        `env:"DEFAULT_CHANNEL"`
	NatsURL          string        `env:"NATS_URL"`
	NatsName         string        `env:"NATS_NAME,default=chat-sync"`
	MetricsPort      int           `env:"METRICS_PORT,default=9090"`
	ReportInterval   time.Duration `env:"REPORT_INTERVAL,default=30s"`
	RestartInterval  time.Duration `env:"RESTART_INTERVAL,default=200ms"`
	PageSize         int           `env:"PAGE_SIZE,default=20"`
	MaxContentLength int           `env:"MAX_CONTENT_LENGTH,default=4000"`
	RetryBaseDelay   time.Duration `env:"RETRY_BASE_DELAY,default=500ms"`
	RetryMaxDelay    time.Duration `env:"RETRY_MAX_DELAY,default=30s"`
	MaxRetries       int           `env:"MAX_RETRIES,default=3"`
	PollInterval     time.Duration `env:"POLL_INTERVAL,default=10s"`
	ConnectTimeout   time.Duration `env:"CONNECT_TIMEOUT,default=10s"`
	RefreshInterval  time.Duration `env:"REFRESH_INTERVAL,default=1s"`
	RefreshBurst     int           `env:"REFRESH_BURST,default=3"`
}

// Validate rejects settings the sync engine cannot run with.
func (c Config) Validate() error {
	switch {
	case c.PageSize <= 0:
		return fmt.Errorf("PAGE_SIZE must be positive, got %d", c.PageSize)
	case c.MaxRetries <= 0:
		return fmt.Errorf("MAX_RETRIES must be positive, got %d", c.MaxRetries)
	case c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay:
		return fmt.Errorf("RETRY_BASE_DELAY (%s) must be positive and at most RETRY_MAX_DELAY (%s)",
			c.RetryBaseDelay, c.RetryMaxDelay)
	case c.PollInterval <= 0:
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	return nil
}

func (c Config) Subscription() runtime.SubscriptionConfig {
	return runtime.SubscriptionConfig{
		BaseDelay:      c.RetryBaseDelay,
		MaxDelay:       c.RetryMaxDelay,
		MaxRetries:     c.MaxRetries,
		PollInterval:   c.PollInterval,
		ConnectTimeout: c.ConnectTimeout,
		RefreshLimit:   rate.Every(c.RefreshInterval),
		RefreshBurst:   c.RefreshBurst,
	}
}

func (c Config) Session() services.SessionConfig {
	return services.SessionConfig{
		Feed: services.FeedConfig{
			PageSize:         c.PageSize,
			MaxContentLength: c.MaxContentLength,
		},
		Subscription: c.Subscription(),
	}
}
