package e2e

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_NATS_URL runs the scenarios over a real NATS server instead of the in-process hub
	NatsURL string `envconfig:"E2E_NATS_URL"`
	// E2E_COLOURS enables colorized step headers for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
	// E2E_WAIT bounds every eventually-style assertion
	Wait time.Duration `envconfig:"E2E_WAIT" default:"5s"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
