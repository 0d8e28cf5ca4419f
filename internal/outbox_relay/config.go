package outbox_relay

import "github.com/caarlos0/env"

type Config struct {
	PollInterval    int   `json:"poll_interval" env:"RELAY_POLL_INTERVAL" envDefault:"250"`
	WorkersCount    int64 `json:"workers_count" env:"RELAY_WORKERS_COUNT" envDefault:"2"`
	BatchSize       int   `json:"batch_size" env:"RELAY_BATCH_SIZE" envDefault:"50"`
	PublishAttempts int   `json:"publish_attempts" env:"RELAY_PUBLISH_ATTEMPTS" envDefault:"5"`
	BackoffBase     int   `json:"backoff_base" env:"RELAY_BACKOFF_BASE" envDefault:"100"`
	BackoffCap      int   `json:"backoff_cap" env:"RELAY_BACKOFF_CAP" envDefault:"5000"`
}

func MustNewConfig() *Config {
	c := &Config{}
	env.Parse(c)

	return c
}
