package reconciliation

import "github.com/caarlos0/env"

type Config struct {
	PollInterval int   `json:"poll_interval" env:"RECONCILIATION_POLL_INTERVAL" envDefault:"250"`
	WorkersCount int64 `json:"workers_count" env:"RECONCILIATION_WORKERS_COUNT" envDefault:"5"`
	RetryBudget  int   `json:"retry_budget" env:"RECONCILIATION_RETRY_BUDGET" envDefault:"5"`

	KafkaConfirmationsGroupID                string `json:"kafka_confirmations_group_id" env:"KAFKA_CONFIRMATIONS_GROUP_ID" envDefault:"settlement_confirmations_consumer_group"`
	KafkaConfirmationsPartitionWatchInterval int    `json:"kafka_confirmations_partition_watch_interval" env:"KAFKA_CONFIRMATIONS_PARTITION_WATCH_INTERVAL" envDefault:"50000"`
	KafkaConfirmationsMaxWaitInterval        int    `json:"kafka_confirmations_max_wait_interval" env:"KAFKA_CONFIRMATIONS_MAX_WAIT_INTERVAL" envDefault:"250"`
}

func MustNewConfig() *Config {
	c := &Config{}
	env.Parse(c)

	return c
}
