package settlement

import "github.com/caarlos0/env"

type Config struct {
	AdmissionTimeout          int `json:"admission_timeout" env:"SETTLEMENT_ADMISSION_TIMEOUT" envDefault:"2000"`
	IdempotencyRetentionHours int `json:"idempotency_retention_hours" env:"SETTLEMENT_IDEMPOTENCY_RETENTION_HOURS" envDefault:"24"`
	TransientRetryBase        int `json:"transient_retry_base" env:"SETTLEMENT_TRANSIENT_RETRY_BASE" envDefault:"50"`
	TransientRetryAttempts    int `json:"transient_retry_attempts" env:"SETTLEMENT_TRANSIENT_RETRY_ATTEMPTS" envDefault:"4"`
	HistoryPerPage            int `json:"history_per_page" env:"SETTLEMENT_HISTORY_PER_PAGE" envDefault:"50"`

	RecoveryPollInterval      int   `json:"recovery_poll_interval" env:"SETTLEMENT_RECOVERY_POLL_INTERVAL" envDefault:"5000"`
	RecoveryWorkersCount      int64 `json:"recovery_workers_count" env:"SETTLEMENT_RECOVERY_WORKERS_COUNT" envDefault:"3"`
	RecoveryBatchSize         int   `json:"recovery_batch_size" env:"SETTLEMENT_RECOVERY_BATCH_SIZE" envDefault:"100"`
	ProcessingTimeoutSeconds  int   `json:"processing_timeout_seconds" env:"SETTLEMENT_PROCESSING_TIMEOUT_SECONDS" envDefault:"60"`
}

func MustNewConfig() *Config {
	c := &Config{}
	env.Parse(c)

	return c
}
