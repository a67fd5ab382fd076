package queue

import "time"

// Config holds the configuration for the work queue subsystem.
type Config struct {
	BatchSize          int           `env:"QUEUE_BATCH_SIZE" envDefault:"10"`
	MaxWorkers         int           `env:"QUEUE_MAX_WORKERS" envDefault:"5"`
	ProcessingInterval time.Duration `env:"QUEUE_PROCESSING_INTERVAL" envDefault:"5s"`
	LockTimeout        time.Duration `env:"QUEUE_LOCK_TIMEOUT" envDefault:"5m"`
	ShutdownTimeout    time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	MaxRetries        int8          `env:"QUEUE_MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay    time.Duration `env:"QUEUE_RETRY_BASE_DELAY" envDefault:"30s"`
	RetryMaxDelay     time.Duration `env:"QUEUE_RETRY_MAX_DELAY" envDefault:"30m"`
	BackoffMultiplier float64       `env:"QUEUE_BACKOFF_MULTIPLIER" envDefault:"2"`

	MonitoringInterval time.Duration `env:"QUEUE_MONITORING_INTERVAL" envDefault:"30s"`

	QueueSizeThreshold      int64         `env:"QUEUE_ALERT_QUEUE_SIZE" envDefault:"100"`
	ProcessingTimeThreshold time.Duration `env:"QUEUE_ALERT_PROCESSING_TIME" envDefault:"30s"`
	FailureRateThreshold    float64       `env:"QUEUE_ALERT_FAILURE_RATE" envDefault:"0.1"`
	DeadLetterRateThreshold float64       `env:"QUEUE_ALERT_DEAD_LETTER_RATE" envDefault:"0.05"`

	AutoRetryAllowlist []string `env:"QUEUE_AUTO_RETRY_ALLOWLIST" envSeparator:","`
	MaxAutoRetries     int8     `env:"QUEUE_MAX_AUTO_RETRIES" envDefault:"3"`
}
