// Package config loads application configuration from environment
// variables into tagged structs.
//
// It wraps github.com/joho/godotenv and github.com/caarlos0/env/v11: the
// default .env file is loaded once per process, then env.Parse fills any
// struct annotated with `env` tags. Each configuration type is parsed at
// most once and cached, so repeated loads across packages are cheap.
//
//	type WorkerConfig struct {
//	    BatchSize int           `env:"QUEUE_BATCH_SIZE" envDefault:"10"`
//	    Interval  time.Duration `env:"QUEUE_PROCESSING_INTERVAL" envDefault:"5s"`
//	}
//
//	var cfg WorkerConfig
//	config.MustLoad(&cfg)
//
// Use Reset in tests that change the environment between loads.
package config
