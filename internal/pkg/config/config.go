package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// StoreBackend selects the ledger store implementation: "mongo" or
	// "postgres".
	StoreBackend string `env:"STORE_BACKEND" envDefault:"mongo"`

	MongoURI          string `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	MongoDatabase     string `env:"MONGO_DATABASE" envDefault:"items"`
	HotCollection     string `env:"HOT_COLLECTION" envDefault:"ledger_line_items"`
	ArchiveCollection string `env:"ARCHIVE_COLLECTION" envDefault:"archived_items"`
	SummaryCollection string `env:"SUMMARY_COLLECTION" envDefault:"compressed_transactions"`
	// MongoTransactions toggles multi-document transactions; requires a
	// replica set. Disable against a standalone dev server.
	MongoTransactions bool `env:"MONGO_TRANSACTIONS" envDefault:"true"`

	PostgresURL string `env:"POSTGRES_URL"`

	DaysThreshold int `env:"DAYS_THRESHOLD" envDefault:"30"`
	WorkerCount   int `env:"WORKER_COUNT" envDefault:"4"`

	// RedisAddr enables the per-client compaction lease when set. Leave
	// empty when single-writer scheduling is guaranteed by the caller.
	RedisAddr string        `env:"REDIS_ADDR"`
	LeaseTTL  time.Duration `env:"LEASE_TTL" envDefault:"2m"`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9091"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.StoreBackend != "mongo" && cfg.StoreBackend != "postgres" {
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if cfg.StoreBackend == "postgres" && cfg.PostgresURL == "" {
		return nil, fmt.Errorf("POSTGRES_URL is required for the postgres backend")
	}

	return cfg, nil
}
