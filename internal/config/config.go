// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	model "auction-service/internal/models"

	"github.com/caarlos0/env/v11"
)

// Config holds every tunable of the auction service
type Config struct {
	Port     string `env:"PORT"      envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	StoreDriver  string        `env:"STORE_DRIVER"  envDefault:"memory"`
	SQLitePath   string        `env:"SQLITE_PATH"   envDefault:"auction.db"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"2s"`

	NotifyDriver      string   `env:"NOTIFY_DRIVER"       envDefault:"log"`
	KafkaBrokers      []string `env:"KAFKA_BROKERS"       envSeparator:","`
	KafkaTopic        string   `env:"KAFKA_TOPIC"         envDefault:"auction-events"`
	RedisAddr         string   `env:"REDIS_ADDR"          envDefault:"localhost:6379"`
	RedisStream       string   `env:"REDIS_STREAM"        envDefault:"auction:events"`
	RedisStreamMaxLen int64    `env:"REDIS_STREAM_MAXLEN" envDefault:"100000"`
	NotifyWorkers     int      `env:"NOTIFY_WORKERS"      envDefault:"4"`
	NotifyQueueSize   int      `env:"NOTIFY_QUEUE_SIZE"   envDefault:"1024"`
	NotifyMaxAttempts uint     `env:"NOTIFY_MAX_ATTEMPTS" envDefault:"5"`

	MaxBidAttempts     uint          `env:"MAX_BID_ATTEMPTS"     envDefault:"5"`
	RetryBaseDelay     time.Duration `env:"RETRY_BASE_DELAY"     envDefault:"10ms"`
	RecordRejectedBids bool          `env:"RECORD_REJECTED_BIDS" envDefault:"false"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL"       envDefault:"1s"`

	// KnownBidders enables the bidder check; empty disables it.
	KnownBidders []string `env:"KNOWN_BIDDERS" envSeparator:","`

	CatalogURL     string        `env:"CATALOG_URL"`
	CatalogTimeout time.Duration `env:"CATALOG_TIMEOUT" envDefault:"3s"`
	// SeedProducts lists "product_id:sale_window" pairs, e.g. "p1:24h,p2:30m".
	SeedProducts []string `env:"SEED_PRODUCTS" envSeparator:"," envDefault:"product1:24h,product2:24h,product3:1h"`
}

// Load parses the environment and validates the result
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with
func (c Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case "memory":
	case "sqlite":
		if strings.TrimSpace(c.SQLitePath) == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}

	switch c.NotifyDriver {
	case "log":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("KAFKA_BROKERS is required for the kafka notifier"))
		}
		if c.KafkaTopic == "" {
			errs = append(errs, errors.New("KAFKA_TOPIC is required for the kafka notifier"))
		}
	case "redis":
		if c.RedisAddr == "" || c.RedisStream == "" {
			errs = append(errs, errors.New("REDIS_ADDR and REDIS_STREAM are required for the redis notifier"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown NOTIFY_DRIVER %q", c.NotifyDriver))
	}

	if c.MaxBidAttempts == 0 {
		errs = append(errs, errors.New("MAX_BID_ATTEMPTS must be at least 1"))
	}
	if c.NotifyWorkers <= 0 || c.NotifyQueueSize <= 0 || c.NotifyMaxAttempts == 0 {
		errs = append(errs, errors.New("NOTIFY_WORKERS, NOTIFY_QUEUE_SIZE and NOTIFY_MAX_ATTEMPTS must be positive"))
	}
	if c.StoreTimeout <= 0 || c.SweepInterval <= 0 || c.RetryBaseDelay < 0 {
		errs = append(errs, errors.New("STORE_TIMEOUT and SWEEP_INTERVAL must be positive"))
	}
	if _, err := c.Products(time.Now()); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Addr returns the listen address for the HTTP server
func (c Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Port, ":")
}

// Products expands SeedProducts into catalog entries released at now
func (c Config) Products(now time.Time) ([]model.Product, error) {
	products := make([]model.Product, 0, len(c.SeedProducts))
	for _, entry := range c.SeedProducts {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		id, window, ok := strings.Cut(entry, ":")
		if !ok || id == "" {
			return nil, fmt.Errorf("SEED_PRODUCTS entry %q: want product_id:duration", entry)
		}
		d, err := time.ParseDuration(window)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("SEED_PRODUCTS entry %q: invalid sale window", entry)
		}
		products = append(products, model.Product{
			ProductID:   id,
			ReleaseDate: now.UTC().Truncate(time.Millisecond),
			ExpiryDate:  now.UTC().Add(d).Truncate(time.Millisecond),
		})
	}
	return products, nil
}
