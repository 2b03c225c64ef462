package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Addr())
	require.Equal(t, "memory", cfg.StoreDriver)
	require.Equal(t, "log", cfg.NotifyDriver)
	require.Equal(t, uint(5), cfg.MaxBidAttempts)
	require.Equal(t, 2*time.Second, cfg.StoreTimeout)
	require.Empty(t, cfg.KnownBidders)
	require.Len(t, cfg.SeedProducts, 3)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/a.db")
	t.Setenv("NOTIFY_DRIVER", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("KNOWN_BIDDERS", "user1,user2")
	t.Setenv("RECORD_REJECTED_BIDS", "true")
	t.Setenv("SWEEP_INTERVAL", "250ms")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.Addr())
	require.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	require.Equal(t, []string{"user1", "user2"}, cfg.KnownBidders)
	require.True(t, cfg.RecordRejectedBids)
	require.Equal(t, 250*time.Millisecond, cfg.SweepInterval)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("STORE_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Port: "8080", StoreDriver: "memory", NotifyDriver: "log",
			NotifyWorkers: 1, NotifyQueueSize: 1, NotifyMaxAttempts: 1,
			MaxBidAttempts: 1, StoreTimeout: time.Second, SweepInterval: time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown_store", mutate: func(c *Config) { c.StoreDriver = "postgres" }, wantErr: "STORE_DRIVER"},
		{name: "sqlite_without_path", mutate: func(c *Config) { c.StoreDriver = "sqlite" }, wantErr: "SQLITE_PATH"},
		{name: "kafka_without_brokers", mutate: func(c *Config) { c.NotifyDriver = "kafka"; c.KafkaTopic = "t" }, wantErr: "KAFKA_BROKERS"},
		{name: "unknown_notifier", mutate: func(c *Config) { c.NotifyDriver = "smtp" }, wantErr: "NOTIFY_DRIVER"},
		{name: "zero_attempts", mutate: func(c *Config) { c.MaxBidAttempts = 0 }, wantErr: "MAX_BID_ATTEMPTS"},
		{name: "bad_seed", mutate: func(c *Config) { c.SeedProducts = []string{"p1"} }, wantErr: "SEED_PRODUCTS"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestConfig_Products(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	cfg := Config{SeedProducts: []string{"p1:24h", " ", "p2:30m"}}

	products, err := cfg.Products(now)
	require.NoError(t, err)
	require.Len(t, products, 2)
	require.Equal(t, "p1", products[0].ProductID)
	require.True(t, now.Equal(products[0].ReleaseDate))
	require.True(t, now.Add(30*time.Minute).Equal(products[1].ExpiryDate))

	_, err = Config{SeedProducts: []string{"p1:-1h"}}.Products(now)
	require.Error(t, err)
}
