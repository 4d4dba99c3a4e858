package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.PostingLockTTL)
	require.Equal(t, 5, cfg.PostingMaxAttempts)
	require.Equal(t, "EXPENSE", cfg.PostingFeedCosting)
	require.False(t, cfg.KafkaEnabled())
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("POSTING_FEED_COSTING", "capitalize")
	t.Setenv("APP_ENV", "production")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.KafkaEnabled())
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	require.True(t, cfg.IsProduction())
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"POSTING_FEED_COSTING": "FIFO",
		"POSTING_LOCK_TTL":     "0s",
		"POSTING_RETRY_MAX":    "1s",
		"LOG_LEVEL":            "verbose",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestConfigConnectionSettings(t *testing.T) {
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("PG_MAX_CONNS", "20")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	pg := cfg.Postgres("worker")
	require.Equal(t, cfg.PGDSN, pg.DSN)
	require.Equal(t, int32(20), pg.MaxConns)
	require.Equal(t, 5*time.Minute, pg.MaxConnIdleTime)
	require.Equal(t, "farmledger-worker", pg.ApplicationName)

	redis := cfg.Redis()
	require.Equal(t, "redis:6380", redis.Addr)
	require.Equal(t, 3, redis.DB)
	require.Equal(t, redis.Addr, redis.Asynq().Addr)
}
