package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, 2.50, cfg.Business.MinimumCost)
	assert.Equal(t, "usd", cfg.Business.Currency)
	assert.Equal(t, 3, cfg.Gateway.MaxAttempts)
	assert.Equal(t, 60*time.Second, cfg.Business.ReconcileInterval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MINIMUM_COST", "3.00")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("GATEWAY_RETRY_BACKOFF_MS", "50")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_ENABLED", "false")

	cfg := Load()

	assert.Equal(t, 3.00, cfg.Business.MinimumCost)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 50*time.Millisecond, cfg.Gateway.RetryBackoff)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Redis.Enabled)
}

func TestMalformedNumbersFallBack(t *testing.T) {
	t.Setenv("MAX_SEARCH_RESULTS", "lots")
	assert.Equal(t, 50, Load().Business.MaxSearchResults)
}
