package config

import (
	"github.com/stretchr/testify/assert"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, []string{"kafka:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Breaker.CoolDown)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("STORE_BACKEND", "MEMORY")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("BREAKER_FAILURE_RATE", "0.25")
	t.Setenv("BREAKER_COOLDOWN", "750ms")
	t.Setenv("RECONCILE_WORKERS", "not-a-number")

	cfg := Load()

	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, uint(5), cfg.RetryPolicy().MaxAttempts)
	assert.Equal(t, 0.25, cfg.BreakerSettings().FailureRate)
	assert.Equal(t, 750*time.Millisecond, cfg.BreakerSettings().CoolDown)
	assert.Equal(t, 4, cfg.ReconcileWorkers)
}

func TestRetryPolicy_AtLeastOneAttempt(t *testing.T) {
	t.Setenv("RETRY_MAX_ATTEMPTS", "0")
	assert.Equal(t, uint(1), Load().RetryPolicy().MaxAttempts)
}
