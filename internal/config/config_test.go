package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"REDIS_ADDR", "STORE_TIMEOUT", "GATEWAY_API_URL", "WEBHOOK_KEY", "RATE_LIMIT_ENABLED"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 5*time.Second, cfg.Reconcile.StoreTimeout)
	assert.Equal(t, 15*time.Second, cfg.Gateway.APITimeout)
	assert.Equal(t, "2checkout", cfg.Reconcile.WebhookKey)
	assert.Equal(t, "https://www.2checkout.com/api", cfg.Gateway.APIBaseURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDIS_ADDR", " localhost:6379 ")
	t.Setenv("STORE_TIMEOUT", "250ms")
	t.Setenv("GATEWAY_API_URL", "https://sandbox.2checkout.com/api/")
	t.Setenv("WEBHOOK_KEY", "TwoCheckout")
	t.Setenv("GATEWAY_SANDBOX", "yes")
	t.Setenv("RATE_LIMIT_WEBHOOK_RATE", "2.5")

	cfg := Load()

	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.Reconcile.StoreTimeout)
	assert.Equal(t, "https://sandbox.2checkout.com/api", cfg.Gateway.APIBaseURL)
	assert.Equal(t, "twocheckout", cfg.Reconcile.WebhookKey)
	assert.True(t, cfg.Gateway.SandboxMode)
	assert.Equal(t, 2.5, cfg.RateLimit.Rate)
}

func TestGetenvDurationRejectsNonPositive(t *testing.T) {
	t.Setenv("STORE_TIMEOUT", "-1s")
	assert.Equal(t, time.Second, getenvDuration("STORE_TIMEOUT", time.Second))
}
