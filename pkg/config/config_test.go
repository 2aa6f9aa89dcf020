package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatflowers/billsync/pkg/types"
)

func writeConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("APP_CONFIG_FILE", path)
}

func TestNewReadsFileAndEnv(t *testing.T) {
	writeConfig(t, `
server:
  port: 9000
billing:
  prices:
    monthly: price_m
  price_lookup_keys:
    yearly: pro_yearly
  trial_days: 14
ratelimit:
  limit: 10
`)
	t.Setenv("APP_STRIPE_SECRET_KEY", "sk_test")
	t.Setenv("APP_STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("APP_RECONCILE_CRON_SECRET", "cron")

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "sk_test", cfg.Stripe.SecretKey)
	assert.Equal(t, "cron", cfg.Reconcile.CronSecret)
	assert.Equal(t, 10, cfg.RateLimit.Limit)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 72*time.Hour, cfg.Idempotency.TTL)
	assert.Equal(t, int64(14), cfg.Billing.TrialDays)

	assert.Equal(t, "price_m", cfg.PriceID(types.BillingCycleMonthly))
	assert.Empty(t, cfg.PriceID(types.BillingCycleYearly))
	assert.Equal(t, "pro_yearly", cfg.PriceLookupKey(types.BillingCycleYearly))
}

func TestNewRejectsMissingSecrets(t *testing.T) {
	writeConfig(t, "server:\n  port: 9000\n")

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stripe.secret_key")
	assert.Contains(t, err.Error(), "reconcile.cron_secret")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Stripe:      StripeConfig{SecretKey: "sk", WebhookSecret: "whsec"},
			Reconcile:   ReconcileConfig{CronSecret: "cron"},
			Idempotency: IdempotencyConfig{TTL: 72 * time.Hour},
			RateLimit:   RateLimitConfig{Limit: 5, Window: time.Minute},
		}
	}
	require.NoError(t, valid().Validate())

	short := valid()
	short.Idempotency.TTL = time.Minute
	assert.ErrorContains(t, short.Validate(), "idempotency.ttl")

	noLimit := valid()
	noLimit.RateLimit.Limit = 0
	assert.ErrorContains(t, noLimit.Validate(), "ratelimit")
}
