package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.03", cfg.Business.FeeRate.String())
	assert.Equal(t, "KES", cfg.Business.Currency)
	assert.Equal(t, 10*time.Second, cfg.Business.LockTTL)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.True(t, cfg.Gateway.Sandbox)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PLATFORM_FEE_RATE", "0.05")
	t.Setenv("CURRENCY", "ugx")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("PAYMENT_SANDBOX", "false")
	t.Setenv("PAYMENT_GATEWAY_URL", "https://pay.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.05", cfg.Business.FeeRate.String())
	assert.Equal(t, "UGX", cfg.Business.Currency)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.Gateway.Sandbox)
}

func TestLoadFeeRates(t *testing.T) {
	for _, rate := range []string{"0", "0.025", "0.05", "0.999"} {
		t.Run(rate, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "secret")
			t.Setenv("PLATFORM_FEE_RATE", rate)

			cfg, err := Load()
			require.NoError(t, err)
			assert.True(t, cfg.Business.FeeRate.Equal(decimal.RequireFromString(rate)))
		})
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"missing secret": {"JWT_SECRET": ""},
		"fee rate":       {"PLATFORM_FEE_RATE": "1.2"},
		"fee rate one":   {"PLATFORM_FEE_RATE": "1"},
		"negative fee":   {"PLATFORM_FEE_RATE": "-0.01"},
		"fee rate text":  {"PLATFORM_FEE_RATE": "three"},
		"lock ttl":       {"ORDER_LOCK_TTL": "soon"},
		"driver":         {"STORE_DRIVER": "sqlite"},
		"gateway url":    {"PAYMENT_SANDBOX": "false", "PAYMENT_GATEWAY_URL": ""},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "secret")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
