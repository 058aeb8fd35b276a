package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEEPLUX_DB_DSN", "postgres://localhost:5432/deeplux")
	t.Setenv("DEEPLUX_JWT_SECRET", "test-secret")
	t.Setenv("DEEPLUX_STRIPE_API_KEY", "sk_test_123")
	t.Setenv("DEEPLUX_STRIPE_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("DEEPLUX_CONEKTA_WEBHOOK_SECRET", "conekta_123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, 8080, cfg.App.Port)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 25, cfg.DB.MaxOpenConns)
	assert.Equal(t, 60, cfg.Cron.IntervalMinutes)
	assert.Equal(t, 500, cfg.Cron.ReconcileLimit)
	assert.Equal(t, "deeplux", cfg.JWT.Issuer)
	assert.False(t, cfg.Features.AutoMigrate)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DEEPLUX_DB_DSN", "")
	t.Setenv("DEEPLUX_JWT_SECRET", "")
	t.Setenv("DEEPLUX_STRIPE_API_KEY", "")
	t.Setenv("DEEPLUX_STRIPE_WEBHOOK_SECRET", "")
	t.Setenv("DEEPLUX_CONEKTA_WEBHOOK_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DEEPLUX_DB_DSN", "postgres://localhost:5432/deeplux")
	t.Setenv("DEEPLUX_JWT_SECRET", "test-secret")
	t.Setenv("DEEPLUX_STRIPE_API_KEY", "sk_test_123")
	t.Setenv("DEEPLUX_STRIPE_WEBHOOK_SECRET", "whsec_123")
	t.Setenv("DEEPLUX_CONEKTA_WEBHOOK_SECRET", "conekta_123")
	t.Setenv("DEEPLUX_PORT", "9090")
	t.Setenv("DEEPLUX_CRON_RECONCILE_LIMIT", "50")
	t.Setenv("DEEPLUX_FEATURE_AUTO_MIGRATE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, 50, cfg.Cron.ReconcileLimit)
	assert.True(t, cfg.Features.AutoMigrate)
}
