package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "test-token")
	t.Setenv("POSTGRES_DSN", "postgres://localhost/test")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TELEGRAM_PAYMENT_PROVIDER_TOKEN", "pay-token")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAIModel)
	assert.Equal(t, int64(30000), cfg.FreeDailyTokens)
	assert.Equal(t, 3, cfg.TrialDays)
	assert.Equal(t, 10, cfg.HistoryLimit)
	assert.Equal(t, 39900, cfg.MonthPriceMinorUnits)
	assert.Equal(t, "RUB", cfg.PaymentCurrency)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout)
	assert.Equal(t, "ru-ru", cfg.SearchRegion)
	assert.InDelta(t, 0.000001, cfg.TokenUnitCost, 1e-12)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("POSTGRES_DSN", "")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
	assert.Contains(t, err.Error(), "POSTGRES_DSN")
	assert.Contains(t, err.Error(), "OPENAI_API_KEY")
}

func TestLoad_YooKassaRequiresCredentials(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PAYMENT_PROVIDER", "yookassa")
	t.Setenv("YOOKASSA_SHOP_ID", "")
	t.Setenv("YOOKASSA_SECRET_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YOOKASSA_SHOP_ID")
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("FREE_DAILY_TOKENS", "50000")
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	t.Setenv("HISTORY_LIMIT", "20")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, int64(50000), cfg.FreeDailyTokens)
	assert.Equal(t, "gpt-4o", cfg.OpenAIModel)
	assert.Equal(t, 20, cfg.HistoryLimit)
}
