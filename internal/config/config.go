package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the bot and supporting services.
type Config struct {
	BotToken                     string
	PostgresDSN                  string
	RedisAddr                    string
	RedisPassword                string
	RedisDB                      int
	OpenAIAPIKey                 string
	OpenAIBaseURL                string
	OpenAIModel                  string
	SearchBaseURL                string
	SearchRegion                 string
	SearchSafety                 string
	FetchTimeout                 time.Duration
	FreeDailyTokens              int64
	TrialDays                    int
	TokenUnitCost                float64
	ReferralBonusTokens          int64
	HistoryLimit                 int
	AssistantCacheTTL            time.Duration
	MonthPriceMinorUnits         int
	PaymentCurrency              string
	PaymentProvider              string
	TelegramPaymentProviderToken string
	YooKassaShopID               string
	YooKassaSecretKey            string
	YooKassaReturnURL            string
	RenewalSweepInterval         time.Duration
	AdminListenAddr              string
	AdminUsername                string
	AdminPassword                string
	Debug                        bool
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		RedisAddr:            getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		OpenAIBaseURL:        getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		SearchBaseURL:        getEnv("SEARCH_BASE_URL", ""),
		SearchRegion:         getEnv("SEARCH_REGION", "ru-ru"),
		SearchSafety:         getEnv("SEARCH_SAFETY", "moderate"),
		FetchTimeout:         time.Second * time.Duration(getInt("FETCH_TIMEOUT_SECONDS", 10)),
		FreeDailyTokens:      getInt64("FREE_DAILY_TOKENS", 30000),
		TrialDays:            getInt("TRIAL_DAYS", 3),
		TokenUnitCost:        getFloat("TOKEN_UNIT_COST", 0.000001),
		ReferralBonusTokens:  getInt64("REFERRAL_BONUS_TOKENS", 100000),
		HistoryLimit:         getInt("HISTORY_LIMIT", 10),
		AssistantCacheTTL:    time.Second * time.Duration(getInt("ASSISTANT_CACHE_TTL_SECONDS", 30)),
		MonthPriceMinorUnits: getInt("MONTH_PRICE_MINOR_UNITS", 39900),
		PaymentCurrency:      getEnv("PAYMENT_CURRENCY", "RUB"),
		PaymentProvider:      strings.ToLower(getEnv("PAYMENT_PROVIDER", "telegram")),
		YooKassaShopID:       getEnv("YOOKASSA_SHOP_ID", ""),
		YooKassaSecretKey:    getEnv("YOOKASSA_SECRET_KEY", ""),
		YooKassaReturnURL:    getEnv("YOOKASSA_RETURN_URL", ""),
		RenewalSweepInterval: time.Minute * time.Duration(getInt("RENEWAL_SWEEP_MINUTES", 30)),
		AdminListenAddr:      getEnv("ADMIN_LISTEN_ADDR", ":8080"),
		AdminUsername:        getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:        getEnv("ADMIN_PASSWORD", "change-me"),
		Debug:                getBool("DEBUG", false),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.PostgresDSN = os.Getenv("POSTGRES_DSN")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.TelegramPaymentProviderToken = os.Getenv("TELEGRAM_PAYMENT_PROVIDER_TOKEN")

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.PostgresDSN == "" {
		missing = append(missing, "POSTGRES_DSN")
	}
	if cfg.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if cfg.PaymentProvider == "telegram" && cfg.TelegramPaymentProviderToken == "" {
		missing = append(missing, "TELEGRAM_PAYMENT_PROVIDER_TOKEN")
	}
	if cfg.PaymentProvider == "yookassa" {
		if cfg.YooKassaShopID == "" {
			missing = append(missing, "YOOKASSA_SHOP_ID")
		}
		if cfg.YooKassaSecretKey == "" {
			missing = append(missing, "YOOKASSA_SECRET_KEY")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// Environment variables alone are a valid configuration source.
	return nil
}
