/**
 * @description
 * This package handles the configuration management for the ledger-service. It uses
 * the Viper library to read configuration from environment variables and an optional
 * .env file. Values are loaded once at startup and never change afterwards.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - github.com/shopspring/decimal: For commission rates and KWD amounts.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const filsPerKWD = 1000

// Config holds all the configuration variables for the ledger-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	Environment          string `mapstructure:"ENVIRONMENT"`
	DatabaseDriver       string `mapstructure:"DATABASE_DRIVER"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	SQLitePath           string `mapstructure:"SQLITE_PATH"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	EventExchange        string `mapstructure:"EVENT_EXCHANGE"`
	LedgerEventQueue     string `mapstructure:"LEDGER_EVENT_QUEUE"`
	ClerkJWKSURL         string `mapstructure:"CLERK_JWKS_URL"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`

	// Rates are parsed from strings so they never pass through float64.
	ReferralBaseRate     decimal.Decimal `mapstructure:"-"`
	ReferralLevel2Factor decimal.Decimal `mapstructure:"-"`
	ReferralLevel3Factor decimal.Decimal `mapstructure:"-"`
	VendorCommissionRate decimal.Decimal `mapstructure:"-"`

	SignupBonusFils   int64 `mapstructure:"SIGNUP_BONUS_FILS"`
	MinWithdrawalFils int64 `mapstructure:"MIN_WITHDRAWAL_FILS"`

	InstantCreditReferral    bool `mapstructure:"INSTANT_CREDIT_REFERRAL"`
	InstantCreditSignupBonus bool `mapstructure:"INSTANT_CREDIT_SIGNUP_BONUS"`
	InstantCreditVendor      bool `mapstructure:"INSTANT_CREDIT_VENDOR"`

	FanoutConcurrency               int    `mapstructure:"FANOUT_CONCURRENCY"`
	WithdrawalRateLimitPerHour      int    `mapstructure:"WITHDRAWAL_RATE_LIMIT_PER_HOUR"`
	WithdrawalAutoProcessAfterHours int    `mapstructure:"WITHDRAWAL_AUTO_PROCESS_AFTER_HOURS"`
	WithdrawalAutoProcessSchedule   string `mapstructure:"WITHDRAWAL_AUTO_PROCESS_SCHEDULE"`

	LogFile      string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB int    `mapstructure:"LOG_MAX_SIZE_MB"`
}

var rateDefaults = map[string]string{
	"REFERRAL_BASE_RATE":     "0.05",
	"REFERRAL_LEVEL2_FACTOR": "0.5",
	"REFERRAL_LEVEL3_FACTOR": "0.25",
	"VENDOR_COMMISSION_RATE": "0.10",
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("SQLITE_PATH", "ledger.db")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "sooqkabeer:rate_limit")
	viper.SetDefault("EVENT_EXCHANGE", "sooqkabeer.events")
	viper.SetDefault("LEDGER_EVENT_QUEUE", "ledger_service.events")
	for key, value := range rateDefaults {
		viper.SetDefault(key, value)
	}
	viper.SetDefault("SIGNUP_BONUS_FILS", 5000)
	viper.SetDefault("MIN_WITHDRAWAL_FILS", 5000)
	viper.SetDefault("INSTANT_CREDIT_REFERRAL", true)
	viper.SetDefault("INSTANT_CREDIT_SIGNUP_BONUS", true)
	viper.SetDefault("INSTANT_CREDIT_VENDOR", false)
	viper.SetDefault("FANOUT_CONCURRENCY", 4)
	viper.SetDefault("WITHDRAWAL_RATE_LIMIT_PER_HOUR", 10)
	viper.SetDefault("WITHDRAWAL_AUTO_PROCESS_AFTER_HOURS", 24)
	viper.SetDefault("WITHDRAWAL_AUTO_PROCESS_SCHEDULE", "*/15 * * * *")
	viper.SetDefault("LOG_MAX_SIZE_MB", 100)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("ENVIRONMENT", "ENVIRONMENT", "APP_ENV")
	_ = viper.BindEnv("DATABASE_DRIVER")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("SQLITE_PATH")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "LEDGER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENT_EXCHANGE")
	_ = viper.BindEnv("LEDGER_EVENT_QUEUE")
	_ = viper.BindEnv("CLERK_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "LEDGER_SERVICE_INTERNAL_API_KEY")
	for key := range rateDefaults {
		_ = viper.BindEnv(key)
	}
	_ = viper.BindEnv("SIGNUP_BONUS_FILS")
	_ = viper.BindEnv("SIGNUP_BONUS")
	_ = viper.BindEnv("MIN_WITHDRAWAL_FILS")
	_ = viper.BindEnv("MIN_WITHDRAWAL")
	_ = viper.BindEnv("INSTANT_CREDIT_REFERRAL")
	_ = viper.BindEnv("INSTANT_CREDIT_SIGNUP_BONUS")
	_ = viper.BindEnv("INSTANT_CREDIT_VENDOR")
	_ = viper.BindEnv("FANOUT_CONCURRENCY")
	_ = viper.BindEnv("WITHDRAWAL_RATE_LIMIT_PER_HOUR")
	_ = viper.BindEnv("WITHDRAWAL_AUTO_PROCESS_AFTER_HOURS")
	_ = viper.BindEnv("WITHDRAWAL_AUTO_PROCESS_SCHEDULE")
	_ = viper.BindEnv("LOG_FILE")
	_ = viper.BindEnv("LOG_MAX_SIZE_MB")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("LEDGER_SERVICE_INTERNAL_API_KEY"))
	}
	config.InternalAPIKey = strings.TrimSpace(config.InternalAPIKey)
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "sooqkabeer:rate_limit"
	}

	config.DatabaseDriver = strings.ToLower(strings.TrimSpace(config.DatabaseDriver))
	if config.DatabaseDriver == "" {
		if config.DatabaseURL != "" {
			config.DatabaseDriver = "postgres"
		} else {
			config.DatabaseDriver = "sqlite"
		}
	}

	config.ReferralBaseRate = loadRate("REFERRAL_BASE_RATE", decimal.NewFromInt(1))
	config.ReferralLevel2Factor = loadRate("REFERRAL_LEVEL2_FACTOR", decimal.NewFromInt(1))
	config.ReferralLevel3Factor = loadRate("REFERRAL_LEVEL3_FACTOR", decimal.NewFromInt(1))
	config.VendorCommissionRate = loadRate("VENDOR_COMMISSION_RATE", decimal.NewFromInt(1))

	// Allow specifying amounts in whole KWD via SIGNUP_BONUS and MIN_WITHDRAWAL.
	if fils, ok := loadKWD("SIGNUP_BONUS"); ok {
		config.SignupBonusFils = fils
	}
	if fils, ok := loadKWD("MIN_WITHDRAWAL"); ok {
		config.MinWithdrawalFils = fils
	}

	if config.SignupBonusFils < 0 {
		log.Printf("level=warn component=config msg=\"negative signup bonus configured; coercing to zero\" signup_bonus_fils=%d", config.SignupBonusFils)
		config.SignupBonusFils = 0
	}
	if config.MinWithdrawalFils <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive minimum withdrawal configured; using default\" min_withdrawal_fils=%d", config.MinWithdrawalFils)
		config.MinWithdrawalFils = 5000
	}
	if config.FanoutConcurrency <= 0 {
		config.FanoutConcurrency = 4
	}
	if config.WithdrawalRateLimitPerHour < 0 {
		config.WithdrawalRateLimitPerHour = 0
	}
	if config.WithdrawalAutoProcessAfterHours < 0 {
		config.WithdrawalAutoProcessAfterHours = 0
	}
	if strings.TrimSpace(config.WithdrawalAutoProcessSchedule) == "" {
		config.WithdrawalAutoProcessSchedule = "*/15 * * * *"
	}
	if config.LogMaxSizeMB <= 0 {
		config.LogMaxSizeMB = 100
	}

	return
}

// loadRate parses a decimal rate in [0, max]. Anything else falls back to the default.
func loadRate(key string, max decimal.Decimal) decimal.Decimal {
	fallback := decimal.RequireFromString(rateDefaults[key])
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return fallback
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		log.Printf("level=warn component=config msg=\"invalid rate; using default\" key=%s value=%q default=%s err=%v", key, raw, fallback, err)
		return fallback
	}
	if rate.IsNegative() || rate.GreaterThan(max) {
		log.Printf("level=warn component=config msg=\"rate out of range; using default\" key=%s value=%s default=%s", key, rate, fallback)
		return fallback
	}
	return rate
}

// loadKWD converts a whole-currency value to fils. ok is false when the key is unset or
// invalid.
func loadKWD(key string) (int64, bool) {
	if !viper.IsSet(key) {
		return 0, false
	}
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return 0, false
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		log.Printf("level=warn component=config msg=\"invalid KWD amount\" key=%s value=%q err=%v", key, raw, err)
		return 0, false
	}
	return amount.Mul(decimal.NewFromInt(filsPerKWD)).Round(0).IntPart(), true
}
