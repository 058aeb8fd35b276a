// Package config loads application configuration from the environment.
package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "DEEPLUX"

// AppConfig holds process-wide settings.
type AppConfig struct {
	Env          string `envconfig:"ENV" default:"development"`
	Port         int    `envconfig:"PORT" default:"8080"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"LOG_WARN_STACK" default:"false"`
}

// IsDev reports whether the process runs in a development environment.
func (a AppConfig) IsDev() bool {
	return a.Env == "development" || a.Env == "local"
}

// DBConfig holds the Postgres connection settings.
type DBConfig struct {
	DSN             string `envconfig:"DB_DSN" required:"true"`
	MaxOpenConns    int    `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int    `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime int    `envconfig:"DB_CONN_MAX_LIFETIME_MINUTES" default:"30"`
}

// RedisConfig holds the Redis connection settings used for cron locking.
type RedisConfig struct {
	URL      string `envconfig:"REDIS_URL" default:"redis://localhost:6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// JWTConfig holds the token verification settings.
type JWTConfig struct {
	Secret            string `envconfig:"JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"JWT_ISSUER" default:"deeplux"`
	ExpirationMinutes int    `envconfig:"JWT_EXPIRATION_MINUTES" default:"60"`
}

// StripeConfig holds credentials for the card processor.
type StripeConfig struct {
	APIKey        string `envconfig:"STRIPE_API_KEY" required:"true"`
	WebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET" required:"true"`
	Env           string `envconfig:"STRIPE_ENV" default:"test"`
}

// ConektaConfig holds credentials for the cash and transfer processor.
type ConektaConfig struct {
	APIKey        string `envconfig:"CONEKTA_API_KEY" default:""`
	WebhookSecret string `envconfig:"CONEKTA_WEBHOOK_SECRET" required:"true"`
}

// CronConfig holds settings for the reconciliation worker.
type CronConfig struct {
	Secret          string `envconfig:"CRON_SECRET" default:""`
	IntervalMinutes int    `envconfig:"CRON_INTERVAL_MINUTES" default:"60"`
	ReconcileLimit  int    `envconfig:"CRON_RECONCILE_LIMIT" default:"500"`
	GraceDays       int    `envconfig:"CRON_GRACE_DAYS" default:"3"`
}

// SiteConfig holds URLs for checkout redirects.
type SiteConfig struct {
	URL string `envconfig:"SITE_URL" default:"http://localhost:3000"`
}

// FeatureFlags toggles optional startup behavior.
type FeatureFlags struct {
	AutoMigrate bool `envconfig:"FEATURE_AUTO_MIGRATE" default:"false"`
}

// Config is the root configuration tree.
type Config struct {
	App      AppConfig
	DB       DBConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Stripe   StripeConfig
	Conekta  ConektaConfig
	Cron     CronConfig
	Site     SiteConfig
	Features FeatureFlags
}

// Load reads configuration from the environment. A .env file is honored
// when present so local development does not need exported variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process env config: %w", err)
	}
	return &cfg, nil
}
