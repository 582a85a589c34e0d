package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port                     string   `mapstructure:"PORT"`
	Env                      string   `mapstructure:"ENV"`
	DatabaseURL              string   `mapstructure:"DATABASE_URL"`
	DBMaxConns               int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns               int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL                 string   `mapstructure:"REDIS_URL"`
	AMQPURL                  string   `mapstructure:"AMQP_URL"`
	NotificationQueue        string   `mapstructure:"NOTIFICATION_QUEUE"`
	AuthIssuer               string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL              string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience             string   `mapstructure:"AUTH_AUDIENCE"`
	AuthSigningKey           string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins              []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS             float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst           int      `mapstructure:"RATE_LIMIT_BURST"`
	Timezone                 string   `mapstructure:"TIMEZONE"`
	DefaultConsultationFee   string   `mapstructure:"DEFAULT_CONSULTATION_FEE"`
	PatientCancelNoticeHours int      `mapstructure:"PATIENT_CANCEL_NOTICE_HOURS"`
	RescheduleSearchDays     int      `mapstructure:"RESCHEDULE_SEARCH_DAYS"`
	RescheduleFallbackHour   int      `mapstructure:"RESCHEDULE_FALLBACK_HOUR"`
	ReminderCron             string   `mapstructure:"REMINDER_CRON"`
	ReminderHorizonHours     int      `mapstructure:"REMINDER_HORIZON_HOURS"`
	RefundRetryCron          string   `mapstructure:"REFUND_RETRY_CRON"`
	PaymentRecoveryCron      string   `mapstructure:"PAYMENT_RECOVERY_CRON"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("NOTIFICATION_QUEUE", "blume.notifications")
	v.SetDefault("CORS_ORIGINS", "http://localhost:4200")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("TIMEZONE", "America/Lima")
	v.SetDefault("DEFAULT_CONSULTATION_FEE", "0")
	v.SetDefault("PATIENT_CANCEL_NOTICE_HOURS", 24)
	v.SetDefault("RESCHEDULE_SEARCH_DAYS", 30)
	v.SetDefault("RESCHEDULE_FALLBACK_HOUR", 9)
	v.SetDefault("REMINDER_CRON", "@every 15m")
	v.SetDefault("REMINDER_HORIZON_HOURS", 24)
	v.SetDefault("REFUND_RETRY_CRON", "@every 1h")
	v.SetDefault("PAYMENT_RECOVERY_CRON", "@every 5m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"REDIS_URL", "AMQP_URL", "NOTIFICATION_QUEUE",
		"AUTH_ISSUER", "AUTH_JWKS_URL", "AUTH_AUDIENCE", "AUTH_SIGNING_KEY",
		"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"TIMEZONE", "DEFAULT_CONSULTATION_FEE", "PATIENT_CANCEL_NOTICE_HOURS",
		"RESCHEDULE_SEARCH_DAYS", "RESCHEDULE_FALLBACK_HOUR",
		"REMINDER_CRON", "REMINDER_HORIZON_HOURS", "REFUND_RETRY_CRON",
		"PAYMENT_RECOVERY_CRON",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode, requests without a token act as admin")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves TIMEZONE. Weekdays and times of day of schedule windows
// are interpreted in this location.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// ConsultationFee parses DEFAULT_CONSULTATION_FEE.
func (c *Config) ConsultationFee() (decimal.Decimal, error) {
	if c.DefaultConsultationFee == "" {
		return decimal.Zero, nil
	}
	fee, err := decimal.NewFromString(c.DefaultConsultationFee)
	if err != nil {
		return decimal.Zero, fmt.Errorf("DEFAULT_CONSULTATION_FEE is not a decimal: %w", err)
	}
	return fee, nil
}

// Validate checks that the configuration is safe to run. Outside development
// either AUTH_ISSUER or AUTH_SIGNING_KEY must be set so tokens are verified.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_ISSUER or AUTH_SIGNING_KEY must be set when ENV=%q", c.Env)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	fee, err := c.ConsultationFee()
	if err != nil {
		return err
	}
	if fee.IsNegative() {
		return fmt.Errorf("DEFAULT_CONSULTATION_FEE must not be negative")
	}
	if c.PatientCancelNoticeHours < 0 {
		return fmt.Errorf("PATIENT_CANCEL_NOTICE_HOURS must not be negative")
	}
	if c.RescheduleSearchDays <= 0 {
		return fmt.Errorf("RESCHEDULE_SEARCH_DAYS must be positive")
	}
	if c.RescheduleFallbackHour < 0 || c.RescheduleFallbackHour > 23 {
		return fmt.Errorf("RESCHEDULE_FALLBACK_HOUR must be between 0 and 23, got %d", c.RescheduleFallbackHour)
	}
	if c.ReminderHorizonHours <= 0 {
		return fmt.Errorf("REMINDER_HORIZON_HOURS must be positive")
	}
	if _, err := cron.ParseStandard(c.ReminderCron); err != nil {
		return fmt.Errorf("REMINDER_CRON is invalid: %w", err)
	}
	if _, err := cron.ParseStandard(c.RefundRetryCron); err != nil {
		return fmt.Errorf("REFUND_RETRY_CRON is invalid: %w", err)
	}
	if _, err := cron.ParseStandard(c.PaymentRecoveryCron); err != nil {
		return fmt.Errorf("PAYMENT_RECOVERY_CRON is invalid: %w", err)
	}
	return nil
}
