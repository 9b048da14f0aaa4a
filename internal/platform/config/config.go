// Package config loads and validates server configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Audit sinks.
const (
	AuditSinkMemory   = "memory"
	AuditSinkPostgres = "postgres"
	AuditSinkKafka    = "kafka"
)

// Token verification modes.
const (
	TokenModeRemote = "remote"
	TokenModeJWT    = "jwt"
)

const EnvProduction = "production"

// Config holds server configuration.
type Config struct {
	Addr            string        `mapstructure:"VERIFY_ADDR"`
	Env             string        `mapstructure:"APP_ENV"`
	LogLevel        string        `mapstructure:"LOG_LEVEL"`
	LogFormat       string        `mapstructure:"LOG_FORMAT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	RedisURL     string `mapstructure:"REDIS_URL"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`

	// AuditSink is one of memory, postgres or kafka.
	AuditSink       string `mapstructure:"AUDIT_SINK"`
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`
	// AuditBuffer is the async audit buffer size; 0 emits synchronously.
	AuditBuffer int `mapstructure:"AUDIT_BUFFER"`
	// AuditMemoryCapacity bounds the events kept by the memory sink.
	AuditMemoryCapacity int `mapstructure:"AUDIT_MEMORY_CAPACITY"`

	VerificationAPIURL  string        `mapstructure:"VERIFICATION_API_URL"`
	VerificationAPIKey  string        `mapstructure:"VERIFICATION_API_KEY"`
	VerificationTimeout time.Duration `mapstructure:"VERIFICATION_TIMEOUT"`

	// TokenMode selects who verifies registration tokens: the remote API or
	// the local HS256 verifier.
	TokenMode               string `mapstructure:"TOKEN_MODE"`
	RegistrationTokenSecret string `mapstructure:"REGISTRATION_TOKEN_SECRET"`
	RegistrationTokenIssuer string `mapstructure:"REGISTRATION_TOKEN_ISSUER"`

	SessionTTL                time.Duration `mapstructure:"SESSION_TTL"`
	TokenLedgerTTL            time.Duration `mapstructure:"TOKEN_LEDGER_TTL"`
	RegistrationRoute         string        `mapstructure:"REGISTRATION_ROUTE"`
	CompleteRegistrationRoute string        `mapstructure:"COMPLETE_REGISTRATION_ROUTE"`

	// Submission throttles. A zero limit disables the rule.
	PhoneSubmitLimit  int           `mapstructure:"PHONE_SUBMIT_LIMIT"`
	PhoneSubmitWindow time.Duration `mapstructure:"PHONE_SUBMIT_WINDOW"`
	CodeSubmitLimit   int           `mapstructure:"CODE_SUBMIT_LIMIT"`
	CodeSubmitWindow  time.Duration `mapstructure:"CODE_SUBMIT_WINDOW"`

	// DevOTP verifies phones and codes locally and serves GET /dev/otp.
	// Refused in production.
	DevOTP        bool   `mapstructure:"DEV_OTP"`
	DeviceBinding bool   `mapstructure:"DEVICE_BINDING"`
	PhoneHashKey  string `mapstructure:"PHONE_HASH_KEY"`
}

// Load reads .env (if present), then builds and validates Config from the
// environment. Environment variables override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()

	v.SetDefault("VERIFY_ADDR", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_SINK", AuditSinkMemory)
	v.SetDefault("AUDIT_KAFKA_TOPIC", "verifyflow-audit")
	v.SetDefault("AUDIT_BUFFER", 256)
	v.SetDefault("AUDIT_MEMORY_CAPACITY", 10000)
	v.SetDefault("VERIFICATION_API_URL", "")
	v.SetDefault("VERIFICATION_API_KEY", "")
	v.SetDefault("VERIFICATION_TIMEOUT", "10s")
	v.SetDefault("TOKEN_MODE", TokenModeRemote)
	v.SetDefault("REGISTRATION_TOKEN_SECRET", "")
	v.SetDefault("REGISTRATION_TOKEN_ISSUER", "")
	v.SetDefault("SESSION_TTL", "15m")
	v.SetDefault("TOKEN_LEDGER_TTL", "24h")
	v.SetDefault("REGISTRATION_ROUTE", "/register")
	v.SetDefault("COMPLETE_REGISTRATION_ROUTE", "/complete-registration")
	v.SetDefault("PHONE_SUBMIT_LIMIT", 0)
	v.SetDefault("PHONE_SUBMIT_WINDOW", "10m")
	v.SetDefault("CODE_SUBMIT_LIMIT", 0)
	v.SetDefault("CODE_SUBMIT_WINDOW", "10m")
	v.SetDefault("DEV_OTP", false)
	v.SetDefault("DEVICE_BINDING", true)
	v.SetDefault("PHONE_HASH_KEY", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return errors.New("config: VERIFY_ADDR must be set")
	}
	if c.DevOTP && c.IsProduction() {
		return errors.New("config: DEV_OTP must not be true when APP_ENV=production")
	}
	if c.IsProduction() && c.PhoneHashKey == "" {
		return errors.New("config: PHONE_HASH_KEY is required when APP_ENV=production")
	}

	switch c.TokenMode {
	case TokenModeRemote:
		if c.VerificationAPIURL == "" {
			return errors.New("config: VERIFICATION_API_URL is required when TOKEN_MODE=remote")
		}
	case TokenModeJWT:
		if len(c.RegistrationTokenSecret) < 32 {
			return errors.New("config: REGISTRATION_TOKEN_SECRET must be at least 32 bytes when TOKEN_MODE=jwt")
		}
	default:
		return fmt.Errorf("config: unknown TOKEN_MODE %q", c.TokenMode)
	}
	if !c.DevOTP && c.VerificationAPIURL == "" {
		return errors.New("config: VERIFICATION_API_URL is required unless DEV_OTP=true")
	}

	switch c.AuditSink {
	case AuditSinkMemory:
	case AuditSinkPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required when AUDIT_SINK=postgres")
		}
	case AuditSinkKafka:
		if len(c.KafkaBrokerList()) == 0 {
			return errors.New("config: KAFKA_BROKERS is required when AUDIT_SINK=kafka")
		}
	default:
		return fmt.Errorf("config: unknown AUDIT_SINK %q", c.AuditSink)
	}

	if c.SessionTTL <= 0 || c.TokenLedgerTTL <= 0 || c.VerificationTimeout <= 0 {
		return errors.New("config: SESSION_TTL, TOKEN_LEDGER_TTL and VERIFICATION_TIMEOUT must be positive")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, EnvProduction)
}

// KafkaBrokerList returns broker addresses from the comma-separated config.
func (c *Config) KafkaBrokerList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
