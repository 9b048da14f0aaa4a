package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("VERIFICATION_API_URL", "http://verify.internal")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, TokenModeRemote, cfg.TokenMode)
	assert.Equal(t, AuditSinkMemory, cfg.AuditSink)
	assert.Equal(t, 10000, cfg.AuditMemoryCapacity)
	assert.Equal(t, 15*time.Minute, cfg.SessionTTL)
	assert.Equal(t, 24*time.Hour, cfg.TokenLedgerTTL)
	assert.Equal(t, 10*time.Second, cfg.VerificationTimeout)
	assert.Equal(t, "/register", cfg.RegistrationRoute)
	assert.Equal(t, "/complete-registration", cfg.CompleteRegistrationRoute)
	assert.True(t, cfg.DeviceBinding)
	assert.False(t, cfg.DevOTP)
	assert.Zero(t, cfg.PhoneSubmitLimit, "submission throttling is off by default")
	assert.Equal(t, 10*time.Minute, cfg.PhoneSubmitWindow)
	assert.Zero(t, cfg.CodeSubmitLimit)
}

func TestLoad_EnvVarOverride(t *testing.T) {
	t.Setenv("VERIFY_ADDR", ":9090")
	t.Setenv("TOKEN_MODE", TokenModeJWT)
	t.Setenv("REGISTRATION_TOKEN_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("DEV_OTP", "true")
	t.Setenv("SESSION_TTL", "5m")
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092,")
	t.Setenv("AUDIT_SINK", AuditSinkKafka)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, TokenModeJWT, cfg.TokenMode)
	assert.True(t, cfg.DevOTP)
	assert.Equal(t, 5*time.Minute, cfg.SessionTTL)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokerList())
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Addr:                ":8080",
			Env:                 "development",
			TokenMode:           TokenModeRemote,
			VerificationAPIURL:  "http://verify.internal",
			AuditSink:           AuditSinkMemory,
			SessionTTL:          time.Minute,
			TokenLedgerTTL:      time.Hour,
			VerificationTimeout: time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"dev otp in production", func(c *Config) {
			c.Env = EnvProduction
			c.PhoneHashKey = "k"
			c.DevOTP = true
		}, "DEV_OTP"},
		{"production without hash key", func(c *Config) { c.Env = EnvProduction }, "PHONE_HASH_KEY"},
		{"remote mode without api", func(c *Config) { c.VerificationAPIURL = "" }, "VERIFICATION_API_URL"},
		{"jwt mode with short secret", func(c *Config) {
			c.TokenMode = TokenModeJWT
			c.RegistrationTokenSecret = "short"
		}, "REGISTRATION_TOKEN_SECRET"},
		{"jwt mode with dev otp needs no api", func(c *Config) {
			c.TokenMode = TokenModeJWT
			c.RegistrationTokenSecret = "0123456789abcdef0123456789abcdef"
			c.VerificationAPIURL = ""
			c.DevOTP = true
		}, ""},
		{"unknown token mode", func(c *Config) { c.TokenMode = "magic" }, "TOKEN_MODE"},
		{"postgres sink without database", func(c *Config) { c.AuditSink = AuditSinkPostgres }, "DATABASE_URL"},
		{"kafka sink without brokers", func(c *Config) { c.AuditSink = AuditSinkKafka }, "KAFKA_BROKERS"},
		{"unknown sink", func(c *Config) { c.AuditSink = "s3" }, "AUDIT_SINK"},
		{"zero session ttl", func(c *Config) { c.SessionTTL = 0 }, "SESSION_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
