package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db/offers")
	t.Setenv("REDIS_URL", "redis://cache:6379/2")
	t.Setenv("PORT", "9090")

	cfg := Config{Addr: "0.0.0.0:8080"}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://db/offers", cfg.DatabaseURL)
	assert.Equal(t, "redis://cache:6379/2", cfg.Redis.URL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)
}

func TestConfig_ExplicitWins(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform")
	t.Setenv("PORT", "9090")

	cfg := Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit"}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://explicit", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() Config {
		return Config{
			DatabaseURL: "postgres://db",
			Pricing:     PricingConfig{CosmeticTTL: 24 * time.Hour},
			Recalculate: RecalculateConfig{Interval: 5 * time.Minute},
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "no database", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "database URL"},
		{name: "zero interval", mutate: func(c *Config) { c.Recalculate.Interval = 0 }, wantErr: "recalculate interval"},
		{name: "negative ttl", mutate: func(c *Config) { c.Pricing.CosmeticTTL = -time.Second }, wantErr: "cosmetic TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewRedisClient(t *testing.T) {
	c, err := NewRedisClient(RedisConfig{URL: "redis://:secret@cache:6380/3"})
	require.NoError(t, err)
	opts := c.Options()
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 3, opts.DB)
	assert.Equal(t, "secret", opts.Password)

	_, err = NewRedisClient(RedisConfig{URL: "http://nope"})
	require.Error(t, err)
}
