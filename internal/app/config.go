package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the worker configuration, loadable from environment variables
// (OFFERS_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string   `default:"0.0.0.0:8080" usage:"Probe server listen address"`
	DatabaseURL  string   `usage:"PostgreSQL connection URL (OFFERS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	SystemGroups []string `usage:"Slugs of system offer groups to create on startup" flag:"system-groups"`
	Redis        RedisConfig
	Pricing      PricingConfig
	Recalculate  RecalculateConfig
	Graceful     GracefulConfig
}

// RedisConfig locates the pricing cache.
type RedisConfig struct {
	URL      string `usage:"Redis URL; overrides Addr, DB and Password (OFFERS_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	Addr     string `default:"localhost:6379" usage:"Redis address"`
	DB       int    `default:"0" usage:"Redis database number"`
	Password string `usage:"Redis password"`
}

// PricingConfig controls cosmetic price caching.
type PricingConfig struct {
	CosmeticTTL time.Duration `default:"24h" usage:"Lifetime of cached cosmetic prices" flag:"cosmetic-ttl"`
	Currency    string        `default:"USD" usage:"Currency cosmetic prices are computed in"`
}

// RecalculateConfig controls the usage totals job.
type RecalculateConfig struct {
	Interval time.Duration `default:"5m" usage:"How often offer usage totals are recomputed" flag:"recalculate-interval"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "OFFERS",
		Files:     []string{"config.yaml", "/etc/offers/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set OFFERS_DATABASE_URL or DATABASE_URL")
	}
	if c.Recalculate.Interval <= 0 {
		return errors.Errorf("recalculate interval must be positive, got %s", c.Recalculate.Interval)
	}
	if c.Pricing.CosmeticTTL <= 0 {
		return errors.Errorf("cosmetic TTL must be positive, got %s", c.Pricing.CosmeticTTL)
	}
	return nil
}

// applyPlatformDefaults maps the conventional DATABASE_URL, REDIS_URL and
// PORT variables onto the OFFERS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
