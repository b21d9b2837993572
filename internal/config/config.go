package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	AuthIssuer   string `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL  string `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience string `mapstructure:"AUTH_AUDIENCE"`

	// DefaultTaxRate is a percentage applied to invoices created without an
	// explicit rate.
	DefaultTaxRate string `mapstructure:"DEFAULT_TAX_RATE"`

	StorageTimeoutSeconds int `mapstructure:"STORAGE_TIMEOUT_SECONDS"`
	SequenceMaxRetries    int `mapstructure:"SEQUENCE_MAX_RETRIES"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
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
	v.SetDefault("DEFAULT_TAX_RATE", "0")
	v.SetDefault("STORAGE_TIMEOUT_SECONDS", 10)
	v.SetDefault("SEQUENCE_MAX_RETRIES", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("DEFAULT_TAX_RATE")
	v.BindEnv("STORAGE_TIMEOUT_SECONDS")
	v.BindEnv("SEQUENCE_MAX_RETRIES")
	v.BindEnv("CORS_ORIGINS")

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

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// StorageTimeout returns the deadline applied to every transactional write.
func (c *Config) StorageTimeout() time.Duration {
	return time.Duration(c.StorageTimeoutSeconds) * time.Second
}

// Validate checks that the configuration is safe to run. Outside development
// AUTH_ISSUER must be set so audit attribution comes from real tokens rather
// than the permissive dev identity.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthIssuer == "" {
		return fmt.Errorf(
			"AUTH_ISSUER must be set when ENV=%q. "+
				"Refusing to start without authentication configuration. "+
				"Use ENV=development for the permissive dev identity", c.Env)
	}
	if c.StorageTimeoutSeconds < 1 {
		return fmt.Errorf("STORAGE_TIMEOUT_SECONDS must be at least 1, got %d", c.StorageTimeoutSeconds)
	}
	if c.SequenceMaxRetries < 1 {
		return fmt.Errorf("SEQUENCE_MAX_RETRIES must be at least 1, got %d", c.SequenceMaxRetries)
	}
	if c.DefaultTaxRate != "" {
		if _, err := c.TaxRate(); err != nil {
			return err
		}
	}
	return nil
}

// TaxRate parses DEFAULT_TAX_RATE as a percentage.
func (c *Config) TaxRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.DefaultTaxRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("DEFAULT_TAX_RATE is not a number: %q", c.DefaultTaxRate)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, fmt.Errorf("DEFAULT_TAX_RATE must be between 0 and 100, got %s", rate)
	}
	return rate, nil
}
