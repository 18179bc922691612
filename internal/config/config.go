package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string   `mapstructure:"REDIS_URL"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`

	// Messaging partner
	MessagingAPIURL   string        `mapstructure:"MESSAGING_API_URL"`
	MessagingCaseType string        `mapstructure:"MESSAGING_CASE_TYPE"`
	TokenURL          string        `mapstructure:"TOKEN_URL"`
	TokenUsername     string        `mapstructure:"TOKEN_USERNAME"`
	TokenPassword     string        `mapstructure:"TOKEN_PASSWORD"`
	TokenClientID     string        `mapstructure:"TOKEN_CLIENT_ID"`
	TokenTTL          time.Duration `mapstructure:"TOKEN_TTL"`

	SendTimeout   time.Duration `mapstructure:"SEND_TIMEOUT"`
	DashboardPath string        `mapstructure:"DASHBOARD_PATH"`

	WebhookRateLimit float64 `mapstructure:"WEBHOOK_RATE_LIMIT"`
	WebhookRateBurst int     `mapstructure:"WEBHOOK_RATE_BURST"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("MESSAGING_CASE_TYPE", "llamador")
	v.SetDefault("TOKEN_CLIENT_ID", "gecrosAppAfiliado")
	v.SetDefault("TOKEN_TTL", "360h")
	v.SetDefault("SEND_TIMEOUT", "5s")
	v.SetDefault("DASHBOARD_PATH", "/prellamador")
	v.SetDefault("WEBHOOK_RATE_LIMIT", 20)
	v.SetDefault("WEBHOOK_RATE_BURST", 40)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("AUTH_SIGNING_KEY")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("MESSAGING_API_URL")
	v.BindEnv("MESSAGING_CASE_TYPE")
	v.BindEnv("TOKEN_URL")
	v.BindEnv("TOKEN_USERNAME")
	v.BindEnv("TOKEN_PASSWORD")
	v.BindEnv("TOKEN_CLIENT_ID")
	v.BindEnv("TOKEN_TTL")
	v.BindEnv("SEND_TIMEOUT")
	v.BindEnv("DASHBOARD_PATH")
	v.BindEnv("WEBHOOK_RATE_LIMIT")
	v.BindEnv("WEBHOOK_RATE_BURST")

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

	if cfg.MessagingAPIURL == "" {
		return nil, fmt.Errorf("MESSAGING_API_URL is required")
	}
	cfg.MessagingAPIURL = strings.TrimRight(cfg.MessagingAPIURL, "/")
	cfg.DashboardPath = strings.TrimRight(cfg.DashboardPath, "/")

	if cfg.IsDev() {
		log.Println("WARNING: Server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: operator routes accept unauthenticated requests as admin.")
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

// HasDatabase reports whether the movement log should be persisted.
func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// Validate checks that the configuration is safe to run. Outside development
// the operator routes need a signing key, and the partner token needs
// credentials to be fetched at all.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
	}
	if c.TokenURL == "" {
		return fmt.Errorf("TOKEN_URL is required")
	}
	if c.TokenUsername == "" || c.TokenPassword == "" {
		return fmt.Errorf("TOKEN_USERNAME and TOKEN_PASSWORD are required")
	}
	if c.SendTimeout <= 0 {
		return fmt.Errorf("SEND_TIMEOUT must be positive, got %s", c.SendTimeout)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	return nil
}
