// Package config loads adpilot-engine configuration from config.yaml
// with environment variable overrides. Secrets (database password,
// Google OAuth secret, credential encryption key, LLM API key) come
// from the environment only.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for adpilot-engine.
type Config struct {
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"0.0.0.0"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // injected at build time

	Auth       AuthConfig      `yaml:"auth"`
	Database   DatabaseConfig  `yaml:"database"`
	GoogleAds  GoogleAdsConfig `yaml:"google_ads"`
	Guardrails GuardrailConfig `yaml:"guardrails"`
	AI         AIConfig        `yaml:"ai"`

	// CredentialsKey encrypts ads-account refresh tokens at rest.
	// 32-byte key, base64 encoded: openssl rand -base64 32
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"`
}

// AuthConfig holds JWT validation settings.
type AuthConfig struct {
	// EnableVerification controls whether JWT signatures are checked
	// against JWKS. Disable only for local development.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is parsed from JWKSEndpointsStr at load time.
	JWKSEndpoints map[string]string `yaml:"-"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"adpilot"`
	Password       string `yaml:"-" env:"PGPASSWORD"`
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"adpilot_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// GoogleAdsConfig holds the developer credentials shared by all
// tenants. Per-tenant refresh tokens live in ads_accounts.
type GoogleAdsConfig struct {
	DeveloperToken  string `yaml:"-" env:"GOOGLE_ADS_DEVELOPER_TOKEN"`
	ClientID        string `yaml:"client_id" env:"GOOGLE_ADS_CLIENT_ID" env-default:""`
	ClientSecret    string `yaml:"-" env:"GOOGLE_ADS_CLIENT_SECRET"`
	LoginCustomerID string `yaml:"login_customer_id" env:"GOOGLE_ADS_LOGIN_CUSTOMER_ID" env-default:""`
	Endpoint        string `yaml:"endpoint" env:"GOOGLE_ADS_ENDPOINT" env-default:"https://googleads.googleapis.com"`
	TimeoutSeconds  int    `yaml:"timeout_seconds" env:"GOOGLE_ADS_TIMEOUT_SECONDS" env-default:"30"`
}

// GuardrailConfig bounds what a single apply may change. The dry-run
// warning threshold and the hard change cap are deliberately separate
// settings; they came from different places in the product and are not
// to be unified.
type GuardrailConfig struct {
	// MaxBudgetChangePercent is the hard cap: no single apply may move
	// a budget by more than this percentage.
	MaxBudgetChangePercent float64 `yaml:"max_budget_change_percent" env:"MAX_BUDGET_CHANGE_PERCENT" env-default:"30"`

	// MinDailyBudget is the floor in account currency.
	MinDailyBudget float64 `yaml:"min_daily_budget" env:"MIN_DAILY_BUDGET" env-default:"5"`

	// WarnBudgetIncreasePercent triggers a non-fatal dry-run warning
	// when an increase exceeds it (strictly greater).
	WarnBudgetIncreasePercent float64 `yaml:"warn_budget_increase_percent" env:"BUDGET_WARN_INCREASE_PERCENT" env-default:"20"`
}

// AIConfig selects and configures the LLM provider used for
// recommendation generation.
type AIConfig struct {
	// Provider is "openai" (covers any OpenAI-compatible endpoint,
	// including DeepSeek) or "anthropic".
	Provider string `yaml:"provider" env:"AI_PROVIDER" env-default:"openai"`
	BaseURL  string `yaml:"base_url" env:"AI_BASE_URL" env-default:""`
	Model    string `yaml:"model" env:"AI_MODEL" env-default:""`
	APIKey   string `yaml:"-" env:"AI_API_KEY"`
}

// IsConfigured reports whether generation can run at all.
func (c *AIConfig) IsConfigured() bool {
	return c.Model != "" && c.APIKey != ""
}

// Load reads configuration from config.yaml with environment variable
// overrides. When config.yaml does not exist, configuration comes from
// the environment alone.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	cfg.Auth.JWKSEndpoints = parseJWKSEndpoints(cfg.Auth.JWKSEndpointsStr)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Guardrails.MaxBudgetChangePercent <= 0 {
		return fmt.Errorf("max_budget_change_percent must be positive")
	}
	if c.Guardrails.MinDailyBudget < 0 {
		return fmt.Errorf("min_daily_budget must not be negative")
	}
	return nil
}

// parseJWKSEndpoints parses "issuer1=url1,issuer2=url2" into a map.
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}
	for _, pair := range strings.Split(value, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
