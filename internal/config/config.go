package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Service        ServiceConfig        `yaml:"service"`
	Database       DatabaseConfig       `yaml:"database"`
	Redis          RedisConfig          `yaml:"redis"`
	Server         ServerConfig         `yaml:"server"`
	Webhook        WebhookConfig        `yaml:"webhook"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	JWT            JWTConfig            `yaml:"jwt"`

	Providers map[string]ProviderConfig `yaml:"providers"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	ClientURL   string `yaml:"client_url"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type ServerConfig struct {
	HTTP HTTPConfig `yaml:"http"`
}

type HTTPConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ReconciliationConfig tunes the background polling sweep.
type ReconciliationConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// WebhookConfig tunes the asynchronous processing pipeline.
type WebhookConfig struct {
	Workers            int           `yaml:"workers"`
	QueueSize          int           `yaml:"queue_size"`
	RetrySweepInterval time.Duration `yaml:"retry_sweep_interval"`
	StuckThreshold     time.Duration `yaml:"stuck_threshold"`
	RetentionDays      int           `yaml:"retention_days"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval"`
}

// ProviderConfig carries one rail's credentials, fee schedule and limits.
// Owned by deployment configuration; read-only at runtime.
type ProviderConfig struct {
	Enabled       bool   `yaml:"enabled"`
	BaseURL       string `yaml:"base_url"`
	APIKey        string `yaml:"api_key"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	WebhookSecret string `yaml:"webhook_secret"`

	FeeFixed   decimal.Decimal `yaml:"fee_fixed"`
	FeePercent decimal.Decimal `yaml:"fee_percent"`

	// FeeByType overrides the flat schedule for specific operation types
	// (deposit, withdrawal, payment). Absent types fall back to FeeFixed
	// and FeePercent.
	FeeByType map[string]FeeSchedule `yaml:"fee_by_type"`

	MinAmount  decimal.Decimal `yaml:"min_amount"`
	MaxAmount  decimal.Decimal `yaml:"max_amount"`
	DailyLimit decimal.Decimal `yaml:"daily_limit"`

	Currencies []string `yaml:"currencies"`
	Countries  []string `yaml:"countries"`

	SupportsRefund     bool          `yaml:"supports_refund"`
	StalenessThreshold time.Duration `yaml:"staleness_threshold"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
}

// FeeSchedule is one fixed + percentage fee pair.
type FeeSchedule struct {
	Fixed   decimal.Decimal `yaml:"fixed"`
	Percent decimal.Decimal `yaml:"percent"`
}

func LoadConfig() (*Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/payment.yaml"
	}

	// Ensure absolute path
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	// Read config file
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	return &cfg, nil
}

// applyEnvOverrides lets deployments inject secrets without writing them
// into the config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.JWT.Secret = v
	}
	for name, pc := range c.Providers {
		prefix := "PROVIDER_" + envKey(name) + "_"
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			pc.APIKey = v
		}
		if v := os.Getenv(prefix + "CLIENT_SECRET"); v != "" {
			pc.ClientSecret = v
		}
		if v := os.Getenv(prefix + "WEBHOOK_SECRET"); v != "" {
			pc.WebhookSecret = v
		}
		c.Providers[name] = pc
	}
}

func (c *Config) applyDefaults() {
	if c.Webhook.Workers <= 0 {
		c.Webhook.Workers = 4
	}
	if c.Webhook.QueueSize <= 0 {
		c.Webhook.QueueSize = 256
	}
	if c.Webhook.RetrySweepInterval <= 0 {
		c.Webhook.RetrySweepInterval = 5 * time.Minute
	}
	if c.Webhook.StuckThreshold <= 0 {
		c.Webhook.StuckThreshold = 5 * time.Minute
	}
	if c.Webhook.RetentionDays <= 0 {
		c.Webhook.RetentionDays = 90
	}
	if c.Webhook.CleanupInterval <= 0 {
		c.Webhook.CleanupInterval = 24 * time.Hour
	}
	if c.Reconciliation.Interval <= 0 {
		c.Reconciliation.Interval = time.Minute
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "payments.events"
	}
	for name, pc := range c.Providers {
		if pc.StalenessThreshold <= 0 {
			pc.StalenessThreshold = 10 * time.Minute
		}
		if pc.RequestTimeout <= 0 {
			pc.RequestTimeout = 30 * time.Second
		}
		c.Providers[name] = pc
	}
}

func envKey(name string) string {
	out := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		ch := name[i]
		if ch >= 'a' && ch <= 'z' {
			ch -= 'a' - 'A'
		}
		out = append(out, ch)
	}
	return string(out)
}
