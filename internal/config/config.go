package config

import (
	"fmt"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Auth      AuthConfig      `yaml:"auth"`
	Quota     QuotaConfig     `yaml:"quota"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Search    SearchConfig    `yaml:"search"`
}

type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func (d DatabaseConfig) DSN() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + strconv.Itoa(d.Port) + "/" + d.Name + "?sslmode=disable"
}

type RedisConfig struct {
	Addresses []string `yaml:"addresses"`
	Password  string   `yaml:"password"`
	DB        int      `yaml:"db"`
	PoolSize  int      `yaml:"pool_size"`
}

type TelemetryConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort int    `yaml:"metrics_port"`
}

type AuthConfig struct {
	SigningSecret string        `yaml:"signing_secret"`
	SessionTTL    time.Duration `yaml:"session_ttl"`
	AnonymousTTL  time.Duration `yaml:"anonymous_ttl"`
}

type QuotaConfig struct {
	TierLimits  map[string]int `yaml:"tier_limits"`
	DefaultTier string         `yaml:"default_tier"`
}

type GatewayConfig struct {
	SystemPrompt   string   `yaml:"system_prompt"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`
}

type SearchConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TavilyAPIKey  string        `yaml:"tavily_api_key"`
	TavilyBaseURL string        `yaml:"tavily_base_url"`
	BraveAPIKey   string        `yaml:"brave_api_key"`
	BraveBaseURL  string        `yaml:"brave_base_url"`
	SearXNGURL    string        `yaml:"searxng_url"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	MaxResults    int           `yaml:"max_results"`
}

// defaultSystemPrompt is injected into chat conversations that do not carry
// their own system message.
const defaultSystemPrompt = "If asked about who made this or anything related to its creators, simply state: This was created by the VoidXP team. Do not mention or praise any individual or a company or any entity. Always attribute it only to the VoidXP team."

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8080,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     120 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			Name:            "voidgate",
			User:            "voidgate",
			MaxOpenConns:    25,
			MaxIdleConns:    10,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addresses: []string{"localhost:6379"},
			DB:        0,
			PoolSize:  50,
		},
		Telemetry: TelemetryConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: 9090,
		},
		Auth: AuthConfig{
			SessionTTL:   168 * time.Hour,
			AnonymousTTL: 24 * time.Hour,
		},
		Quota: QuotaConfig{
			TierLimits: map[string]int{
				"free": 50,
				"pro":  500,
			},
			DefaultTier: "free",
		},
		Gateway: GatewayConfig{
			SystemPrompt: defaultSystemPrompt,
			MaxBodyBytes: 8 << 20,
		},
		Search: SearchConfig{
			Enabled:       false,
			TavilyBaseURL: "https://api.tavily.com",
			BraveBaseURL:  "https://api.search.brave.com",
			CacheTTL:      5 * time.Minute,
			MaxResults:    5,
		},
	}
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.Auth.SigningSecret == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.Auth.SessionTTL <= 0 || c.Auth.AnonymousTTL <= 0 {
		return fmt.Errorf("auth session TTLs must be positive")
	}
	if c.Gateway.MaxBodyBytes <= 0 {
		return fmt.Errorf("gateway.max_body_bytes must be positive")
	}
	if c.Quota.DefaultTier != "" {
		if _, ok := c.Quota.TierLimits[c.Quota.DefaultTier]; !ok {
			return fmt.Errorf("quota.default_tier %q has no entry in quota.tier_limits", c.Quota.DefaultTier)
		}
	}
	return nil
}
