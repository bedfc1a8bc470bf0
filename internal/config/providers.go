package config

import "time"

// ProvidersConfig lists the provider catalog in priority order. The first
// configured entry that supports a requested operation wins when the caller
// names no provider.
type ProvidersConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
}

type ProviderConfig struct {
	Code          string            `yaml:"code"`
	Schema        string            `yaml:"schema"`
	BaseURL       string            `yaml:"base_url"`
	APIKey        string            `yaml:"api_key"`
	APIVersion    string            `yaml:"api_version,omitempty"`
	Operations    []string          `yaml:"operations"`
	Models        map[string]string `yaml:"models"`
	MaxConcurrent int               `yaml:"max_concurrent"`
	Timeout       time.Duration     `yaml:"timeout"`
}
