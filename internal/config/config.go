package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server       ServerConfig       `json:"server"`
	Providers    []ProviderConfig   `json:"providers"`
	Router       RouterConfig       `json:"router"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Database     DatabaseConfig     `json:"database"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Name     string   `json:"name"`
	Endpoint string   `json:"endpoint"`
	APIKey   string   `json:"api_key"`
	Models   []string `json:"models,omitempty"`
	Default  bool     `json:"default,omitempty"`
}

type RouterConfig struct {
	DefaultModel         string              `json:"default_model"`
	Tiers                map[string][]string `json:"tiers"`
	Fallbacks            []string            `json:"fallbacks,omitempty"`
	StrongRating         int                 `json:"strong_rating"`
	RecencyWindow        int                 `json:"recency_window"`
	Decay                float64             `json:"decay"`
	PreferenceTTLSeconds int                 `json:"preference_ttl_seconds"`
}

type OrchestratorConfig struct {
	PoolSize               int `json:"pool_size"`
	DispatchTimeoutSeconds int `json:"dispatch_timeout_seconds"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
