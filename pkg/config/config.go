// Package config provides the configuration system for rest-migrate.
// A single Config structure, organised into sections, drives the CLI and
// every component it wires together:
//   - HTTP: client timeouts, rate limiting and transport settings
//   - Store: record store backend and schema file
//   - Tree: where the segment tree is persisted
//   - OAuth: providers resolved by hostname on an OAuth challenge
//   - Progress: progress sinks
//   - Logging and Tracing: observability
//
// Example usage:
//
//	cfg := config.Default()
//	cfg.Store.Backend = config.BackendMongoDB
//
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"time"
)

// Store backends
const (
	BackendMemory   = "memory"
	BackendMongoDB  = "mongodb"
	BackendPostgres = "postgres"
)

// OAuth grant types
const (
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
)

// Config is the root configuration structure
type Config struct {
	HTTP     HTTPConfig      `yaml:"http" json:"http" mapstructure:"http"`
	Store    StoreConfig     `yaml:"store" json:"store" mapstructure:"store"`
	Tree     TreeConfig      `yaml:"tree" json:"tree" mapstructure:"tree"`
	OAuth    []OAuthProvider `yaml:"oauth" json:"oauth" mapstructure:"oauth"`
	Progress ProgressConfig  `yaml:"progress" json:"progress" mapstructure:"progress"`
	Logging  LoggingConfig   `yaml:"logging" json:"logging" mapstructure:"logging"`
	Tracing  TracingConfig   `yaml:"tracing" json:"tracing" mapstructure:"tracing"`
}

// HTTPConfig controls the fetch session transport
type HTTPConfig struct {
	// RequestTimeout bounds a single GET, including reading the body
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout" mapstructure:"request_timeout"`
	// DialTimeout for establishing connections
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout" mapstructure:"dial_timeout"`
	// TLSHandshakeTimeout for TLS negotiation
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout" json:"tls_handshake_timeout" mapstructure:"tls_handshake_timeout"`
	// IdleConnTimeout before idle connections are closed
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout" json:"idle_conn_timeout" mapstructure:"idle_conn_timeout"`
	// EnableHTTP2 configures the transport for HTTP/2
	EnableHTTP2 bool `yaml:"enable_http2" json:"enable_http2" mapstructure:"enable_http2"`
	// InsecureSkipVerify disables certificate verification (insecure)
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" json:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
	// RateLimit in requests per second (0 = unlimited)
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" mapstructure:"rate_limit"`
	// RateBurst is the token bucket capacity
	RateBurst int `yaml:"rate_burst" json:"rate_burst" mapstructure:"rate_burst"`
	// UserAgent sent with every request
	UserAgent string `yaml:"user_agent" json:"user_agent" mapstructure:"user_agent"`
}

// StoreConfig selects and configures the record store
type StoreConfig struct {
	Backend    string `yaml:"backend" json:"backend" mapstructure:"backend"`
	DSN        string `yaml:"dsn" json:"dsn" mapstructure:"dsn"`
	Database   string `yaml:"database" json:"database" mapstructure:"database"`
	SchemaFile string `yaml:"schema_file" json:"schema_file" mapstructure:"schema_file"`
	// CacheSize is the number of documents kept by GetCached
	CacheSize int `yaml:"cache_size" json:"cache_size" mapstructure:"cache_size"`
	// ConnectTimeout for the backend connection
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" mapstructure:"connect_timeout"`
}

// TreeConfig locates the persisted segment tree
type TreeConfig struct {
	File string `yaml:"file" json:"file" mapstructure:"file"`
}

// OAuthProvider is resolved by hostname when a server answers with an OAuth challenge
type OAuthProvider struct {
	Hostname     string   `yaml:"hostname" json:"hostname" mapstructure:"hostname"`
	ClientID     string   `yaml:"client_id" json:"client_id" mapstructure:"client_id"`
	ClientSecret string   `yaml:"client_secret" json:"client_secret" mapstructure:"client_secret"`
	TokenURL     string   `yaml:"token_url" json:"token_url" mapstructure:"token_url"`
	Scopes       []string `yaml:"scopes" json:"scopes" mapstructure:"scopes"`
	GrantType    string   `yaml:"grant_type" json:"grant_type" mapstructure:"grant_type"`
	RefreshToken string   `yaml:"refresh_token" json:"refresh_token" mapstructure:"refresh_token"`
}

// ProgressConfig selects progress sinks
type ProgressConfig struct {
	// Sinks is a list of "log" and/or "kafka"
	Sinks      []string    `yaml:"sinks" json:"sinks" mapstructure:"sinks"`
	BufferSize int         `yaml:"buffer_size" json:"buffer_size" mapstructure:"buffer_size"`
	Kafka      KafkaConfig `yaml:"kafka" json:"kafka" mapstructure:"kafka"`
}

// KafkaConfig configures the Kafka progress sink
type KafkaConfig struct {
	Brokers  []string `yaml:"brokers" json:"brokers" mapstructure:"brokers"`
	Topic    string   `yaml:"topic" json:"topic" mapstructure:"topic"`
	ClientID string   `yaml:"client_id" json:"client_id" mapstructure:"client_id"`
}

// LoggingConfig configures pkg/logger
type LoggingConfig struct {
	Level       string `yaml:"level" json:"level" mapstructure:"level"`
	Encoding    string `yaml:"encoding" json:"encoding" mapstructure:"encoding"`
	Development bool   `yaml:"development" json:"development" mapstructure:"development"`
}

// TracingConfig configures pkg/observability
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	SampleRate float64 `yaml:"sample_rate" json:"sample_rate" mapstructure:"sample_rate"`
}

// Default returns a configuration with production defaults
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			RequestTimeout:      30 * time.Second,
			DialTimeout:         10 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			IdleConnTimeout:     90 * time.Second,
			EnableHTTP2:         true,
			RateLimit:           0,
			RateBurst:           10,
			UserAgent:           "rest-migrate/1.0",
		},
		Store: StoreConfig{
			Backend:        BackendMemory,
			Database:       "restmigrate",
			CacheSize:      1024,
			ConnectTimeout: 10 * time.Second,
		},
		Tree: TreeConfig{
			File: "tree.yaml",
		},
		Progress: ProgressConfig{
			Sinks:      []string{"log"},
			BufferSize: 256,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "console",
		},
		Tracing: TracingConfig{
			Enabled:    false,
			SampleRate: 1.0,
		},
	}
}

// Validate checks required fields and value ranges
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory:
	case BackendMongoDB, BackendPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for backend %s", c.Store.Backend)
		}
	default:
		return fmt.Errorf("store.backend must be one of memory, mongodb, postgres: got %q", c.Store.Backend)
	}
	if c.Store.CacheSize < 0 {
		return fmt.Errorf("store.cache_size cannot be negative")
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http.rate_limit cannot be negative")
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.RateBurst <= 0 {
		return fmt.Errorf("http.rate_burst must be positive when rate limiting")
	}
	if c.HTTP.RequestTimeout < 0 {
		return fmt.Errorf("http.request_timeout cannot be negative")
	}
	seen := make(map[string]bool, len(c.OAuth))
	for i, p := range c.OAuth {
		if p.Hostname == "" {
			return fmt.Errorf("oauth[%d].hostname is required", i)
		}
		if seen[p.Hostname] {
			return fmt.Errorf("oauth provider for %s configured twice", p.Hostname)
		}
		seen[p.Hostname] = true
		if p.TokenURL == "" {
			return fmt.Errorf("oauth[%d].token_url is required", i)
		}
		switch p.GrantType {
		case "", GrantClientCredentials:
		case GrantRefreshToken:
			if p.RefreshToken == "" {
				return fmt.Errorf("oauth[%d].refresh_token is required for grant %s", i, p.GrantType)
			}
		default:
			return fmt.Errorf("oauth[%d].grant_type %q is not supported", i, p.GrantType)
		}
	}
	for _, s := range c.Progress.Sinks {
		switch s {
		case "log":
		case "kafka":
			if len(c.Progress.Kafka.Brokers) == 0 || c.Progress.Kafka.Topic == "" {
				return fmt.Errorf("progress.kafka requires brokers and topic")
			}
		default:
			return fmt.Errorf("unknown progress sink %q", s)
		}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}
	return nil
}

// IsRateLimited returns true if rate limiting is enabled
func (h *HTTPConfig) IsRateLimited() bool {
	return h.RateLimit > 0
}
