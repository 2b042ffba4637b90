package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. RESTMIGRATE_STORE_BACKEND
const EnvPrefix = "RESTMIGRATE"

// Load reads a YAML or JSON configuration file on top of Default().
// ${VAR} references in the file are substituted from the environment and
// RESTMIGRATE_* variables override individual keys. An empty path loads
// defaults plus environment overrides only.
func Load(filePath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	if filePath != "" {
		data, err := os.ReadFile(filePath) //nolint:gosec // G304: path comes from the operator
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		ext := strings.TrimPrefix(filepath.Ext(filePath), ".")
		if ext == "yml" || ext == "" {
			ext = "yaml"
		}
		v.SetConfigType(ext)
		if err := v.ReadConfig(bytes.NewReader([]byte(substituteEnvVars(string(data))))); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes a configuration to a YAML file
func Save(filePath string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("http.request_timeout", d.HTTP.RequestTimeout)
	v.SetDefault("http.dial_timeout", d.HTTP.DialTimeout)
	v.SetDefault("http.tls_handshake_timeout", d.HTTP.TLSHandshakeTimeout)
	v.SetDefault("http.idle_conn_timeout", d.HTTP.IdleConnTimeout)
	v.SetDefault("http.enable_http2", d.HTTP.EnableHTTP2)
	v.SetDefault("http.insecure_skip_verify", d.HTTP.InsecureSkipVerify)
	v.SetDefault("http.rate_limit", d.HTTP.RateLimit)
	v.SetDefault("http.rate_burst", d.HTTP.RateBurst)
	v.SetDefault("http.user_agent", d.HTTP.UserAgent)
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.database", d.Store.Database)
	v.SetDefault("store.schema_file", d.Store.SchemaFile)
	v.SetDefault("store.cache_size", d.Store.CacheSize)
	v.SetDefault("store.connect_timeout", d.Store.ConnectTimeout)
	v.SetDefault("tree.file", d.Tree.File)
	v.SetDefault("progress.sinks", d.Progress.Sinks)
	v.SetDefault("progress.buffer_size", d.Progress.BufferSize)
	v.SetDefault("progress.kafka.topic", d.Progress.Kafka.Topic)
	v.SetDefault("progress.kafka.client_id", d.Progress.Kafka.ClientID)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("logging.development", d.Logging.Development)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
