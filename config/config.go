package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xiaonanln/hubgate/util/logger"
	"github.com/xiaonanln/hubgate/util/postgres"
	"gopkg.in/yaml.v3"
)

// Runtime config backends
const (
	BackendFile     = "file"
	BackendEtcd     = "etcd"
	BackendPostgres = "postgres"
)

// Defaults applied to fields left empty in the file
const (
	DefaultHTTPAddr          = ":8080"
	DefaultWSPath            = "/ws"
	DefaultRuntimeConfigFile = "runtime-config.json"
	DefaultEtcdPrefix        = "/hubgate"
	DefaultWebhookTimeoutMs  = 10000
	DefaultQueueMax          = 5000
	DefaultFlushEveryMs      = 1000
	DefaultFlushBatch        = 50
	DefaultRetryBaseMs       = 1000
	DefaultRetryMaxMs        = 60000
)

// GatewayConfig holds the listener and identity settings of the gateway
type GatewayConfig struct {
	Name         string `yaml:"name"`
	HTTPAddr     string `yaml:"http_addr"`
	GRPCAddr     string `yaml:"grpc_addr"` // Optional: gRPC health listener
	WSPath       string `yaml:"ws_path"`
	SharedSecret string `yaml:"shared_secret"` // Prefer HUBGATE_SHARED_SECRET in production
}

// WebhookConfig describes the downstream event consumer
type WebhookConfig struct {
	URL       string `yaml:"url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// QueueConfig bounds the delivery queue
type QueueConfig struct {
	MaxItems     int `yaml:"max_items"`
	FlushEveryMs int `yaml:"flush_every_ms"`
	FlushBatch   int `yaml:"flush_batch"`
	RetryBaseMs  int `yaml:"retry_base_ms"`
	RetryMaxMs   int `yaml:"retry_max_ms"`
}

// EtcdConfig holds etcd-specific configuration
type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"`
	Prefix    string   `yaml:"prefix"`
}

// RuntimeConfig selects where the hot-reloadable tunables are persisted
type RuntimeConfig struct {
	Backend  string          `yaml:"backend"`
	File     string          `yaml:"file"`
	Etcd     EtcdConfig      `yaml:"etcd"`
	Postgres postgres.Config `yaml:"postgres"`
}

// Config is the root configuration structure
type Config struct {
	Version       int           `yaml:"version"`
	LogLevel      string        `yaml:"log_level"`
	Gateway       GatewayConfig `yaml:"gateway"`
	Webhook       WebhookConfig `yaml:"webhook"`
	Queue         QueueConfig   `yaml:"queue"`
	RuntimeConfig RuntimeConfig `yaml:"runtime_config"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{Version: 1}
	cfg.ApplyDefaults()
	return cfg
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills every unset field
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Gateway.HTTPAddr == "" {
		c.Gateway.HTTPAddr = DefaultHTTPAddr
	}
	if c.Gateway.WSPath == "" {
		c.Gateway.WSPath = DefaultWSPath
	}
	if c.Webhook.TimeoutMs == 0 {
		c.Webhook.TimeoutMs = DefaultWebhookTimeoutMs
	}

	q := &c.Queue
	if q.MaxItems == 0 {
		q.MaxItems = DefaultQueueMax
	}
	if q.FlushEveryMs == 0 {
		q.FlushEveryMs = DefaultFlushEveryMs
	}
	if q.FlushBatch == 0 {
		q.FlushBatch = DefaultFlushBatch
	}
	if q.RetryBaseMs == 0 {
		q.RetryBaseMs = DefaultRetryBaseMs
	}
	if q.RetryMaxMs == 0 {
		q.RetryMaxMs = DefaultRetryMaxMs
	}

	rc := &c.RuntimeConfig
	if rc.Backend == "" {
		rc.Backend = BackendFile
	}
	if rc.File == "" {
		rc.File = DefaultRuntimeConfigFile
	}
	if rc.Etcd.Prefix == "" {
		rc.Etcd.Prefix = DefaultEtcdPrefix
	}
	if rc.Backend == BackendPostgres {
		d := postgres.DefaultConfig()
		p := &rc.Postgres
		if p.Host == "" {
			p.Host = d.Host
		}
		if p.Port == 0 {
			p.Port = d.Port
		}
		if p.User == "" {
			p.User = d.User
		}
		if p.Database == "" {
			p.Database = d.Database
		}
		if p.SSLMode == "" {
			p.SSLMode = d.SSLMode
		}
		if p.ConnectTimeoutSec == 0 {
			p.ConnectTimeoutSec = d.ConnectTimeoutSec
		}
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Version != 1 {
		return fmt.Errorf("unsupported config version: %d (expected 1)", c.Version)
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	if !strings.HasPrefix(c.Gateway.WSPath, "/") {
		return fmt.Errorf("gateway ws_path must start with /: %q", c.Gateway.WSPath)
	}

	if c.Webhook.URL != "" && !strings.HasPrefix(c.Webhook.URL, "http://") && !strings.HasPrefix(c.Webhook.URL, "https://") {
		return fmt.Errorf("webhook url must be http or https: %q", c.Webhook.URL)
	}
	if c.Webhook.TimeoutMs < 0 {
		return fmt.Errorf("webhook timeout_ms must not be negative")
	}

	q := c.Queue
	if q.MaxItems < 0 || q.FlushEveryMs < 0 || q.FlushBatch < 0 || q.RetryBaseMs < 0 || q.RetryMaxMs < 0 {
		return fmt.Errorf("queue settings must not be negative")
	}
	if q.RetryMaxMs < q.RetryBaseMs {
		return fmt.Errorf("queue retry_max_ms (%d) must be at least retry_base_ms (%d)", q.RetryMaxMs, q.RetryBaseMs)
	}

	switch c.RuntimeConfig.Backend {
	case BackendFile:
	case BackendEtcd:
		if len(c.RuntimeConfig.Etcd.Endpoints) == 0 {
			return fmt.Errorf("at least one etcd endpoint is required for the etcd runtime config backend")
		}
	case BackendPostgres:
		if err := c.RuntimeConfig.Postgres.Validate(); err != nil {
			return fmt.Errorf("runtime config postgres: %w", err)
		}
	default:
		return fmt.Errorf("unsupported runtime config backend: %s (expected file, etcd or postgres)", c.RuntimeConfig.Backend)
	}

	return nil
}

// WebhookTimeout returns the per-delivery timeout
func (c *Config) WebhookTimeout() time.Duration {
	return time.Duration(c.Webhook.TimeoutMs) * time.Millisecond
}

// FlushInterval returns how often the delivery queue is drained
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Queue.FlushEveryMs) * time.Millisecond
}
