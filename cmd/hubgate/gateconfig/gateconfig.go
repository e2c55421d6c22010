// Package gateconfig handles command-line flags and config file loading
// for the hubgate process, returning the gate server configuration and the
// runtime config backend selection.
package gateconfig

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/xiaonanln/hubgate/config"
	"github.com/xiaonanln/hubgate/gate"
	"github.com/xiaonanln/hubgate/gate/gateserver"
	"github.com/xiaonanln/hubgate/runtimecfg"
)

// EnvSharedSecret overrides the shared secret from the config file.
// The --shared-secret flag still wins.
const EnvSharedSecret = "HUBGATE_SHARED_SECRET"

// Settings is everything main needs to run a gateway
type Settings struct {
	Server        *gateserver.GateServerConfig
	RuntimeConfig config.RuntimeConfig
	LogLevel      string
}

// Loader handles parsing of command-line flags and config file loading.
// It can be instantiated with a custom FlagSet for testing.
type Loader struct {
	fs                *pflag.FlagSet
	configPath        *string
	name              *string
	httpListenAddr    *string
	grpcListenAddr    *string
	wsPath            *string
	webhookURL        *string
	sharedSecret      *string
	runtimeConfigFile *string
	logLevel          *string
}

// NewLoader creates a new Loader with flags registered on the provided FlagSet.
// If fs is nil, the default pflag.CommandLine is used.
func NewLoader(fs *pflag.FlagSet) *Loader {
	if fs == nil {
		fs = pflag.CommandLine
	}
	l := &Loader{fs: fs}
	l.configPath = fs.StringP("config", "c", "", "Path to YAML config file")
	l.name = fs.String("name", "", "Gateway name, used to tag connection ids")
	l.httpListenAddr = fs.String("http-listen", config.DefaultHTTPAddr, "HTTP listen address for the WebSocket endpoint, REST API and metrics")
	l.grpcListenAddr = fs.String("grpc-listen", "", "gRPC health listen address (optional, e.g., ':9090')")
	l.wsPath = fs.String("ws-path", config.DefaultWSPath, "WebSocket endpoint path")
	l.webhookURL = fs.String("webhook-url", "", "URL receiving normalized events (empty disables delivery)")
	l.sharedSecret = fs.String("shared-secret", "", "Shared secret for connection handshakes and webhook calls (env "+EnvSharedSecret+")")
	l.runtimeConfigFile = fs.String("runtime-config-file", config.DefaultRuntimeConfigFile, "Runtime config file for the file backend")
	l.logLevel = fs.String("log-level", "info", "Log level: debug, info, warn, error")
	return l
}

// Load parses the flags (if not already parsed) and returns the settings.
// Values come from the config file if --config is provided, then the
// environment, then explicitly set flags.
func (l *Loader) Load(args []string) (*Settings, error) {
	if !l.fs.Parsed() {
		if err := l.fs.Parse(args); err != nil {
			return nil, fmt.Errorf("failed to parse flags: %w", err)
		}
	}

	cfg := config.Default()
	if *l.configPath != "" {
		loaded, err := config.LoadConfig(*l.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if secret, ok := os.LookupEnv(EnvSharedSecret); ok {
		cfg.Gateway.SharedSecret = secret
	}

	l.override("name", &cfg.Gateway.Name, *l.name)
	l.override("http-listen", &cfg.Gateway.HTTPAddr, *l.httpListenAddr)
	l.override("grpc-listen", &cfg.Gateway.GRPCAddr, *l.grpcListenAddr)
	l.override("ws-path", &cfg.Gateway.WSPath, *l.wsPath)
	l.override("webhook-url", &cfg.Webhook.URL, *l.webhookURL)
	l.override("shared-secret", &cfg.Gateway.SharedSecret, *l.sharedSecret)
	l.override("log-level", &cfg.LogLevel, *l.logLevel)
	if l.fs.Changed("runtime-config-file") {
		cfg.RuntimeConfig.Backend = config.BackendFile
		cfg.RuntimeConfig.File = *l.runtimeConfigFile
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Settings{
		Server:        serverConfig(cfg),
		RuntimeConfig: cfg.RuntimeConfig,
		LogLevel:      cfg.LogLevel,
	}, nil
}

// override replaces *dst with value when the flag was given explicitly
func (l *Loader) override(flagName string, dst *string, value string) {
	if l.fs.Changed(flagName) {
		*dst = value
	}
}

func serverConfig(cfg *config.Config) *gateserver.GateServerConfig {
	ms := func(n int) time.Duration { return time.Duration(n) * time.Millisecond }
	return &gateserver.GateServerConfig{
		HTTPListenAddress: cfg.Gateway.HTTPAddr,
		GRPCListenAddress: cfg.Gateway.GRPCAddr,
		WSPath:            cfg.Gateway.WSPath,
		Gate: gate.GateConfig{
			Name:           cfg.Gateway.Name,
			SharedSecret:   cfg.Gateway.SharedSecret,
			WebhookURL:     cfg.Webhook.URL,
			WebhookTimeout: cfg.WebhookTimeout(),
			FlushInterval:  cfg.FlushInterval(),
			Queue: gate.QueueConfig{
				MaxItems:   cfg.Queue.MaxItems,
				FlushBatch: cfg.Queue.FlushBatch,
				RetryBase:  ms(cfg.Queue.RetryBaseMs),
				RetryMax:   ms(cfg.Queue.RetryMaxMs),
			},
		},
	}
}

// OpenRuntimeStore connects the configured runtime config backend and
// returns a store over it. The store is not loaded yet.
func OpenRuntimeStore(ctx context.Context, rc config.RuntimeConfig) (*runtimecfg.Store, error) {
	var backend runtimecfg.Backend
	switch rc.Backend {
	case config.BackendFile, "":
		backend = runtimecfg.NewFileBackend(rc.File)
	case config.BackendEtcd:
		b, err := runtimecfg.NewEtcdBackend(ctx, rc.Etcd.Endpoints, rc.Etcd.Prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to open etcd runtime config backend: %w", err)
		}
		backend = b
	case config.BackendPostgres:
		pg := rc.Postgres
		b, err := runtimecfg.NewPostgresBackend(ctx, &pg)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres runtime config backend: %w", err)
		}
		backend = b
	default:
		return nil, fmt.Errorf("unsupported runtime config backend: %s", rc.Backend)
	}
	return runtimecfg.NewStore(backend), nil
}
