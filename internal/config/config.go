package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Cluster   ClusterConfig   `koanf:"cluster"`
	Reconcile ReconcileConfig `koanf:"reconcile"`
	Actions   ActionsConfig   `koanf:"actions"`
	Jobs      JobsConfig      `koanf:"jobs"`
	Cache     CacheConfig     `koanf:"cache"`
	Etcd      EtcdConfig      `koanf:"etcd"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Addr         string        `koanf:"addr"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	BasePath     string        `koanf:"base_path"` // Optional base path for reverse proxy (e.g., "/console")
}

// ClusterConfig represents the cluster control API endpoint
type ClusterConfig struct {
	Address string        `koanf:"address"`
	Timeout time.Duration `koanf:"timeout"`
	TLS     *TLSConfig    `koanf:"tls"`
}

// TLSConfig represents TLS configuration for the cluster client
type TLSConfig struct {
	CA   string `koanf:"ca"`
	Cert string `koanf:"cert"`
	Key  string `koanf:"key"`
}

// ReconcileConfig controls the periodic fleet refresh
type ReconcileConfig struct {
	Interval time.Duration `koanf:"interval"` // default 5s
}

// ActionsConfig controls action completion polling
type ActionsConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"` // default 1s
	MaxAttempts  int           `koanf:"max_attempts"`  // default 30
}

// JobsConfig controls generative job polling
type JobsConfig struct {
	PollInterval time.Duration `koanf:"poll_interval"` // default 2s
	MaxAttempts  int           `koanf:"max_attempts"`  // default 60
}

// CacheConfig represents the terminal-job archive cache
type CacheConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// EtcdConfig represents the optional durable snapshot store
type EtcdConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Endpoints   []string      `koanf:"endpoints"`
	DialTimeout time.Duration `koanf:"dial_timeout"`
	Username    string        `koanf:"username"`
	Password    string        `koanf:"password"`
	TLS         *TLSConfig    `koanf:"tls"`
}

// Defaults for the polling knobs; applied when the config file leaves
// them unset.
const (
	DefaultReconcileInterval = 5 * time.Second
	DefaultActionInterval    = 1 * time.Second
	DefaultActionAttempts    = 30
	DefaultJobInterval       = 2 * time.Second
	DefaultJobAttempts       = 60
	DefaultCacheTTL          = 10 * time.Minute
)

// Load loads configuration from the specified file
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Load YAML config
	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// ApplyDefaults fills unset polling knobs with their documented defaults
func (c *Config) ApplyDefaults() {
	if c.Reconcile.Interval <= 0 {
		c.Reconcile.Interval = DefaultReconcileInterval
	}
	if c.Actions.PollInterval <= 0 {
		c.Actions.PollInterval = DefaultActionInterval
	}
	if c.Actions.MaxAttempts <= 0 {
		c.Actions.MaxAttempts = DefaultActionAttempts
	}
	if c.Jobs.PollInterval <= 0 {
		c.Jobs.PollInterval = DefaultJobInterval
	}
	if c.Jobs.MaxAttempts <= 0 {
		c.Jobs.MaxAttempts = DefaultJobAttempts
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cluster.Timeout <= 0 {
		c.Cluster.Timeout = 15 * time.Second
	}
	if c.Etcd.DialTimeout <= 0 {
		c.Etcd.DialTimeout = 5 * time.Second
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	if c.Cluster.Address == "" {
		return fmt.Errorf("cluster.address is required")
	}

	if c.Etcd.Enabled && len(c.Etcd.Endpoints) == 0 {
		return fmt.Errorf("etcd.endpoints is required when etcd is enabled")
	}

	return nil
}
