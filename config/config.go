// Package config implements the ConfigModel & Validation component
// (spec.md C10): a typed configuration tree loaded with spf13/viper and
// validated once at startup, failing fast with a single named property on
// error. Grounded on the teacher's Config structs (cache-manager.Config,
// warming config) generalized into the full tree spec.md §4.10 describes.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/o-tero/cachekit/cache"
)

// BackendType selects the base backend a namespace's manager builds on.
type BackendType string

const (
	BackendLocal     BackendType = "LOCAL"
	BackendRemote    BackendType = "REMOTE"
	BackendMultiTier BackendType = "MULTI_TIER"
)

// RemoteMode mirrors cache/remote.Mode; duplicated here (rather than
// imported) so config stays free of a dependency on cache/remote, avoiding
// an import cycle with cache/remote's own Config.
type RemoteMode string

const (
	RemoteStandalone RemoteMode = "standalone"
	RemoteSentinel   RemoteMode = "sentinel"
	RemoteCluster    RemoteMode = "cluster"
)

type LocalConfig struct {
	MaximumSize   int           `mapstructure:"maximumSize"`
	TTL           time.Duration `mapstructure:"ttl"`
	EvictionPolicy string       `mapstructure:"evictionPolicy"`
	RecordStats   bool          `mapstructure:"recordStats"`
}

type SSLConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TrustStore   string `mapstructure:"trustStore"`
	KeyStore     string `mapstructure:"keyStore"`
	KeyStorePass string `mapstructure:"keyStorePass"`
}

type ACLConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type PipeliningConfig struct {
	Enabled   bool `mapstructure:"enabled"`
	BatchSize int  `mapstructure:"batchSize"`
}

type ReadStrategyConfig struct {
	ReplicaPreferred bool `mapstructure:"replicaPreferred"`
}

type ClusterConfig struct {
	Nodes []string `mapstructure:"nodes"`
}

type SentinelConfig struct {
	Master string   `mapstructure:"master"`
	Nodes  []string `mapstructure:"nodes"`
}

type RemoteConfig struct {
	Host           string             `mapstructure:"host"`
	Port           int                `mapstructure:"port"`
	Database       int                `mapstructure:"database"`
	CommandTimeout time.Duration      `mapstructure:"commandTimeout"`
	TimeToLive     time.Duration      `mapstructure:"timeToLive"`
	UseSSL         bool               `mapstructure:"useSsl"`
	SSL            SSLConfig          `mapstructure:"ssl"`
	ACL            ACLConfig          `mapstructure:"acl"`
	Pipelining     PipeliningConfig   `mapstructure:"pipelining"`
	ReadStrategy   ReadStrategyConfig `mapstructure:"readStrategy"`
	Cluster        ClusterConfig      `mapstructure:"cluster"`
	Sentinel       SentinelConfig     `mapstructure:"sentinel"`
}

// Mode infers the deployment topology per spec.md §4.10: cluster.nodes
// non-empty wins, then sentinel.master, else standalone.
func (r RemoteConfig) Mode() RemoteMode {
	if len(r.Cluster.Nodes) > 0 {
		return RemoteCluster
	}
	if r.Sentinel.Master != "" {
		return RemoteSentinel
	}
	return RemoteStandalone
}

type CompressionConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Algorithm string `mapstructure:"algorithm"`
	Threshold int    `mapstructure:"threshold"`
}

type EncryptionConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Algorithm string `mapstructure:"algorithm"`
	Key       string `mapstructure:"key"`
	KeySize   int    `mapstructure:"keySize"`
}

type FeaturesConfig struct {
	Compression CompressionConfig `mapstructure:"compression"`
	Encryption  EncryptionConfig  `mapstructure:"encryption"`
}

type CircuitBreakerConfig struct {
	Enabled                  bool          `mapstructure:"enabled"`
	FailureRateThreshold     float64       `mapstructure:"failureRateThreshold"`
	WaitDurationInOpenState  time.Duration `mapstructure:"waitDurationInOpenState"`
	SlidingWindowSize        time.Duration `mapstructure:"slidingWindowSize"`
	MinimumNumberOfCalls     uint32        `mapstructure:"minimumNumberOfCalls"`
}

type StampedeProtectionConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	LockTimeout time.Duration `mapstructure:"lockTimeout"`
}

type TimeoutConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	OperationTimeout time.Duration `mapstructure:"operationTimeout"`
}

type ResilienceConfig struct {
	CircuitBreaker      CircuitBreakerConfig     `mapstructure:"circuitBreaker"`
	StampedeProtection  StampedeProtectionConfig `mapstructure:"stampedeProtection"`
	Timeout             TimeoutConfig            `mapstructure:"timeout"`
}

type ObservabilityConfig struct {
	MetricsEnabled bool `mapstructure:"metricsEnabled"`
	HealthEnabled  bool `mapstructure:"healthEnabled"`
	TracingEnabled bool `mapstructure:"tracingEnabled"`
	LoggingEnabled bool `mapstructure:"loggingEnabled"`
}

// NamespaceOverride holds per-namespace deviations from the root defaults.
type NamespaceOverride struct {
	TTL                       time.Duration `mapstructure:"ttl"`
	CompressionEnabled        *bool         `mapstructure:"compressionEnabled"`
	EncryptionEnabled         *bool         `mapstructure:"encryptionEnabled"`
	StampedeProtectionEnabled *bool         `mapstructure:"stampedeProtectionEnabled"`
}

// Config is the root configuration tree, read by Load from the top level of
// the config file (with CACHEKIT_* environment overrides) and validated by
// Validate before any component consumes it.
type Config struct {
	Type           BackendType                  `mapstructure:"type"`
	DefaultTTL     time.Duration                `mapstructure:"defaultTtl"`
	Enabled        bool                         `mapstructure:"enabled"`
	Namespaces     map[string]NamespaceOverride `mapstructure:"namespaces"`
	Local          LocalConfig                  `mapstructure:"local"`
	Remote         RemoteConfig                 `mapstructure:"remote"`
	Features       FeaturesConfig               `mapstructure:"features"`
	Resilience     ResilienceConfig             `mapstructure:"resilience"`
	Observability  ObservabilityConfig          `mapstructure:"observability"`
}

// Load reads configuration from file, environment (CACHEKIT_* prefix), and
// defaults, in viper's standard precedence order, then validates it.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("cachekit")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("type", string(BackendMultiTier))
	v.SetDefault("defaultTtl", time.Hour)
	v.SetDefault("enabled", true)
	v.SetDefault("local.maximumSize", 10000)
	v.SetDefault("local.evictionPolicy", "LRU")
	v.SetDefault("local.recordStats", true)
	v.SetDefault("remote.port", 6379)
	v.SetDefault("remote.commandTimeout", 2*time.Second)
	v.SetDefault("remote.pipelining.enabled", true)
	v.SetDefault("remote.pipelining.batchSize", 500)
	v.SetDefault("features.compression.threshold", 1024)
	v.SetDefault("resilience.circuitBreaker.failureRateThreshold", 0.5)
	v.SetDefault("resilience.circuitBreaker.minimumNumberOfCalls", 10)
	v.SetDefault("resilience.circuitBreaker.waitDurationInOpenState", 30*time.Second)
	v.SetDefault("resilience.circuitBreaker.slidingWindowSize", time.Minute)
	v.SetDefault("resilience.stampedeProtection.lockTimeout", 3*time.Second)
	v.SetDefault("resilience.timeout.operationTimeout", 5*time.Second)
	v.SetDefault("observability.metricsEnabled", true)
	v.SetDefault("observability.healthEnabled", true)
	v.SetDefault("observability.loggingEnabled", true)
}

// Validate fails the process on exactly the conditions spec.md §4.10 names,
// reporting a single *cache.ConfigurationError naming the first offending
// property so operators never have to bisect the tree.
func (c *Config) Validate() error {
	if c.DefaultTTL <= 0 {
		return &cache.ConfigurationError{Property: "defaultTtl", Reason: "must be positive"}
	}
	if c.Features.Encryption.Enabled && c.Features.Encryption.Key == "" {
		return &cache.ConfigurationError{Property: "features.encryption.key", Reason: "required when encryption is enabled"}
	}
	if c.Type == BackendRemote || c.Type == BackendMultiTier {
		if c.Remote.Host == "" && len(c.Remote.Cluster.Nodes) == 0 {
			return &cache.ConfigurationError{Property: "remote.host", Reason: "must not be empty"}
		}
		if c.Remote.Port < 1 || c.Remote.Port > 65535 {
			return &cache.ConfigurationError{Property: "remote.port", Reason: "must be between 1 and 65535"}
		}
	}
	if c.Type == BackendLocal || c.Type == BackendMultiTier {
		if c.Local.MaximumSize <= 0 {
			return &cache.ConfigurationError{Property: "local.maximumSize", Reason: "must be greater than zero"}
		}
	}
	return nil
}

// ResolveNamespace merges the root defaults with namespace's override (if
// any) into an immutable cache.NamespaceConfig, computed once when the
// namespace is first requested (spec.md §3).
func (c *Config) ResolveNamespace(namespace string) cache.NamespaceConfig {
	nc := cache.NamespaceConfig{
		Namespace:                 namespace,
		TTL:                       c.DefaultTTL,
		CompressionEnabled:        c.Features.Compression.Enabled,
		EncryptionEnabled:         c.Features.Encryption.Enabled,
		StampedeProtectionEnabled: c.Resilience.StampedeProtection.Enabled,
		CircuitBreakerEnabled:     c.Resilience.CircuitBreaker.Enabled,
	}

	override, ok := c.Namespaces[namespace]
	if !ok {
		return nc
	}
	if override.TTL > 0 {
		nc.TTL = override.TTL
	}
	if override.CompressionEnabled != nil {
		nc.CompressionEnabled = *override.CompressionEnabled
	}
	if override.EncryptionEnabled != nil {
		nc.EncryptionEnabled = *override.EncryptionEnabled
	}
	if override.StampedeProtectionEnabled != nil {
		nc.StampedeProtectionEnabled = *override.StampedeProtectionEnabled
	}
	return nc
}
