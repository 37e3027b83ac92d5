package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Chain       ChainConfig       `yaml:"chain"`
	Factories   []FactoryConfig   `yaml:"factories"`
	Sync        SyncConfig        `yaml:"sync"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ChainConfig holds blockchain connection settings.
type ChainConfig struct {
	RPCURL  string `yaml:"rpc_url"`
	ChainID int64  `yaml:"chain_id"`
}

// FactoryConfig describes one factory contract to sync pools from.
type FactoryConfig struct {
	Variant       string `yaml:"variant"` // constant_product | concentrated_liquidity
	Address       string `yaml:"address"`
	CreationBlock uint64 `yaml:"creation_block"`
	Fee           uint32 `yaml:"fee"` // parts per million, constant_product only
}

// SyncConfig holds sync engine settings.
type SyncConfig struct {
	Step           uint64 `yaml:"step"` // log-scan window width in blocks
	TaskLimit      int    `yaml:"task_limit"`
	CheckpointPath string `yaml:"checkpoint_path"`
}

// PersistenceConfig holds database settings.
type PersistenceConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SQLitePath string `yaml:"sqlite_path"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	// Set defaults
	cfg.setDefaults()

	// Read YAML file if it exists
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if len(data) > 0 {
		// Expand environment variables in YAML content
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Apply environment variable overrides
	cfg.applyEnvOverrides()

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options.
func (c *Config) setDefaults() {
	c.Chain = ChainConfig{
		ChainID: 1,
	}
	c.Sync = SyncConfig{
		Step:           10_000,
		TaskLimit:      10,
		CheckpointPath: "./data/checkpoint.json",
	}
	c.Persistence = PersistenceConfig{
		Enabled:    false,
		SQLitePath: "./data/ammsync.db",
	}
	c.Metrics = MetricsConfig{
		Enabled: false,
		Port:    8080,
		Path:    "/metrics",
	}
	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
	}
}

// applyEnvOverrides applies environment variable overrides to configuration.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("AMMSYNC_RPC_URL"); v != "" {
		c.Chain.RPCURL = v
	}
	if v := os.Getenv("AMMSYNC_CHECKPOINT_PATH"); v != "" {
		c.Sync.CheckpointPath = v
	}
	if v := os.Getenv("AMMSYNC_STEP"); v != "" {
		var step uint64
		if _, err := fmt.Sscanf(v, "%d", &step); err == nil && step > 0 {
			c.Sync.Step = step
		}
	}
	if v := os.Getenv("AMMSYNC_TASK_LIMIT"); v != "" {
		var limit int
		if _, err := fmt.Sscanf(v, "%d", &limit); err == nil && limit > 0 {
			c.Sync.TaskLimit = limit
		}
	}
	if v := os.Getenv("AMMSYNC_SQLITE_PATH"); v != "" {
		c.Persistence.SQLitePath = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil && port > 0 {
			c.Metrics.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

// validate checks that all required configuration values are present and valid.
func (c *Config) validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required (set AMMSYNC_RPC_URL env var)")
	}
	if len(c.Factories) == 0 {
		return fmt.Errorf("at least one factory is required")
	}
	for i, f := range c.Factories {
		switch f.Variant {
		case "constant_product", "concentrated_liquidity":
		default:
			return fmt.Errorf("factories[%d].variant %q is not supported", i, f.Variant)
		}
		if !common.IsHexAddress(f.Address) {
			return fmt.Errorf("factories[%d].address %q is not a valid address", i, f.Address)
		}
	}
	if c.Sync.Step == 0 {
		return fmt.Errorf("sync.step must be positive")
	}
	if c.Sync.TaskLimit <= 0 {
		return fmt.Errorf("sync.task_limit must be positive")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("metrics.port must be a valid port number")
	}
	return nil
}
