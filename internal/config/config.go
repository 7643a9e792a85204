package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Mirror     MirrorConfig     `mapstructure:"mirror"`
	Quota      QuotaConfig      `mapstructure:"quota"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Difficulty DifficultyConfig `mapstructure:"difficulty"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress string `mapstructure:"bind_address"`
	MirrorPort  int    `mapstructure:"mirror_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GatewayConfig defines the remote generation endpoint
type GatewayConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Timeout    string `mapstructure:"timeout"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// MirrorConfig defines the remote usage mirror used by the client
type MirrorConfig struct {
	BaseURL      string `mapstructure:"base_url"` // empty = local ledger only
	Timeout      string `mapstructure:"timeout"`
	PollInterval string `mapstructure:"poll_interval"`
	CacheSize    int    `mapstructure:"cache_size"`
	CacheTTL     string `mapstructure:"cache_ttl"`
}

// QuotaConfig defines the daily token allowance
type QuotaConfig struct {
	DailyLimit int `mapstructure:"daily_limit"`
}

// LedgerConfig defines client-side ledger behavior
type LedgerConfig struct {
	GuardInterval string `mapstructure:"guard_interval"`
}

// DifficultyConfig defines the starting difficulty level
type DifficultyConfig struct {
	Default string `mapstructure:"default"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("ADRIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.mirror_port", 8787)
	v.SetDefault("server.metrics_port", 9090)

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", defaultStoragePath())
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Gateway defaults
	v.SetDefault("gateway.base_url", "http://localhost:3000")
	v.SetDefault("gateway.model", "gpt-4o-mini")
	v.SetDefault("gateway.timeout", "30s")
	v.SetDefault("gateway.max_retries", 3)

	// Mirror defaults
	v.SetDefault("mirror.base_url", "")
	v.SetDefault("mirror.timeout", "10s")
	v.SetDefault("mirror.poll_interval", "60s")
	v.SetDefault("mirror.cache_size", 1024)
	v.SetDefault("mirror.cache_ttl", "30s")

	// Quota defaults
	v.SetDefault("quota.daily_limit", 5000)

	// Ledger defaults
	v.SetDefault("ledger.guard_interval", "1s")

	// Difficulty defaults
	v.SetDefault("difficulty.default", "adaptive")
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "adrift.bolt"
	}
	return filepath.Join(home, ".adrift", "adrift.bolt")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.MirrorPort <= 0 || cfg.Server.MirrorPort > 65535 {
		return fmt.Errorf("invalid mirror port: %d", cfg.Server.MirrorPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}
	if cfg.Storage.Type != "bolt" && cfg.Storage.Type != "redis" {
		return fmt.Errorf("unknown storage type: %s", cfg.Storage.Type)
	}
	if cfg.Storage.Type == "bolt" {
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	if cfg.Quota.DailyLimit <= 0 {
		return fmt.Errorf("quota daily_limit must be positive: %d", cfg.Quota.DailyLimit)
	}

	if cfg.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway base_url is required")
	}

	return nil
}
