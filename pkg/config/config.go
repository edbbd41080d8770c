package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Profile string        `mapstructure:"profile"`
	Memory  MemoryConfig  `mapstructure:"memory"`
	RestAPI RestAPIConfig `mapstructure:"rest_api"`
	Logging LoggingConfig `mapstructure:"logging"`
	Stats   StatsConfig   `mapstructure:"stats"`
}

// MemoryConfig holds the memory engine tuning parameters
type MemoryConfig struct {
	BaseDir string `mapstructure:"base_dir"`

	// Working-tier budget and pruning
	WorkingMemoryLimit int           `mapstructure:"working_memory_limit"`
	PruneThreshold     int           `mapstructure:"prune_threshold"`
	PruneBatchSize     int           `mapstructure:"prune_batch_size"`
	MinAccessThreshold int           `mapstructure:"min_access_threshold"`
	MinAgeForPruning   time.Duration `mapstructure:"min_age_for_pruning"`

	// Cascade demotion ages
	ShortTermAge time.Duration `mapstructure:"short_term_age"`
	LongTermAge  time.Duration `mapstructure:"long_term_age"`

	// Nexus points
	MaxNexusPoints   int           `mapstructure:"max_nexus_points"`
	NexusThreshold   float64       `mapstructure:"nexus_threshold"`
	MinAccessCount   int           `mapstructure:"min_access_count"`
	AccessWindow     time.Duration `mapstructure:"access_window"`
	MaxAccessHistory int           `mapstructure:"max_access_history"`

	// Retrieval
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	MaxResults          int           `mapstructure:"max_results"`
	PromotionThreshold  int           `mapstructure:"promotion_threshold"`
	CacheDuration       time.Duration `mapstructure:"cache_duration"`
}

// RestAPIConfig holds REST API server configuration.
// auto_port enables automatic port selection when the configured port is busy.
type RestAPIConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	AutoPort bool   `mapstructure:"auto_port"`
	Port     int    `mapstructure:"port"`
	Host     string `mapstructure:"host"`
	CORS     bool   `mapstructure:"cors"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console, json
	Output string `mapstructure:"output"` // stderr, stdout, or a file path
}

// StatsConfig holds statistics subsystem configuration
type StatsConfig struct {
	RetentionDays      int           `mapstructure:"retention_days"`
	SnapshotInterval   time.Duration `mapstructure:"snapshot_interval"`
	PerformanceLogSize int           `mapstructure:"performance_log_size"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	configDir := filepath.Join(homeDir, ".hiermem")

	return &Config{
		Profile: "default",
		Memory: MemoryConfig{
			BaseDir:             filepath.Join(configDir, "memory"),
			WorkingMemoryLimit:  200000,
			PruneThreshold:      150000,
			PruneBatchSize:      5,
			MinAccessThreshold:  5,
			MinAgeForPruning:    time.Hour,
			ShortTermAge:        24 * time.Hour,
			LongTermAge:         7 * 24 * time.Hour,
			MaxNexusPoints:      100,
			NexusThreshold:      0.5,
			MinAccessCount:      5,
			AccessWindow:        time.Hour,
			MaxAccessHistory:    1000,
			SimilarityThreshold: 0.3,
			MaxResults:          10,
			PromotionThreshold:  2,
			CacheDuration:       5 * time.Minute,
		},
		RestAPI: RestAPIConfig{
			Enabled:  true,
			AutoPort: true,
			Port:     3217,
			Host:     "localhost",
			CORS:     true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Stats: StatsConfig{
			RetentionDays:      30,
			SnapshotInterval:   time.Hour,
			PerformanceLogSize: 1000,
		},
	}
}

// Load loads configuration from YAML file with fallback to defaults
// Searches in multiple locations:
// 1. ./config.yaml (current directory)
// 2. ~/.hiermem/config.yaml (user home)
// 3. /etc/hiermem/config.yaml (system-wide)
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath(".")
	homeDir, _ := os.UserHomeDir()
	v.AddConfigPath(filepath.Join(homeDir, ".hiermem"))
	v.AddConfigPath("/etc/hiermem")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; use defaults
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default values in Viper
func setDefaults(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()
	configDir := filepath.Join(homeDir, ".hiermem")

	v.SetDefault("profile", "default")

	v.SetDefault("memory.base_dir", filepath.Join(configDir, "memory"))
	v.SetDefault("memory.working_memory_limit", 200000)
	v.SetDefault("memory.prune_threshold", 150000)
	v.SetDefault("memory.prune_batch_size", 5)
	v.SetDefault("memory.min_access_threshold", 5)
	v.SetDefault("memory.min_age_for_pruning", "1h")
	v.SetDefault("memory.short_term_age", "24h")
	v.SetDefault("memory.long_term_age", "168h")
	v.SetDefault("memory.max_nexus_points", 100)
	v.SetDefault("memory.nexus_threshold", 0.5)
	v.SetDefault("memory.min_access_count", 5)
	v.SetDefault("memory.access_window", "1h")
	v.SetDefault("memory.max_access_history", 1000)
	v.SetDefault("memory.similarity_threshold", 0.3)
	v.SetDefault("memory.max_results", 10)
	v.SetDefault("memory.promotion_threshold", 2)
	v.SetDefault("memory.cache_duration", "5m")

	v.SetDefault("rest_api.enabled", true)
	v.SetDefault("rest_api.auto_port", true)
	v.SetDefault("rest_api.port", 3217)
	v.SetDefault("rest_api.host", "localhost")
	v.SetDefault("rest_api.cors", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")

	v.SetDefault("stats.retention_days", 30)
	v.SetDefault("stats.snapshot_interval", "1h")
	v.SetDefault("stats.performance_log_size", 1000)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Memory.BaseDir == "" {
		return fmt.Errorf("memory.base_dir is required")
	}
	if c.Memory.WorkingMemoryLimit <= 0 {
		return fmt.Errorf("memory.working_memory_limit must be positive")
	}
	if c.Memory.PruneThreshold <= 0 || c.Memory.PruneThreshold > c.Memory.WorkingMemoryLimit {
		return fmt.Errorf("memory.prune_threshold must be positive and at most working_memory_limit")
	}
	if c.Memory.PruneBatchSize <= 0 {
		return fmt.Errorf("memory.prune_batch_size must be positive")
	}
	if c.Memory.MaxNexusPoints <= 0 {
		return fmt.Errorf("memory.max_nexus_points must be positive")
	}
	if c.Memory.NexusThreshold < 0 || c.Memory.NexusThreshold > 1 {
		return fmt.Errorf("memory.nexus_threshold must be between 0 and 1")
	}
	if c.Memory.SimilarityThreshold < 0 || c.Memory.SimilarityThreshold > 1 {
		return fmt.Errorf("memory.similarity_threshold must be between 0 and 1")
	}
	if c.Memory.MaxResults <= 0 {
		return fmt.Errorf("memory.max_results must be positive")
	}
	if c.Memory.PromotionThreshold <= 0 {
		return fmt.Errorf("memory.promotion_threshold must be positive")
	}

	if c.RestAPI.Enabled {
		if c.RestAPI.Port < 1 || c.RestAPI.Port > 65535 {
			return fmt.Errorf("rest_api.port must be between 1 and 65535")
		}
		if c.RestAPI.Host == "" {
			return fmt.Errorf("rest_api.host is required when REST API is enabled")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{"console": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: console, json")
	}

	if c.Stats.RetentionDays < 0 {
		return fmt.Errorf("stats.retention_days must be >= 0")
	}
	if c.Stats.PerformanceLogSize <= 0 {
		return fmt.Errorf("stats.performance_log_size must be positive")
	}

	return nil
}

// EnsureBaseDir creates the memory base directory if it doesn't exist
func (c *Config) EnsureBaseDir() error {
	if err := os.MkdirAll(c.Memory.BaseDir, 0755); err != nil {
		return fmt.Errorf("failed to create memory directory: %w", err)
	}
	return nil
}

// ConfigPath returns the path to the configuration directory
func ConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".hiermem")
}
