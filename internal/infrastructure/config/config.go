// Package config loads the proxy's layered configuration using viper,
// following the teacher's Load()/setDefaults() shape: defaults → global
// config file → project-local config file → environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level application configuration.
type Config struct {
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Log           LogConfig           `mapstructure:"log"`
	Backends      []BackendConfig     `mapstructure:"backends"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Capture       CaptureConfig       `mapstructure:"capture"`
	SessionStore  SessionStoreConfig  `mapstructure:"session_store"`
	Command       CommandConfig       `mapstructure:"command"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Redaction     RedactionConfig     `mapstructure:"redaction"`
	Loop          LoopConfig          `mapstructure:"loop"`
	EditPrecision EditPrecisionConfig `mapstructure:"edit_precision"`
	ToolRepair    ToolRepairConfig    `mapstructure:"tool_repair"`
}

// GatewayConfig is the HTTP listener configuration.
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// BackendConfig configures one pluggable LLM backend (C7).
type BackendConfig struct {
	Name    string   `mapstructure:"name"` // openai, anthropic, gemini, openrouter, ...
	BaseURL string   `mapstructure:"base_url"`
	APIKeys []string `mapstructure:"api_keys"` // ordered key-fan candidates, named <name>-keyN internally
	Models  []string `mapstructure:"models"`
}

// RateLimitConfig configures the default sliding-window limiter (C6).
type RateLimitConfig struct {
	DefaultLimit  int           `mapstructure:"default_limit"`
	DefaultWindow time.Duration `mapstructure:"default_window"`
}

// CaptureConfig configures wire capture (C12).
type CaptureConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Dir            string        `mapstructure:"dir"`
	File           string        `mapstructure:"file"`
	MaxFileBytes   int64         `mapstructure:"max_file_bytes"`
	MaxTotalBytes  int64         `mapstructure:"total_max_bytes"`
	MaxRotations   int           `mapstructure:"max_rotations"`
	TruncateBytes  int           `mapstructure:"truncate_bytes"`
	RotateInterval time.Duration `mapstructure:"rotate_interval"`
}

// SessionStoreConfig selects and configures the pluggable SessionStore
// backend (C2): "memory" (default) or "sqlite" (gorm + mattn/go-sqlite3).
type SessionStoreConfig struct {
	Backend string        `mapstructure:"backend"`
	DSN     string        `mapstructure:"dsn"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// CommandConfig configures the in-band command DSL (C3/C4).
type CommandConfig struct {
	Prefix             string `mapstructure:"prefix"`
	RoutesFile         string `mapstructure:"routes_file"`
	InteractiveDefault bool   `mapstructure:"interactive_default"`
}

// AuthConfig lists accepted client API keys for the proxy's own HTTP
// surface (not to be confused with backend APIKeys).
type AuthConfig struct {
	Keys []string `mapstructure:"keys"`
}

// RedactionConfig seeds the redaction middleware's known-key set (C8);
// at runtime this is unioned with every BackendConfig.APIKeys entry.
type RedactionConfig struct {
	ExtraKeys []string `mapstructure:"extra_keys"`
}

// LoopConfig holds the application-wide defaults for the loop-detection
// middleware (C9.1); per-session overrides live on session.State.Loop.
type LoopConfig struct {
	MinPatternLength int `mapstructure:"min_pattern_length"`
	MaxPatternLength int `mapstructure:"max_pattern_length"`
	RepeatThreshold  int `mapstructure:"repeat_threshold"`
}

// EditPrecisionConfig configures C9.2.
type EditPrecisionConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	LowTemperature float64       `mapstructure:"low_temperature"`
	MinTopP        float64       `mapstructure:"min_top_p"`
	PendingTTL     time.Duration `mapstructure:"pending_ttl"`
}

// ToolRepairConfig configures C9.3.
type ToolRepairConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load builds a Config from defaults, the global config file
// (~/.ngoclaw-proxy/config.yaml), an optional project-local config.yaml,
// and PROXY_*-prefixed environment variables, in that priority order.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".ngoclaw-proxy")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	for _, localDir := range []string{".", "./config"} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err != nil {
			continue
		}
		v2 := viper.New()
		v2.SetConfigFile(localPath)
		if err := v2.ReadInConfig(); err == nil {
			_ = v.MergeConfigMap(v2.AllSettings())
		}
		break
	}

	v.SetEnvPrefix("PROXY")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("rate_limit.default_limit", 60)
	v.SetDefault("rate_limit.default_window", "60s")

	v.SetDefault("capture.enabled", false)
	v.SetDefault("capture.dir", "./logs")
	v.SetDefault("capture.file", "wire_capture.log")
	v.SetDefault("capture.max_file_bytes", 10*1024*1024)
	v.SetDefault("capture.total_max_bytes", 100*1024*1024)
	v.SetDefault("capture.max_rotations", 9)
	v.SetDefault("capture.truncate_bytes", 65536)
	v.SetDefault("capture.rotate_interval", "24h")

	v.SetDefault("session_store.backend", "memory")
	v.SetDefault("session_store.ttl", "24h")

	v.SetDefault("command.prefix", "!/")
	v.SetDefault("command.interactive_default", true)

	v.SetDefault("loop.min_pattern_length", 8)
	v.SetDefault("loop.max_pattern_length", 100)
	v.SetDefault("loop.repeat_threshold", 3)

	v.SetDefault("edit_precision.enabled", true)
	v.SetDefault("edit_precision.low_temperature", 0.15)
	v.SetDefault("edit_precision.min_top_p", 0.9)
	v.SetDefault("edit_precision.pending_ttl", "10m")

	v.SetDefault("tool_repair.enabled", false)
}
