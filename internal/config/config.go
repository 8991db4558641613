package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Set defaults
	config := GetDefaults()

	// Configure viper
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/lgpd-sentinel/")
	viper.AddConfigPath("$HOME/.lgpd-sentinel/")

	// Environment variable overrides
	viper.SetEnvPrefix("SENTINEL")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Use specific config file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
	}

	// Read configuration
	if err := viper.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if config.Recognizer.Backend != "lexicon" && config.Recognizer.Backend != "onnx" {
		return fmt.Errorf("invalid recognizer backend: %s (must be lexicon or onnx)", config.Recognizer.Backend)
	}

	if config.Masking.VaultKey != "" {
		key, err := hex.DecodeString(config.Masking.VaultKey)
		if err != nil {
			return fmt.Errorf("vault key is not valid hex: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("vault key must be 32 bytes, got %d", len(key))
		}
	}

	t := config.Scoring.Thresholds
	if !(t.Critical < t.High && t.High < t.Medium) {
		return fmt.Errorf("scoring thresholds must be ordered critical < high < medium, got %d/%d/%d",
			t.Critical, t.High, t.Medium)
	}

	for _, custom := range config.Registry.CustomTypes {
		switch custom.Tier {
		case "low", "medium", "high":
		default:
			return fmt.Errorf("invalid tier %q for custom type %q", custom.Tier, custom.ID)
		}
	}

	return nil
}

// Watch starts watching the configuration file for changes
func Watch(config *Config, callback func(*Config)) error {
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		newConfig := &Config{}
		if err := viper.Unmarshal(newConfig); err != nil {
			// Log error but don't crash
			return
		}

		if err := validateConfig(newConfig); err != nil {
			return
		}

		callback(newConfig)
	})

	return nil
}
