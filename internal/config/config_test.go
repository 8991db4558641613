package config

import (
	"strings"
	"testing"
)

func TestValidateConfig(t *testing.T) {
	t.Run("DefaultsAreValid", func(t *testing.T) {
		if err := validateConfig(GetDefaults()); err != nil {
			t.Errorf("defaults rejected: %v", err)
		}
	})

	t.Run("InvalidPort", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Server.Port = 0
		if err := validateConfig(cfg); err == nil {
			t.Error("expected error for port 0")
		}
	})

	t.Run("InvalidLogLevel", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Logging.Level = "verbose"
		if err := validateConfig(cfg); err == nil {
			t.Error("expected error for unknown log level")
		}
	})

	t.Run("InvalidRecognizerBackend", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Recognizer.Backend = "spacy"
		if err := validateConfig(cfg); err == nil {
			t.Error("expected error for unknown backend")
		}
	})

	t.Run("VaultKey", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Masking.VaultKey = "zz"
		if err := validateConfig(cfg); err == nil {
			t.Error("expected error for non-hex vault key")
		}

		cfg.Masking.VaultKey = "abcd"
		if err := validateConfig(cfg); err == nil {
			t.Error("expected error for short vault key")
		}

		cfg.Masking.VaultKey = strings.Repeat("ab", 32)
		if err := validateConfig(cfg); err != nil {
			t.Errorf("valid vault key rejected: %v", err)
		}
	})

	t.Run("UnorderedThresholds", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Scoring.Thresholds.Critical = 90
		if err := validateConfig(cfg); err == nil {
			t.Error("expected error for unordered thresholds")
		}
	})

	t.Run("CustomTypeTier", func(t *testing.T) {
		cfg := GetDefaults()
		cfg.Registry.CustomTypes = []CustomTypeConfig{
			{ID: "matricula", Pattern: `\bMAT-\d{6}\b`, Tier: "extreme"},
		}
		if err := validateConfig(cfg); err == nil {
			t.Error("expected error for unknown tier")
		}
	})
}
