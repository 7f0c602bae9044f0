// Package config loads engine configuration with layered precedence:
// built-in defaults, then an optional TOML file, then KOKORO_* environment
// variables. Environment keys map underscores to dots, so
// KOKORO_MODEL_PROVIDER overrides model.provider.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full engine configuration.
type Config struct {
	Model struct {
		Provider    string  `koanf:"provider"` // openai or anthropic
		Name        string  `koanf:"name"`
		APIKey      string  `koanf:"api_key"`
		BaseURL     string  `koanf:"base_url"`
		Temperature float64 `koanf:"temperature"`
		MaxTokens   int64   `koanf:"max_tokens"`
	} `koanf:"model"`

	Engine struct {
		HistoryLimit     int    `koanf:"history_limit"`
		TimeGapHint      string `koanf:"time_gap_hint"`     // Go duration, e.g. "1h"
		ScheduleInterval string `koanf:"schedule_interval"` // Go duration, e.g. "5s"
		TypingDelay      bool   `koanf:"typing_delay"`
	} `koanf:"engine"`

	Log struct {
		Level  string `koanf:"level"`  // debug, info, warn, error
		Format string `koanf:"format"` // json or text
	} `koanf:"log"`
}

// Load builds the configuration. An empty path checks the default locations
// and silently skips a missing file; an explicit path must load.
func Load(configPath string) (*Config, error) {
	var k = koanf.New(".")

	k.Load(confmap.Provider(map[string]interface{}{
		"model.provider":           "openai",
		"model.temperature":        0.7,
		"model.max_tokens":         4096,
		"engine.history_limit":     50,
		"engine.time_gap_hint":     "1h",
		"engine.schedule_interval": "5s",
		"engine.typing_delay":      true,
		"log.level":                "info",
		"log.format":               "json",
	}, "."), nil)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./kokoro.toml", "$HOME/.kokoro.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	k.Load(env.Provider("KOKORO_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "KOKORO_")), "_", ".", -1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	return &config, nil
}

// Validate checks the fields the engine cannot default.
func Validate(config *Config) error {
	switch config.Model.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown model provider %q", config.Model.Provider)
	}
	if _, err := config.TimeGapHint(); err != nil {
		return err
	}
	if _, err := config.ScheduleInterval(); err != nil {
		return err
	}
	return nil
}

// TimeGapHint parses the elapsed-time hint threshold.
func (c *Config) TimeGapHint() (time.Duration, error) {
	d, err := time.ParseDuration(c.Engine.TimeGapHint)
	if err != nil {
		return 0, fmt.Errorf("invalid engine.time_gap_hint: %w", err)
	}
	return d, nil
}

// ScheduleInterval parses the daemon poll cadence.
func (c *Config) ScheduleInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Engine.ScheduleInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid engine.schedule_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("engine.schedule_interval must be positive")
	}
	return d, nil
}
