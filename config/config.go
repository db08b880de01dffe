package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"subhub/models"
)

// TomlDefaults holds the settings values substituted when the store has no
// settings record or the read fails.
type TomlDefaults struct {
	FileName       string  `toml:"file_name,omitempty"`
	Converter      string  `toml:"converter,omitempty"`
	Config         string  `toml:"config,omitempty"`
	PrependName    bool    `toml:"prepend_name,omitempty"`
	ExpireDays     int64   `toml:"expire_days,omitempty"`
	TrafficPercent float64 `toml:"traffic_percent,omitempty"`
}

// TomlConfig represents the top-level configuration
type TomlConfig struct {
	Defaults TomlDefaults `toml:"defaults"`
}

func LoadConfig(path string) (*TomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config TomlConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

// DefaultSettings returns the documented fallback settings, with the TOML
// defaults layered on top when a config file was provided.
func DefaultSettings(cfg *TomlConfig) models.Settings {
	settings := models.Settings{
		FileName:       "subhub",
		Converter:      "https://sub.xeton.dev",
		Config:         "",
		PrependName:    true,
		ExpireDays:     7,
		TrafficPercent: 90,
	}

	if cfg == nil {
		return settings
	}

	d := cfg.Defaults
	if d.FileName != "" {
		settings.FileName = d.FileName
	}
	if d.Converter != "" {
		settings.Converter = d.Converter
	}
	if d.Config != "" {
		settings.Config = d.Config
	}
	if d.PrependName {
		settings.PrependName = true
	}
	if d.ExpireDays > 0 {
		settings.ExpireDays = d.ExpireDays
	}
	if d.TrafficPercent > 0 {
		settings.TrafficPercent = d.TrafficPercent
	}

	return settings
}
