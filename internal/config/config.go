// Package config loads server settings from config files and CORTEX_*
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/HendryAvila/cortex/internal/knowledge"
)

// Config is everything tunable without rebuilding. Zero values mean
// "use the built-in default", so an empty file and no file behave the
// same.
type Config struct {
	// DataDir holds the database and anything else cortex writes.
	// Empty means ~/.cortex.
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// DatabasePath overrides the SQLite file location entirely.
	DatabasePath string `yaml:"database_path" mapstructure:"database_path"`

	// SearchLimit caps kind-scoped search results.
	SearchLimit int `yaml:"search_limit" mapstructure:"search_limit"`

	// PerKindLimit caps each kind's contribution to a unified search.
	PerKindLimit int `yaml:"per_kind_limit" mapstructure:"per_kind_limit"`

	// StaleAfterDays is the default age cutoff for the stale-note scan.
	StaleAfterDays int `yaml:"stale_after_days" mapstructure:"stale_after_days"`

	// SessionStaleAfter is how long an idle active session stays
	// resumable before the next milestone rolls it over.
	SessionStaleAfter time.Duration `yaml:"session_stale_after" mapstructure:"session_stale_after"`

	// ReservedTriggers replaces the built-in list of trigger bodies
	// prompts may not claim. Entries are bare lowercase names, no
	// leading slash.
	ReservedTriggers []string `yaml:"reserved_triggers" mapstructure:"reserved_triggers"`

	// UpdateCheck controls the background release check on startup.
	UpdateCheck bool `yaml:"update_check" mapstructure:"update_check"`
}

// Load reads config.yaml from the working directory, $XDG_CONFIG_HOME/cortex,
// ~/.config/cortex, or ~/.cortex, then applies CORTEX_* environment
// variables on top. A missing file is fine; a malformed one is not.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.AddConfigPath(".")
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		viper.AddConfigPath(filepath.Join(xdg, "cortex"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "cortex"))
		viper.AddConfigPath(filepath.Join(home, ".cortex"))
	}

	viper.SetEnvPrefix("CORTEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults also register each key so values set only through the
	// environment survive Unmarshal.
	viper.SetDefault("data_dir", "")
	viper.SetDefault("database_path", "")
	viper.SetDefault("search_limit", 0)
	viper.SetDefault("per_kind_limit", 0)
	viper.SetDefault("stale_after_days", 0)
	viper.SetDefault("session_stale_after", time.Duration(0))
	viper.SetDefault("reserved_triggers", []string(nil))
	viper.SetDefault("update_check", true)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes out-of-range numbers and rejects settings the
// store would silently misread.
func (c *Config) Validate() error {
	if c.SearchLimit < 0 {
		c.SearchLimit = 0
	}
	if c.PerKindLimit < 0 {
		c.PerKindLimit = 0
	}
	if c.StaleAfterDays < 0 {
		c.StaleAfterDays = 0
	}
	if c.SessionStaleAfter < 0 {
		c.SessionStaleAfter = 0
	}
	for _, trig := range c.ReservedTriggers {
		if trig == "" || strings.ContainsAny(trig, "/ ") || trig != strings.ToLower(trig) {
			return fmt.Errorf("config: reserved_triggers entry %q must be a bare lowercase name", trig)
		}
	}
	return nil
}

// StoreConfig maps the file-level settings onto the store's knobs.
// Zero values stay zero so the store applies its own defaults.
func (c *Config) StoreConfig() knowledge.Config {
	return knowledge.Config{
		DataDir:           c.DataDir,
		DatabasePath:      c.DatabasePath,
		SessionStaleAfter: c.SessionStaleAfter,
		ReservedTriggers:  c.ReservedTriggers,
		SearchLimit:       c.SearchLimit,
		PerKindLimit:      c.PerKindLimit,
		StaleAfterDays:    c.StaleAfterDays,
	}
}
