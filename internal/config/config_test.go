package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// resetViper gives each test a clean viper and a hermetic home, and
// returns the XDG config dir to drop files into.
func resetViper(t *testing.T) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("HOME", t.TempDir())
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	return xdg
}

func writeConfigFile(t *testing.T, xdg, content string) {
	t.Helper()
	dir := filepath.Join(xdg, "cortex")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config error: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.DataDir != "" || cfg.DatabasePath != "" {
		t.Errorf("paths = %q/%q, want empty (store decides)", cfg.DataDir, cfg.DatabasePath)
	}
	if cfg.SearchLimit != 0 || cfg.PerKindLimit != 0 || cfg.StaleAfterDays != 0 || cfg.SessionStaleAfter != 0 {
		t.Errorf("limits = %d/%d/%d/%v, want all zero (store decides)",
			cfg.SearchLimit, cfg.PerKindLimit, cfg.StaleAfterDays, cfg.SessionStaleAfter)
	}
	if !cfg.UpdateCheck {
		t.Error("UpdateCheck = false, want true by default")
	}
}

func TestLoad_ReadsConfigFile(t *testing.T) {
	xdg := resetViper(t)
	writeConfigFile(t, xdg, `
data_dir: /tmp/cortex-test
search_limit: 5
session_stale_after: 48h
reserved_triggers:
  - standup
  - retro
update_check: false
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.DataDir != "/tmp/cortex-test" {
		t.Errorf("DataDir = %q, want /tmp/cortex-test", cfg.DataDir)
	}
	if cfg.SearchLimit != 5 || cfg.SessionStaleAfter != 48*time.Hour {
		t.Errorf("limits = %d/%v, want 5/48h", cfg.SearchLimit, cfg.SessionStaleAfter)
	}
	if len(cfg.ReservedTriggers) != 2 || cfg.ReservedTriggers[0] != "standup" {
		t.Errorf("ReservedTriggers = %v, want [standup retro]", cfg.ReservedTriggers)
	}
	if cfg.UpdateCheck {
		t.Error("UpdateCheck = true, want false from file")
	}
	// Keys the file does not set keep their defaults.
	if cfg.PerKindLimit != 0 {
		t.Errorf("PerKindLimit = %d, want 0", cfg.PerKindLimit)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	xdg := resetViper(t)
	writeConfigFile(t, xdg, "search_limit: 5\n")
	t.Setenv("CORTEX_SEARCH_LIMIT", "50")
	t.Setenv("CORTEX_UPDATE_CHECK", "false")
	t.Setenv("CORTEX_RESERVED_TRIGGERS", "standup,retro")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.SearchLimit != 50 {
		t.Errorf("SearchLimit = %d, want env value 50", cfg.SearchLimit)
	}
	if cfg.UpdateCheck {
		t.Error("UpdateCheck = true, want false from env")
	}
	if len(cfg.ReservedTriggers) != 2 || cfg.ReservedTriggers[1] != "retro" {
		t.Errorf("ReservedTriggers = %v, want [standup retro]", cfg.ReservedTriggers)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	xdg := resetViper(t)
	writeConfigFile(t, xdg, "search_limit: [not: a: number\n")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed config file")
	}
}

func TestValidate_NormalizesNegatives(t *testing.T) {
	cfg := &Config{SearchLimit: -3, PerKindLimit: -1, StaleAfterDays: -10, SessionStaleAfter: -time.Hour}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if cfg.SearchLimit != 0 || cfg.PerKindLimit != 0 || cfg.StaleAfterDays != 0 || cfg.SessionStaleAfter != 0 {
		t.Errorf("negatives not normalized: %+v", cfg)
	}
}

func TestValidate_RejectsBadReservedTriggers(t *testing.T) {
	for _, bad := range []string{"/help", "two words", "Help", ""} {
		cfg := &Config{ReservedTriggers: []string{bad}}
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected error for reserved trigger %q", bad)
		}
	}
	cfg := &Config{ReservedTriggers: []string{"standup", "retro-notes"}}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate error on valid triggers: %v", err)
	}
}

func TestStoreConfig_MapsFields(t *testing.T) {
	cfg := &Config{
		DataDir:           "/data",
		SessionStaleAfter: 48 * time.Hour,
		SearchLimit:       25,
		ReservedTriggers:  []string{"standup"},
	}
	sc := cfg.StoreConfig()
	if sc.DataDir != "/data" || sc.SearchLimit != 25 {
		t.Errorf("StoreConfig = %+v, want fields carried over", sc)
	}
	if sc.SessionStaleAfter != 48*time.Hour {
		t.Errorf("SessionStaleAfter = %v, want 48h", sc.SessionStaleAfter)
	}
	if sc.PerKindLimit != 0 {
		t.Errorf("PerKindLimit = %d, want 0 passed through", sc.PerKindLimit)
	}
}
