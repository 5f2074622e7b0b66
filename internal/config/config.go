package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "SUNDIAL"

// Config is the environment-provided configuration. Every knob has a
// hard-coded fallback so the core runs with zero configuration.
type Config struct {
	DataDir               string
	LogLevel              string
	CleanupInterval       time.Duration
	PlanningInterval      time.Duration
	ConsolidationInterval time.Duration
	LockWait              time.Duration
	MaxActionsPerWorker   int
	CheckpointTimeout     time.Duration

	// Per-tier daily limit overrides; zero means use the built-in default.
	LightweightDailyLimit int64
	MidweightDailyLimit   int64
	HeavyweightDailyLimit int64
}

func (c Config) RegistryPath() string {
	return filepath.Join(c.DataDir, "registry.json")
}

func (c Config) RosterPath() string {
	return filepath.Join(c.DataDir, "fleet.toml")
}

func (c Config) PolicyPath() string {
	return filepath.Join(c.DataDir, "budget", "budget_policies.json")
}

func (c Config) BudgetDataDir() string {
	return filepath.Join(c.DataDir, "budget")
}

func (c Config) ArchiveDir() string {
	return filepath.Join(c.DataDir, "sunsets")
}

// Load reads configuration from SUNDIAL_* environment variables, applying
// defaults for anything unset.
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve home directory: %w", err)
	}

	v.SetDefault("data_dir", filepath.Join(homeDir, ".sundial"))
	v.SetDefault("log_level", "info")
	v.SetDefault("cleanup_interval", time.Hour)
	v.SetDefault("planning_interval", 10*time.Second)
	v.SetDefault("consolidation_interval", 30*time.Second)
	v.SetDefault("lock_wait", 5*time.Second)
	v.SetDefault("max_actions_per_worker", 5)
	v.SetDefault("checkpoint_timeout", 30*time.Minute)
	v.SetDefault("limit_lightweight_daily", 0)
	v.SetDefault("limit_midweight_daily", 0)
	v.SetDefault("limit_heavyweight_daily", 0)

	cfg := Config{
		DataDir:               v.GetString("data_dir"),
		LogLevel:              v.GetString("log_level"),
		CleanupInterval:       v.GetDuration("cleanup_interval"),
		PlanningInterval:      v.GetDuration("planning_interval"),
		ConsolidationInterval: v.GetDuration("consolidation_interval"),
		LockWait:              v.GetDuration("lock_wait"),
		MaxActionsPerWorker:   v.GetInt("max_actions_per_worker"),
		CheckpointTimeout:     v.GetDuration("checkpoint_timeout"),
		LightweightDailyLimit: v.GetInt64("limit_lightweight_daily"),
		MidweightDailyLimit:   v.GetInt64("limit_midweight_daily"),
		HeavyweightDailyLimit: v.GetInt64("limit_heavyweight_daily"),
	}

	if cfg.DataDir == "" {
		return Config{}, fmt.Errorf("data dir is empty")
	}
	cfg.DataDir = filepath.Clean(cfg.DataDir)

	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}
	if cfg.PlanningInterval <= 0 {
		cfg.PlanningInterval = 10 * time.Second
	}
	if cfg.ConsolidationInterval <= 0 {
		cfg.ConsolidationInterval = 30 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	if cfg.MaxActionsPerWorker <= 0 {
		cfg.MaxActionsPerWorker = 5
	}

	return cfg, nil
}
