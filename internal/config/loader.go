package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".relayclaw"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("RELAYCLAW_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// Load reads the config file, applies defaults and env overrides.
// A missing file is not an error: defaults plus env are returned.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	return LoadFrom(path)
}

// LoadFrom reads the config from an explicit path.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	expandPaths(cfg)
	applyFloors(cfg)
	return cfg, nil
}

// applyEnvOverrides layers RELAYCLAW_* environment variables over the
// file-sourced values, group by group.
func applyEnvOverrides(cfg *Config) {
	envconfig.Process("RELAYCLAW_PATHS", &cfg.Paths)
	envconfig.Process("RELAYCLAW_MODEL", &cfg.Model)
	envconfig.Process("RELAYCLAW_LOOP", &cfg.Loop)
	envconfig.Process("RELAYCLAW_SELFHEAL", &cfg.SelfHeal)
	envconfig.Process("RELAYCLAW_CHANNELS", &cfg.Channels.CLI)
	envconfig.Process("RELAYCLAW_CHANNELS", &cfg.Channels.Slack)
	envconfig.Process("RELAYCLAW_OPENAI", &cfg.Providers.OpenAI)
	envconfig.Process("RELAYCLAW_OPENROUTER", &cfg.Providers.OpenRouter)
	envconfig.Process("RELAYCLAW_VLLM", &cfg.Providers.VLLM)
	envconfig.Process("RELAYCLAW_TRACING", &cfg.Tracing)
	envconfig.Process("RELAYCLAW_OUTPUT", &cfg.Output)
	envconfig.Process("RELAYCLAW_TOOLS", &cfg.Tools.Exec)
	envconfig.Process("RELAYCLAW_TOOLS", &cfg.Tools.Web)
}

// expandPaths resolves ~ and derives state paths from the workspace when
// they are not set explicitly.
func expandPaths(cfg *Config) {
	cfg.Paths.Workspace = expandHome(cfg.Paths.Workspace)
	if cfg.Paths.StateDir == "" {
		cfg.Paths.StateDir = filepath.Join(cfg.Paths.Workspace, ".state")
	}
	cfg.Paths.StateDir = expandHome(cfg.Paths.StateDir)
	if cfg.Paths.MemoryDB == "" {
		cfg.Paths.MemoryDB = filepath.Join(cfg.Paths.StateDir, "memory.db")
	}
	cfg.Paths.MemoryDB = expandHome(cfg.Paths.MemoryDB)
	if cfg.Paths.CheckpointDB == "" {
		cfg.Paths.CheckpointDB = filepath.Join(cfg.Paths.StateDir, "checkpoints.db")
	}
	cfg.Paths.CheckpointDB = expandHome(cfg.Paths.CheckpointDB)
}

// applyFloors clamps nonsensical values back to usable minimums.
func applyFloors(cfg *Config) {
	if cfg.Loop.MaxIterations <= 0 {
		cfg.Loop.MaxIterations = DefaultConfig().Loop.MaxIterations
	}
	if cfg.Loop.TimeoutSeconds <= 0 {
		cfg.Loop.TimeoutSeconds = DefaultConfig().Loop.TimeoutSeconds
	}
	if cfg.Loop.HistoryCap < 2 {
		cfg.Loop.HistoryCap = DefaultConfig().Loop.HistoryCap
	}
	if cfg.Loop.RepeatWindow <= 0 {
		cfg.Loop.RepeatWindow = 3
	}
	if cfg.Loop.CheckpointIntervalSteps <= 0 {
		cfg.Loop.CheckpointIntervalSteps = DefaultConfig().Loop.CheckpointIntervalSteps
	}
	if cfg.SelfHeal.MaxRetriesPerFailure <= 0 {
		cfg.SelfHeal.MaxRetriesPerFailure = 3
	}
	if cfg.SelfHeal.MaxRetriesPerTurn <= 0 {
		cfg.SelfHeal.MaxRetriesPerTurn = 10
	}
}

func expandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p[1:], string(filepath.Separator)))
}

// Save writes the config to the default path, creating the directory.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
