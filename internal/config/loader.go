package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. Missing fields keep their
// defaults; ${ENV_VAR} references in the file are expanded before parsing.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	expanded := expandEnvVars(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// expandEnvVars substitutes ${VAR} references with environment values.
// Unset variables expand to empty strings.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// Validate checks cfg for values the service cannot run with.
func Validate(cfg *Config) error {
	if cfg.Service.Listen == "" {
		return fmt.Errorf("service.listen is empty")
	}
	if cfg.Engine.Command == "" {
		return fmt.Errorf("engine.command is empty")
	}
	if cfg.Engine.ReadyMarker == "" {
		return fmt.Errorf("engine.ready_marker is empty")
	}
	switch cfg.Engine.Strategy {
	case "stream", "framed":
	default:
		return fmt.Errorf("engine.strategy must be %q or %q, got %q", "stream", "framed", cfg.Engine.Strategy)
	}
	if cfg.Pool.MinSlots < 1 {
		return fmt.Errorf("pool.min_slots must be at least 1")
	}
	if cfg.Pool.MaxSlots < cfg.Pool.MinSlots {
		return fmt.Errorf("pool.max_slots (%d) must be >= pool.min_slots (%d)",
			cfg.Pool.MaxSlots, cfg.Pool.MinSlots)
	}
	if cfg.Pool.QueueCapacity < 0 {
		return fmt.Errorf("pool.queue_capacity must not be negative")
	}
	if cfg.Pool.JobTimeout <= 0 {
		return fmt.Errorf("pool.job_timeout must be positive")
	}
	if cfg.JobLog.Enabled && cfg.JobLog.Path == "" {
		return fmt.Errorf("job_log.path is empty but job_log.enabled is true")
	}
	return nil
}
