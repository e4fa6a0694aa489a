package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that decodes from yaml values like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the complete renderd configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Engine  EngineConfig  `yaml:"engine"`
	Pool    PoolConfig    `yaml:"pool"`
	Cache   CacheConfig   `yaml:"cache,omitempty"`
	JobLog  JobLogConfig  `yaml:"job_log,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name         string `yaml:"name"`
	Listen       string `yaml:"listen"`
	LogLevel     string `yaml:"log_level"`
	CORSOrigin   string `yaml:"cors_origin,omitempty"`
	MaxBodyBytes int64  `yaml:"max_body_bytes,omitempty"`
	PIDFile      string `yaml:"pid_file,omitempty"`
}

// EngineConfig defines how rendering-engine processes are spawned and spoken to.
type EngineConfig struct {
	Command     string   `yaml:"command"`
	Args        []string `yaml:"args,omitempty"`
	ReadyMarker string   `yaml:"ready_marker"`
	Strategy    string   `yaml:"strategy"` // stream | framed
}

// PoolConfig defines the dispatcher's execution slots and queue.
type PoolConfig struct {
	MinSlots      int      `yaml:"min_slots"`
	MaxSlots      int      `yaml:"max_slots"`
	QueueCapacity int      `yaml:"queue_capacity,omitempty"` // 0 = 2 * max_slots
	IdleTimeout   Duration `yaml:"idle_timeout"`
	JobTimeout    Duration `yaml:"job_timeout"`
}

// CacheConfig defines the in-memory result cache.
type CacheConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxEntries int  `yaml:"max_entries,omitempty"`
}

// JobLogConfig defines the sqlite render log.
type JobLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:         "renderd",
			Listen:       "127.0.0.1:8090",
			LogLevel:     "info",
			MaxBodyBytes: 4 << 20,
			PIDFile:      "./data/renderd.pid",
		},
		Engine: EngineConfig{
			Command:     "python3",
			Args:        []string{"bridge/weasyprint_stream.py"},
			ReadyMarker: "WeasyPrint bridge ready",
			Strategy:    "stream",
		},
		Pool: PoolConfig{
			MinSlots:    1,
			MaxSlots:    4,
			IdleTimeout: Duration(2 * time.Minute),
			JobTimeout:  Duration(30 * time.Second),
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 128,
		},
		JobLog: JobLogConfig{
			Enabled: false,
			Path:    "./data/renderd.db",
		},
	}
}
