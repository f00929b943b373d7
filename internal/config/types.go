package config

import (
	"time"
)

// SuitectlConfig is the top-level configuration structure for suitectl.
type SuitectlConfig struct {
	Settings Settings            `yaml:"settings" toml:"settings"`
	Services []ServiceDefinition `yaml:"services" toml:"services"`
	Profiles []ProfileDefinition `yaml:"profiles" toml:"profiles"`
}

// Settings holds orchestration-wide knobs.
type Settings struct {
	// StabilizationDelay is waited after services come up and before the test
	// command runs. An explicit zero disables the wait; nil means the default.
	StabilizationDelay *time.Duration `yaml:"stabilizationDelay,omitempty" toml:"stabilizationDelay,omitempty"`
	// SweepTimeout bounds a single cleanup sweep.
	SweepTimeout time.Duration `yaml:"sweepTimeout,omitempty" toml:"sweepTimeout,omitempty"`
	// EvictGrace is how long to wait after signalling a port owner before re-probing.
	EvictGrace time.Duration `yaml:"evictGrace,omitempty" toml:"evictGrace,omitempty"`
	// EnvironmentsDir is searched for <name>/ when an environment is not listed
	// in Environments.
	EnvironmentsDir string `yaml:"environmentsDir,omitempty" toml:"environmentsDir,omitempty"`
	// Environments maps scoped environment names to their root directories.
	Environments map[string]string `yaml:"environments,omitempty" toml:"environments,omitempty"`
}

// ServiceDefinition describes one auxiliary service (backend, frontend, ...).
type ServiceDefinition struct {
	Name       string            `yaml:"name" toml:"name"`
	Command    []string          `yaml:"command" toml:"command"` // argv; tokens containing the port are rewritten on failover
	WorkingDir string            `yaml:"workingDir,omitempty" toml:"workingDir,omitempty"`
	Env        map[string]string `yaml:"env,omitempty" toml:"env,omitempty"`
	Port       int               `yaml:"port" toml:"port"`
	HealthURL  string            `yaml:"healthURL" toml:"healthURL"`

	StartupTimeout  time.Duration `yaml:"startupTimeout,omitempty" toml:"startupTimeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout,omitempty" toml:"shutdownTimeout,omitempty"`
	MaxPortAttempts int           `yaml:"maxPortAttempts,omitempty" toml:"maxPortAttempts,omitempty"`

	// Orphan matching: process name substring plus any of the cmdline substrings.
	ProcessName     string   `yaml:"processName,omitempty" toml:"processName,omitempty"`
	CmdlinePatterns []string `yaml:"cmdlinePatterns,omitempty" toml:"cmdlinePatterns,omitempty"`
}

// ProfileDefinition describes a test category.
type ProfileDefinition struct {
	Name     string            `yaml:"name" toml:"name"`
	Services []string          `yaml:"services,omitempty" toml:"services,omitempty"`
	Command  []string          `yaml:"command" toml:"command"`
	Timeout  time.Duration     `yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	Parallel bool              `yaml:"parallel,omitempty" toml:"parallel,omitempty"`
	Options  map[string]string `yaml:"options,omitempty" toml:"options,omitempty"`
}

// Stabilization returns the configured stabilization delay, or the default
// when none was set.
func (s Settings) Stabilization() time.Duration {
	if s.StabilizationDelay == nil {
		return DefaultStabilizationDelay
	}
	return *s.StabilizationDelay
}

// Service returns the definition with the given name.
func (c SuitectlConfig) Service(name string) (ServiceDefinition, bool) {
	for _, svc := range c.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return ServiceDefinition{}, false
}
