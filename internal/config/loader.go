package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/suitectl"
	projectConfigDir = ".suitectl"
	configFileName   = "config.yaml"
)

// LoadConfig loads the suitectl configuration by layering default, user, and
// project settings. A non-empty explicitPath is applied last.
func LoadConfig(explicitPath string) (SuitectlConfig, error) {
	// 1. Start with the default configuration
	config := GetDefaultConfig()

	// 2. User-specific configuration
	userConfigPath, err := getUserConfigPath()
	if err != nil {
		// User config is optional
		fmt.Fprintf(os.Stderr, "Warning: Could not determine user config path: %v\n", err)
	} else if fileExists(userConfigPath) {
		userConfig, err := LoadConfigFromFile(userConfigPath)
		if err != nil {
			return SuitectlConfig{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
		}
		config = mergeConfigs(config, userConfig)
	}

	// 3. Project-specific configuration
	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not determine project config path: %v\n", err)
	} else if fileExists(projectConfigPath) {
		projectConfig, err := LoadConfigFromFile(projectConfigPath)
		if err != nil {
			return SuitectlConfig{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
		}
		config = mergeConfigs(config, projectConfig)
	}

	// 4. Explicit path from the command line
	if explicitPath != "" {
		explicitConfig, err := LoadConfigFromFile(explicitPath)
		if err != nil {
			return SuitectlConfig{}, fmt.Errorf("error loading config from %s: %w", explicitPath, err)
		}
		config = mergeConfigs(config, explicitConfig)
	}

	applyDefaults(&config)
	if err := Validate(config); err != nil {
		return SuitectlConfig{}, err
	}
	return config, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadConfigFromFile loads a single configuration file. Files with a .toml
// extension are decoded as TOML, anything else as YAML.
func LoadConfigFromFile(filePath string) (SuitectlConfig, error) {
	var config SuitectlConfig

	if strings.EqualFold(filepath.Ext(filePath), ".toml") {
		if _, err := toml.DecodeFile(filePath, &config); err != nil {
			return SuitectlConfig{}, fmt.Errorf("failed to decode TOML: %w", err)
		}
		return config, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return SuitectlConfig{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return SuitectlConfig{}, fmt.Errorf("failed to decode YAML: %w", err)
	}
	return config, nil
}

// mergeConfigs merges 'overlay' config into 'base' config. Services and
// profiles are replaced by name; new entries are appended in overlay order.
func mergeConfigs(base, overlay SuitectlConfig) SuitectlConfig {
	merged := base

	if overlay.Settings.StabilizationDelay != nil {
		merged.Settings.StabilizationDelay = durationPtr(*overlay.Settings.StabilizationDelay)
	}
	if overlay.Settings.SweepTimeout != 0 {
		merged.Settings.SweepTimeout = overlay.Settings.SweepTimeout
	}
	if overlay.Settings.EvictGrace != 0 {
		merged.Settings.EvictGrace = overlay.Settings.EvictGrace
	}
	if overlay.Settings.EnvironmentsDir != "" {
		merged.Settings.EnvironmentsDir = overlay.Settings.EnvironmentsDir
	}
	if len(overlay.Settings.Environments) > 0 {
		envs := make(map[string]string, len(base.Settings.Environments)+len(overlay.Settings.Environments))
		for k, v := range base.Settings.Environments {
			envs[k] = v
		}
		for k, v := range overlay.Settings.Environments {
			envs[k] = v
		}
		merged.Settings.Environments = envs
	}

	merged.Services = mergeByName(base.Services, overlay.Services, func(s ServiceDefinition) string { return s.Name })
	merged.Profiles = mergeByName(base.Profiles, overlay.Profiles, func(p ProfileDefinition) string { return p.Name })

	return merged
}

func mergeByName[T any](base, overlay []T, name func(T) string) []T {
	result := make([]T, len(base))
	copy(result, base)

	index := make(map[string]int, len(result))
	for i, item := range result {
		index[name(item)] = i
	}
	for _, item := range overlay {
		if i, ok := index[name(item)]; ok {
			result[i] = item
			continue
		}
		index[name(item)] = len(result)
		result = append(result, item)
	}
	return result
}

// applyDefaults fills zero-valued timeouts and limits. The stabilization
// delay is only defaulted when absent, since zero disables it.
func applyDefaults(config *SuitectlConfig) {
	if config.Settings.StabilizationDelay == nil {
		config.Settings.StabilizationDelay = durationPtr(DefaultStabilizationDelay)
	}
	if config.Settings.SweepTimeout == 0 {
		config.Settings.SweepTimeout = DefaultSweepTimeout
	}
	if config.Settings.EvictGrace == 0 {
		config.Settings.EvictGrace = DefaultEvictGrace
	}
	for i := range config.Services {
		svc := &config.Services[i]
		if svc.StartupTimeout == 0 {
			svc.StartupTimeout = DefaultStartupTimeout
		}
		if svc.ShutdownTimeout == 0 {
			svc.ShutdownTimeout = DefaultShutdownTimeout
		}
		if svc.MaxPortAttempts == 0 {
			svc.MaxPortAttempts = DefaultMaxPortAttempts
		}
	}
}

// Validate checks that names are unique and that profiles only reference
// known services.
func Validate(config SuitectlConfig) error {
	services := make(map[string]bool, len(config.Services))
	for _, svc := range config.Services {
		if svc.Name == "" {
			return fmt.Errorf("service definition without a name")
		}
		if services[svc.Name] {
			return fmt.Errorf("duplicate service %q", svc.Name)
		}
		if len(svc.Command) == 0 {
			return fmt.Errorf("service %q has no command", svc.Name)
		}
		services[svc.Name] = true
	}

	profiles := make(map[string]bool, len(config.Profiles))
	for _, p := range config.Profiles {
		if p.Name == "" {
			return fmt.Errorf("profile definition without a name")
		}
		if profiles[p.Name] {
			return fmt.Errorf("duplicate profile %q", p.Name)
		}
		if len(p.Command) == 0 {
			return fmt.Errorf("profile %q has no command", p.Name)
		}
		for _, name := range p.Services {
			if !services[name] {
				return fmt.Errorf("profile %q requires unknown service %q", p.Name, name)
			}
		}
		profiles[p.Name] = true
	}
	return nil
}

// GetUserConfigDir returns the user configuration directory path
func GetUserConfigDir() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir), nil
}
