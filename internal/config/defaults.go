package config

import (
	"time"
)

const (
	// BackendServiceName is the conventional name of the API process.
	BackendServiceName = "backend"
	// FrontendServiceName is the conventional name of the web UI process.
	FrontendServiceName = "frontend"
)

const (
	DefaultStabilizationDelay = 5 * time.Second
	DefaultSweepTimeout       = 30 * time.Second
	DefaultEvictGrace         = 2 * time.Second
	DefaultStartupTimeout     = 30 * time.Second
	DefaultShutdownTimeout    = 10 * time.Second
	DefaultMaxPortAttempts    = 5
)

// DefaultBackend returns the built-in backend service definition.
func DefaultBackend() ServiceDefinition {
	return ServiceDefinition{
		Name:            BackendServiceName,
		Command:         []string{"python", "-m", "uvicorn", "api.main:app", "--host", "127.0.0.1", "--port", "5003"},
		WorkingDir:      ".",
		Port:            5003,
		HealthURL:       "http://127.0.0.1:5003/api/health",
		StartupTimeout:  DefaultStartupTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		MaxPortAttempts: DefaultMaxPortAttempts,
		ProcessName:     "python",
		CmdlinePatterns: []string{"uvicorn", "api.main", "flask"},
	}
}

// DefaultFrontend returns the built-in frontend service definition.
func DefaultFrontend() ServiceDefinition {
	return ServiceDefinition{
		Name:       FrontendServiceName,
		Command:    []string{"npx", "react-scripts", "start"},
		WorkingDir: "interface_web",
		Env: map[string]string{
			"PORT":    "3000",
			"BROWSER": "none",
		},
		Port:            3000,
		HealthURL:       "http://127.0.0.1:3000",
		StartupTimeout:  90 * time.Second,
		ShutdownTimeout: DefaultShutdownTimeout,
		MaxPortAttempts: DefaultMaxPortAttempts,
		ProcessName:     "node",
		CmdlinePatterns: []string{"react-scripts", "webpack", "vite"},
	}
}

// DefaultProfiles returns the built-in test categories.
func DefaultProfiles() []ProfileDefinition {
	return []ProfileDefinition{
		{
			Name:     "unit",
			Command:  []string{"python", "-m", "pytest", "tests/unit"},
			Timeout:  5 * time.Minute,
			Parallel: true,
		},
		{
			Name:     "integration",
			Services: []string{BackendServiceName, FrontendServiceName},
			Command:  []string{"python", "-m", "pytest", "tests/integration"},
			Timeout:  10 * time.Minute,
		},
		{
			Name:     "functional",
			Services: []string{BackendServiceName},
			Command:  []string{"python", "-m", "pytest", "tests/functional"},
			Timeout:  10 * time.Minute,
		},
		{
			Name:     "browser",
			Services: []string{BackendServiceName, FrontendServiceName},
			Command:  []string{"python", "-m", "pytest", "tests/browser"},
			Timeout:  15 * time.Minute,
			Options: map[string]string{
				"browser":  "chromium",
				"headless": "true",
			},
		},
		{
			Name:     "e2e",
			Services: []string{BackendServiceName, FrontendServiceName},
			Command:  []string{"python", "-m", "pytest", "tests/e2e"},
			Timeout:  20 * time.Minute,
			Options: map[string]string{
				"browser":  "chromium",
				"headless": "true",
			},
		},
	}
}

// GetDefaultConfig returns the built-in configuration: a backend, a frontend
// and the default test categories.
func GetDefaultConfig() SuitectlConfig {
	return SuitectlConfig{
		Settings: Settings{
			StabilizationDelay: durationPtr(DefaultStabilizationDelay),
			SweepTimeout:       DefaultSweepTimeout,
			EvictGrace:         DefaultEvictGrace,
			EnvironmentsDir:    ".venvs",
			Environments:       map[string]string{},
		},
		Services: []ServiceDefinition{DefaultBackend(), DefaultFrontend()},
		Profiles: DefaultProfiles(),
	}
}

func durationPtr(d time.Duration) *time.Duration {
	return &d
}
