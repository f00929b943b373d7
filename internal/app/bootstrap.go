package app

import (
	"context"
	"fmt"
	"os"
	"sync"

	"suitectl/internal/config"
	"suitectl/internal/reaper"
	"suitectl/internal/runner"
	"suitectl/internal/services"
	"suitectl/pkg/logging"
)

// Application is the main application structure that bootstraps and runs suitectl
type Application struct {
	config   *Config
	services *Services
	hook     *reaper.SignalHook

	mu          sync.Mutex
	cancel      context.CancelFunc
	runFinished chan struct{}
}

// NewApplication creates and initializes a new application instance
func NewApplication(cfg *Config) (*Application, error) {
	// Configure logging based on debug flag
	appLogLevel := logging.LevelInfo
	if cfg.Debug {
		appLogLevel = logging.LevelDebug
	}
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	logging.Init(cfg.LogFormat, appLogLevel, output)

	if cfg.SuitectlConfig == nil {
		suitectlCfg, err := config.LoadConfig(cfg.ConfigPath)
		if err != nil {
			logging.Error("Bootstrap", err, "Failed to load suitectl configuration")
			return nil, fmt.Errorf("failed to load suitectl configuration: %w", err)
		}
		cfg.SuitectlConfig = &suitectlCfg
	}

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", cfg.LogDir, err)
		}
	}

	services, err := InitializeServices(cfg)
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a := &Application{
		config:   cfg,
		services: services,
	}
	services.Reaper.RegisterCleanupHandler("test-run", a.waitForRun)
	a.hook = reaper.NewSignalHook(services.Reaper, a.cancelActive, cfg.Exit)
	return a, nil
}

// Services exposes the wired components.
func (a *Application) Services() *Services {
	return a.services
}

// activate derives the command context and arms the signal hook, which
// cancels it and sweeps on SIGINT or SIGTERM.
func (a *Application) activate(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	a.hook.Install()
	return ctx, cancel
}

func (a *Application) cancelActive() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

// Profiles returns the test category catalog.
func (a *Application) Profiles() []runner.Profile {
	return a.services.Coordinator.Profiles()
}

// Status reports every configured service.
func (a *Application) Status(ctx context.Context) []services.ServiceStatus {
	return a.services.Supervisor.Status(ctx)
}
