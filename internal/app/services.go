package app

import (
	"fmt"
	"os"

	"suitectl/internal/config"
	"suitectl/internal/ports"
	"suitectl/internal/reaper"
	"suitectl/internal/runner"
	"suitectl/internal/services"
)

// Services holds all the initialized components
type Services struct {
	Allocator   *ports.Allocator
	Reaper      *reaper.Reaper
	Supervisor  *services.Supervisor
	Coordinator *runner.Coordinator
}

// InitializeServices wires the allocator, reaper, supervisor and coordinator
// from the loaded configuration and registers every configured service.
func InitializeServices(cfg *Config) (*Services, error) {
	sc := cfg.SuitectlConfig
	if sc == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	allocator := ports.New(ports.Config{EvictGrace: sc.Settings.EvictGrace})

	descriptors := make([]services.Descriptor, 0, len(sc.Services))
	var matchers []reaper.Matcher
	for _, def := range sc.Services {
		d := DescriptorFromDefinition(def)
		descriptors = append(descriptors, d)
		if d.OrphanMatcher != nil {
			matchers = append(matchers, d.OrphanMatcher)
		}
	}

	rp := reaper.New(reaper.Config{
		OrphanMatchers: matchers,
		SweepTimeout:   sc.Settings.SweepTimeout,
	})

	supCfg := services.SupervisorConfig{
		Allocator: allocator,
		Tracker:   rp,
		LogDir:    cfg.LogDir,
	}
	if cfg.Debug {
		supCfg.Output = os.Stderr
	}
	supervisor := services.NewSupervisor(supCfg)

	for _, d := range descriptors {
		if err := supervisor.Register(d); err != nil {
			return nil, fmt.Errorf("failed to register service %s: %w", d.Name, err)
		}
	}

	profiles := make([]runner.Profile, 0, len(sc.Profiles))
	for _, def := range sc.Profiles {
		profiles = append(profiles, runner.ProfileFromDefinition(def))
	}

	stabilization := sc.Settings.Stabilization()
	if cfg.Stabilize != nil {
		stabilization = *cfg.Stabilize
	}
	if stabilization == 0 {
		// Zero means the default inside the coordinator.
		stabilization = -1
	}

	coordinator := runner.NewCoordinator(runner.CoordinatorConfig{
		Supervisor: supervisor,
		Activator: runner.DirActivator{
			Dirs:    sc.Settings.Environments,
			BaseDir: sc.Settings.EnvironmentsDir,
		},
		StabilizationDelay: stabilization,
		Profiles:           profiles,
	})

	return &Services{
		Allocator:   allocator,
		Reaper:      rp,
		Supervisor:  supervisor,
		Coordinator: coordinator,
	}, nil
}

// DescriptorFromDefinition converts a configured service.
func DescriptorFromDefinition(def config.ServiceDefinition) services.Descriptor {
	d := services.Descriptor{
		Name:            def.Name,
		Command:         append([]string(nil), def.Command...),
		WorkingDir:      def.WorkingDir,
		Env:             def.Env,
		Port:            def.Port,
		HealthURL:       def.HealthURL,
		StartupTimeout:  def.StartupTimeout,
		ShutdownTimeout: def.ShutdownTimeout,
		MaxPortAttempts: def.MaxPortAttempts,
	}
	if len(def.CmdlinePatterns) > 0 {
		d.OrphanMatcher = reaper.PatternMatcher{
			NameSubstring:     def.ProcessName,
			CmdlineSubstrings: append([]string(nil), def.CmdlinePatterns...),
		}
	}
	return d
}
