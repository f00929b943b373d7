package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"suitectl/internal/process"
	"suitectl/internal/reaper"
	"suitectl/pkg/logging"
)

const (
	// DefaultPollInterval is the spacing between startup health probes.
	DefaultPollInterval = 1 * time.Second
	// DefaultHealthTimeout bounds a single startup health probe.
	DefaultHealthTimeout = 2 * time.Second
	// outputTailLines is how much child output is logged on a failed start.
	outputTailLines = 20
)

// For mocking in tests
var startProcess = process.Start

// RunningService is the handle kept for a service while it runs.
type RunningService struct {
	Name      string
	Handle    *process.Handle
	Port      int
	HealthURL string
	StartedAt time.Time
}

// StartResult is the outcome of StartWithFailover. Err names the failing
// phase when OK is false.
type StartResult struct {
	OK   bool
	Port int
	Err  error
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Allocator PortAllocator
	Tracker   ProcessTracker
	// PollInterval defaults to one second.
	PollInterval time.Duration
	// HealthTimeout bounds each probe; defaults to two seconds.
	HealthTimeout time.Duration
	// Output receives a copy of every child's output when set.
	Output io.Writer
	// LogDir, when set, receives <name>.log per service instead of a pipe,
	// leaving services able to outlive suitectl.
	LogDir string
}

// Supervisor holds the service registry and drives start, stop and failover.
// At most one running handle exists per service name.
type Supervisor struct {
	allocator     PortAllocator
	tracker       ProcessTracker
	pollInterval  time.Duration
	healthTimeout time.Duration
	output        io.Writer
	logDir        string

	mu          sync.RWMutex
	descriptors map[string]Descriptor
	order       []string
	states      map[string]ServiceState
	lastErrors  map[string]error
	running     map[string]*RunningService
}

// NewSupervisor creates an empty Supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	s := &Supervisor{
		allocator:     cfg.Allocator,
		tracker:       cfg.Tracker,
		pollInterval:  cfg.PollInterval,
		healthTimeout: cfg.HealthTimeout,
		output:        cfg.Output,
		logDir:        cfg.LogDir,
		descriptors:   make(map[string]Descriptor),
		states:        make(map[string]ServiceState),
		lastErrors:    make(map[string]error),
		running:       make(map[string]*RunningService),
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}
	if s.healthTimeout <= 0 {
		s.healthTimeout = DefaultHealthTimeout
	}
	return s
}

// Register validates d and adds it to the registry.
func (s *Supervisor) Register(d Descriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.descriptors[d.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateService, d.Name)
	}
	s.descriptors[d.Name] = d.clone()
	s.order = append(s.order, d.Name)
	s.states[d.Name] = StateRegistered
	logging.Debug("Supervisor", "Registered service %s (port %d, startup timeout %s)", d.Name, d.Port, d.StartupTimeout)
	return nil
}

// Descriptor returns a copy of the registered descriptor.
func (s *Supervisor) Descriptor(name string) (Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.descriptors[name]
	if !ok {
		return Descriptor{}, false
	}
	return d.clone(), true
}

// Names returns registered service names in registration order.
func (s *Supervisor) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// State returns the lifecycle state of name.
func (s *Supervisor) State(name string) ServiceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if state, ok := s.states[name]; ok {
		return state
	}
	return StateUnregistered
}

// Running returns the running handle of name.
func (s *Supervisor) Running(name string) (RunningService, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.running[name]
	if !ok || s.states[name] != StateRunning {
		return RunningService{}, false
	}
	return *rs, true
}

func (s *Supervisor) setState(name string, state ServiceState, err error) {
	s.mu.Lock()
	s.states[name] = state
	if err != nil {
		s.lastErrors[name] = err
	}
	s.mu.Unlock()
}

func (s *Supervisor) fail(name string, err error) StartResult {
	s.setState(name, StateFailed, err)
	logging.Error("Supervisor", err, "Failed to start %s", name)
	return StartResult{Err: err}
}

// StartWithFailover starts name on its declared port or, when that is taken,
// on the next free port within its probe range. It blocks until the service
// is healthy, its process exits, or the startup timeout elapses. Each call is
// a single attempt.
func (s *Supervisor) StartWithFailover(ctx context.Context, name string) StartResult {
	s.mu.Lock()
	desc, ok := s.descriptors[name]
	if !ok {
		s.mu.Unlock()
		return StartResult{Err: fmt.Errorf("%w: %s", ErrUnknownService, name)}
	}
	switch s.states[name] {
	case StateRunning:
		if rs := s.running[name]; rs != nil && rs.Handle.Running() {
			s.mu.Unlock()
			logging.Info("Supervisor", "Service %s already running on port %d", name, rs.Port)
			return StartResult{OK: true, Port: rs.Port}
		}
	case StateStarting, StateStopping:
		state := s.states[name]
		s.mu.Unlock()
		return StartResult{Err: fmt.Errorf("%w: %s is %s", ErrAlreadyStarting, name, state)}
	}
	s.states[name] = StateStarting
	delete(s.lastErrors, name)
	s.mu.Unlock()

	port, found := s.allocator.FindAvailable(desc.Port, desc.MaxPortAttempts)
	if !found {
		return s.fail(name, fmt.Errorf("%w: %s ports %d-%d all occupied",
			ErrPortExhausted, name, desc.Port, desc.Port+desc.MaxPortAttempts-1))
	}

	bound := desc
	if port != desc.Port {
		logging.Warn("Supervisor", "Port %d for %s is occupied, failing over to port %d", desc.Port, name, port)
		if !s.allocator.Evict(desc.Port, true) {
			logging.Warn("Supervisor", "Could not reclaim port %d; continuing on %d", desc.Port, port)
		}
		bound = desc.WithPort(port)
	}

	spec := process.Spec{
		Name:    name,
		Command: bound.Command,
		Dir:     bound.WorkingDir,
		Env:     bound.envList(),
		Tee:     s.output,
	}
	if s.logDir != "" {
		spec.LogPath = filepath.Join(s.logDir, name+".log")
	}
	handle, err := startProcess(spec)
	if err != nil {
		return s.fail(name, fmt.Errorf("%w: %v", ErrProcessStart, err))
	}
	s.tracker.RegisterOwned(name, handle, desc.ShutdownTimeout)

	s.mu.Lock()
	s.running[name] = &RunningService{
		Name:      name,
		Handle:    handle,
		Port:      port,
		HealthURL: bound.HealthURL,
		StartedAt: handle.StartedAt(),
	}
	s.mu.Unlock()

	logging.Info("Supervisor", "Started %s (PID %d) on port %d, waiting up to %s for %s",
		name, handle.PID(), port, desc.StartupTimeout, bound.HealthURL)

	if err := s.waitHealthy(ctx, name, handle, bound.HealthURL, desc.StartupTimeout); err != nil {
		logTail(name, handle.Output())
		if stopErr := s.StopService(context.Background(), name); stopErr != nil {
			logging.Error("Supervisor", stopErr, "Failed to stop %s after unsuccessful start", name)
		}
		return s.fail(name, err)
	}

	s.setState(name, StateRunning, nil)
	logging.Info("Supervisor", "Service %s is healthy on port %d", name, port)
	return StartResult{OK: true, Port: port}
}

func (s *Supervisor) waitHealthy(ctx context.Context, name string, handle *process.Handle, healthURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if !handle.Running() {
			return fmt.Errorf("%w: %s (PID %d) exited: %v", ErrProcessExited, name, handle.PID(), handle.ExitErr())
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("%w: %s not healthy at %s after %s", ErrHealthTimeout, name, healthURL, timeout)
		}
		probe := s.healthTimeout
		if remaining < probe {
			probe = remaining
		}
		if HealthCheck(ctx, healthURL, probe) {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("startup of %s cancelled: %w", name, ctx.Err())
		case <-handle.Done():
			// Re-check at the top of the loop.
		case <-ticker.C:
		}
	}
}

func logTail(name, output string) {
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return
	}
	lines := strings.Split(output, "\n")
	if len(lines) > outputTailLines {
		lines = lines[len(lines)-outputTailLines:]
	}
	logging.Warn("Supervisor", "Last output of %s:\n%s", name, strings.Join(lines, "\n"))
}

// StopService stops name. Stopping a service that is not running succeeds
// without doing anything.
func (s *Supervisor) StopService(ctx context.Context, name string) error {
	s.mu.Lock()
	desc, ok := s.descriptors[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	rs, running := s.running[name]
	if !running {
		s.mu.Unlock()
		return nil
	}
	s.states[name] = StateStopping
	s.mu.Unlock()

	logging.Info("Supervisor", "Stopping %s (PID %d, port %d)", name, rs.Handle.PID(), rs.Port)

	forced, err := rs.Handle.Stop(desc.ShutdownTimeout)
	if forced {
		logging.Warn("Supervisor", "%v: %s after %s, process was killed", ErrShutdownTimeout, name, desc.ShutdownTimeout)
	}

	s.mu.Lock()
	delete(s.running, name)
	s.states[name] = StateStopped
	s.mu.Unlock()

	if err != nil {
		// Leave it with the tracker so the next sweep retries.
		return fmt.Errorf("failed to stop %s: %w", name, err)
	}
	s.tracker.Unregister(name)
	logging.Info("Supervisor", "Stopped %s", name)
	return nil
}

// StopAll stops every running service in registration order and then sweeps
// for stragglers.
func (s *Supervisor) StopAll(ctx context.Context) (reaper.SweepReport, error) {
	var errs []error
	for _, name := range s.Names() {
		if err := s.StopService(ctx, name); err != nil {
			logging.Error("Supervisor", err, "Failed to stop %s", name)
			errs = append(errs, err)
		}
	}
	report := s.tracker.Sweep(ctx)
	return report, errors.Join(errs...)
}

// Status reports every registered service in registration order. Health is
// probed live. A service this process does not own is looked for across its
// failover range, so one left running by `start-app` on another port is
// still found.
func (s *Supervisor) Status(ctx context.Context) []ServiceStatus {
	names := s.Names()
	statuses := make([]ServiceStatus, 0, len(names))

	for _, name := range names {
		s.mu.RLock()
		desc := s.descriptors[name]
		state := s.states[name]
		lastErr := s.lastErrors[name]
		rs, owned := s.running[name]
		s.mu.RUnlock()

		st := ServiceStatus{
			Name:   name,
			State:  state,
			Health: HealthUnknown,
			Port:   desc.Port,
			Owned:  owned,
		}
		healthURL := desc.HealthURL
		if owned {
			st.Port = rs.Port
			st.PID = rs.Handle.PID()
			started := rs.StartedAt
			st.StartedAt = &started
			healthURL = rs.HealthURL
		}
		if lastErr != nil {
			st.LastError = lastErr.Error()
		}

		if !owned && s.findDetached(ctx, desc, &st) {
			statuses = append(statuses, st)
			continue
		}

		st.PortInUse = !s.allocator.IsFree(st.Port)
		if st.PortInUse || owned {
			if HealthCheck(ctx, healthURL, s.healthTimeout) {
				st.Health = HealthHealthy
			} else {
				st.Health = HealthUnhealthy
			}
		}
		statuses = append(statuses, st)
	}
	return statuses
}

// findDetached probes [Port, Port+MaxPortAttempts) for a healthy copy of the
// service started elsewhere and records the first one found in st.
func (s *Supervisor) findDetached(ctx context.Context, desc Descriptor, st *ServiceStatus) bool {
	for i := 0; i < desc.MaxPortAttempts; i++ {
		port := desc.Port + i
		if port > 65535 {
			break
		}
		if s.allocator.IsFree(port) {
			continue
		}
		if HealthCheck(ctx, desc.WithPort(port).HealthURL, s.healthTimeout) {
			st.Port = port
			st.PortInUse = true
			st.Health = HealthHealthy
			return true
		}
	}
	return false
}
