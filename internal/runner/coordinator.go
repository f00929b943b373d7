package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"suitectl/internal/services"
	"suitectl/pkg/logging"
)

const (
	// DefaultStabilizationDelay is waited between service startup and the test command.
	DefaultStabilizationDelay = 5 * time.Second
	// interruptGrace is how long an interrupted test command gets before SIGKILL.
	interruptGrace = 5 * time.Second
)

// For mocking in tests
var execCommand = exec.Command

// Supervisor is the part of services.Supervisor the coordinator drives.
type Supervisor interface {
	StartWithFailover(ctx context.Context, name string) services.StartResult
	StopService(ctx context.Context, name string) error
}

// RunOptions are the per-invocation knobs of Run.
type RunOptions struct {
	// ExtraArgs are appended verbatim to the test command.
	ExtraArgs []string
	// Environment names a scoped environment to activate; empty means none.
	Environment string
	Verbose     bool
	// Browser overrides the profile's browser option.
	Browser string
	// Headless overrides the profile's headless option when set.
	Headless *bool
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	Supervisor Supervisor
	// Activator is required only for runs that name an environment.
	Activator EnvironmentActivator
	// StabilizationDelay defaults to five seconds; a negative value disables it.
	StabilizationDelay time.Duration
	Profiles           []Profile
	Stdout             io.Writer
	Stderr             io.Writer
}

// Coordinator runs test categories: it brings up the services a category
// needs, runs its test command and always tears the services down again.
type Coordinator struct {
	supervisor         Supervisor
	activator          EnvironmentActivator
	stabilizationDelay time.Duration
	stdout             io.Writer
	stderr             io.Writer

	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewCoordinator creates a Coordinator seeded with cfg.Profiles. Invalid
// profiles are logged and skipped.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	c := &Coordinator{
		supervisor:         cfg.Supervisor,
		activator:          cfg.Activator,
		stabilizationDelay: cfg.StabilizationDelay,
		stdout:             cfg.Stdout,
		stderr:             cfg.Stderr,
		profiles:           make(map[string]Profile),
	}
	if c.stabilizationDelay == 0 {
		c.stabilizationDelay = DefaultStabilizationDelay
	}
	if c.stdout == nil {
		c.stdout = os.Stdout
	}
	if c.stderr == nil {
		c.stderr = os.Stderr
	}
	for _, p := range cfg.Profiles {
		if err := c.RegisterProfile(p.Key, p); err != nil {
			logging.Warn("Runner", "Skipping profile %s: %v", p.Key, err)
		}
	}
	return c
}

// StabilizationDelay reports the wait between service startup and the test
// command. A negative value means the wait is disabled.
func (c *Coordinator) StabilizationDelay() time.Duration {
	return c.stabilizationDelay
}

// RegisterProfile adds or replaces the profile stored under key.
func (c *Coordinator) RegisterProfile(key string, p Profile) error {
	p.Key = key
	if err := p.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.profiles[key]; exists {
		logging.Debug("Runner", "Replacing profile %s", key)
	}
	c.profiles[key] = p
	return nil
}

// Profile looks up key, following aliases such as end-to-end.
func (c *Coordinator) Profile(key string) (Profile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if p, ok := c.profiles[key]; ok {
		return p, nil
	}
	if target, ok := aliases[key]; ok {
		if p, ok := c.profiles[target]; ok {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: %s", ErrUnknownProfile, key)
}

// Profiles returns the catalog sorted by key.
func (c *Coordinator) Profiles() []Profile {
	c.mu.RLock()
	defer c.mu.RUnlock()
	list := make([]Profile, 0, len(c.profiles))
	for _, p := range c.profiles {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
	return list
}

// Run executes the test category key and returns the process exit code: the
// test command's own code, 1 when anything before it fails, 124 when it
// exceeds the profile timeout and 130 when ctx is cancelled. Services started
// for the run are stopped and the environment restored on every path.
func (c *Coordinator) Run(ctx context.Context, key string, opts RunOptions) (code int) {
	profile, err := c.Profile(key)
	if err != nil {
		logging.Error("Runner", err, "Cannot run test category %s", key)
		return ExitFailure
	}

	var started []string
	restore := func() {}

	defer func() {
		if r := recover(); r != nil {
			logging.Error("Runner", fmt.Errorf("panic: %v", r), "Test run %s aborted", profile.Key)
			code = ExitFailure
		}
		c.teardown(started, restore)
	}()

	if opts.Environment != "" {
		if c.activator == nil {
			logging.Error("Runner", ErrEnvironmentActivation, "No environment activator configured for %s", opts.Environment)
			return ExitFailure
		}
		r, err := c.activator.Activate(opts.Environment)
		if err != nil {
			logging.Error("Runner", err, "Cannot activate environment %s", opts.Environment)
			return ExitFailure
		}
		restore = r
	}

	ports := make(map[string]int)
	for _, name := range profile.orderedServices() {
		res := c.supervisor.StartWithFailover(ctx, name)
		if !res.OK {
			logging.Error("Runner", res.Err, "Service %s failed to start, aborting %s tests", name, profile.Key)
			return ExitFailure
		}
		started = append(started, name)
		ports[name] = res.Port
	}

	if len(started) > 0 && c.stabilizationDelay > 0 {
		logging.Info("Runner", "Waiting %s for services to settle", c.stabilizationDelay)
		select {
		case <-ctx.Done():
			logging.Warn("Runner", "Test run %s interrupted during stabilization", profile.Key)
			return ExitInterrupted
		case <-time.After(c.stabilizationDelay):
		}
	}

	argv := profile.BuildCommand(opts)
	return c.runTests(ctx, profile, argv, serviceEnv(ports))
}

func (c *Coordinator) teardown(started []string, restore func()) {
	for i := len(started) - 1; i >= 0; i-- {
		if err := c.supervisor.StopService(context.Background(), started[i]); err != nil {
			logging.Error("Runner", err, "Failed to stop %s", started[i])
		}
	}
	restore()
}

func (c *Coordinator) runTests(ctx context.Context, profile Profile, argv []string, env []string) int {
	logging.Info("Runner", "Running %s tests: %s", profile.Key, strings.Join(argv, " "))

	cmd := execCommand(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = c.stdout
	cmd.Stderr = c.stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logging.Error("Runner", err, "Failed to start test command for %s", profile.Key)
		return ExitFailure
	}
	pid := cmd.Process.Pid

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timeout <-chan time.Time
	if profile.Timeout > 0 {
		timer := time.NewTimer(profile.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-done:
		code := exitCode(err)
		logging.Info("Runner", "%s tests finished with exit code %d", profile.Key, code)
		return code
	case <-timeout:
		logging.Error("Runner", nil, "%s tests exceeded %s, killing PID %d", profile.Key, profile.Timeout, pid)
		signalGroup(pid, unix.SIGKILL)
		<-done
		return ExitTimeout
	case <-ctx.Done():
		logging.Warn("Runner", "%s tests interrupted, stopping PID %d", profile.Key, pid)
		signalGroup(pid, unix.SIGTERM)
		select {
		case <-done:
		case <-time.After(interruptGrace):
			signalGroup(pid, unix.SIGKILL)
			<-done
		}
		return ExitInterrupted
	}
}

func signalGroup(pid int, sig unix.Signal) {
	if err := unix.Kill(-pid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		logging.Warn("Runner", "Failed to send %s to process group %d: %v", unix.SignalName(sig), pid, err)
	}
}

func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return ExitFailure
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return exitErr.ExitCode()
}

// serviceEnv exports the bound port and base URL of every started service.
func serviceEnv(ports map[string]int) []string {
	names := make([]string, 0, len(ports))
	for name := range ports {
		names = append(names, name)
	}
	sort.Strings(names)

	env := make([]string, 0, 2*len(names))
	for _, name := range names {
		prefix := "SUITECTL_" + envName(name)
		port := strconv.Itoa(ports[name])
		env = append(env,
			prefix+"_PORT="+port,
			prefix+"_URL=http://127.0.0.1:"+port,
		)
	}
	return env
}

func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}
