package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"suitectl/internal/reaper"
	"suitectl/internal/runner"
	"suitectl/pkg/logging"
)

// ErrStartFailed is returned by StartApp when a service does not come up.
var ErrStartFailed = errors.New("failed to start services")

// DefaultLogDir is where detached services write their output.
func DefaultLogDir() string {
	return filepath.Join(os.TempDir(), "suitectl-logs")
}

// RunTests runs a test category and returns the process exit code.
func (a *Application) RunTests(ctx context.Context, category string, opts runner.RunOptions) int {
	ctx, done := a.activate(ctx)
	defer done()

	finished := make(chan struct{})
	a.mu.Lock()
	a.runFinished = finished
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.runFinished = nil
		a.mu.Unlock()
		close(finished)
	}()

	return a.services.Coordinator.Run(ctx, category, opts)
}

// waitForRun is the "test-run" cleanup handler: a signal sweep waits for the
// coordinator to tear down the active run before reclaiming anything.
func (a *Application) waitForRun(ctx context.Context) error {
	a.mu.Lock()
	finished := a.runFinished
	a.mu.Unlock()
	if finished == nil {
		return nil
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("test run still tearing down: %w", ctx.Err())
	}
}

// StartApp brings up every configured service, dependencies first. On failure
// the services already started are stopped again. With wait it blocks until
// ctx is cancelled or a signal arrives and then stops everything; otherwise
// the services are left running.
func (a *Application) StartApp(ctx context.Context, wait bool) (map[string]int, error) {
	ctx, done := a.activate(ctx)
	defer done()

	sup := a.services.Supervisor
	names := runner.OrderServices(sup.Names())

	started := make(map[string]int, len(names))
	var order []string
	for _, name := range names {
		res := sup.StartWithFailover(ctx, name)
		if !res.OK {
			logging.Error("App", res.Err, "Service %s failed to start, rolling back", name)
			rollback(sup, order)
			return nil, fmt.Errorf("%w: %s: %v", ErrStartFailed, name, res.Err)
		}
		started[name] = res.Port
		order = append(order, name)
	}

	if !wait {
		logging.Info("App", "Services left running; use 'suitectl stop-all' to stop them")
		if a.config.LogDir != "" {
			logging.Info("App", "Service output is written to %s", a.config.LogDir)
		}
		return started, nil
	}

	logging.Info("App", "Services started. Press Ctrl+C to stop all services and exit.")
	<-ctx.Done()

	logging.Info("App", "Shutting down services")
	if _, err := sup.StopAll(context.Background()); err != nil {
		return started, err
	}
	return started, nil
}

// StopAll stops everything this process owns and reclaims configured
// services left behind by earlier runs.
func (a *Application) StopAll(ctx context.Context) (reaper.SweepReport, error) {
	return a.services.Supervisor.StopAll(ctx)
}

type serviceStopper interface {
	StopService(ctx context.Context, name string) error
}

// rollback stops started services in reverse start order.
func rollback(s serviceStopper, started []string) {
	for i := len(started) - 1; i >= 0; i-- {
		if err := s.StopService(context.Background(), started[i]); err != nil {
			logging.Error("App", err, "Failed to stop %s during rollback", started[i])
		}
	}
}
