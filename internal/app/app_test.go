package app

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"suitectl/internal/config"
	"suitectl/internal/runner"
	"suitectl/internal/services"
	"suitectl/pkg/logging"
)

// TestHelperProcess is not a real test. It is the fake service and test
// command used below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}
	switch args[1] {
	case "serve":
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {})
		if err := http.ListenAndServe("127.0.0.1:"+args[2], mux); err != nil {
			os.Exit(1)
		}
	case "exit":
		os.Exit(0)
	case "crash":
		os.Exit(1)
	}
	os.Exit(0)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func helperService(name, mode string, port int) config.ServiceDefinition {
	p := strconv.Itoa(port)
	return config.ServiceDefinition{
		Name:            name,
		Command:         []string{os.Args[0], "-test.run=TestHelperProcess", "--", mode, p},
		Env:             map[string]string{"GO_WANT_HELPER_PROCESS": "1"},
		Port:            port,
		HealthURL:       "http://127.0.0.1:" + p + "/health",
		StartupTimeout:  10 * time.Second,
		ShutdownTimeout: 2 * time.Second,
		MaxPortAttempts: 3,
	}
}

func newTestApp(t *testing.T, svcs []config.ServiceDefinition, profiles []config.ProfileDefinition) *Application {
	t.Helper()
	stabilize := time.Duration(0)
	cfg := NewConfig("", false, logging.FormatText)
	cfg.Output = io.Discard
	cfg.Stabilize = &stabilize
	cfg.Exit = func(int) {}
	cfg.SuitectlConfig = &config.SuitectlConfig{
		Settings: config.Settings{SweepTimeout: 10 * time.Second, EvictGrace: 200 * time.Millisecond},
		Services: svcs,
		Profiles: profiles,
	}

	a, err := NewApplication(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = a.StopAll(context.Background()) })
	return a
}

func TestInitializeServices_RequiresConfig(t *testing.T) {
	_, err := InitializeServices(&Config{})
	assert.Error(t, err)
}

func TestInitializeServices_Defaults(t *testing.T) {
	defaults := config.GetDefaultConfig()
	s, err := InitializeServices(&Config{SuitectlConfig: &defaults})
	require.NoError(t, err)

	assert.Equal(t, []string{"backend", "frontend"}, s.Supervisor.Names())
	assert.Len(t, s.Coordinator.Profiles(), len(defaults.Profiles))

	d, ok := s.Supervisor.Descriptor("backend")
	require.True(t, ok)
	assert.NotNil(t, d.OrphanMatcher)
	assert.Equal(t, services.StateRegistered, s.Supervisor.State("backend"))

	_, err = s.Coordinator.Profile("end-to-end")
	assert.NoError(t, err)
}

func TestInitializeServices_StabilizationFromConfig(t *testing.T) {
	zero := time.Duration(0)
	two := 2 * time.Second

	tests := []struct {
		name     string
		settings *time.Duration
		override *time.Duration
		want     time.Duration
	}{
		{"unset uses default", nil, nil, runner.DefaultStabilizationDelay},
		{"explicit zero disables", &zero, nil, -1},
		{"configured value", &two, nil, two},
		{"flag overrides config", &two, &zero, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := config.GetDefaultConfig()
			sc.Settings.StabilizationDelay = tt.settings
			s, err := InitializeServices(&Config{SuitectlConfig: &sc, Stabilize: tt.override})
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Coordinator.StabilizationDelay())
		})
	}
}

func TestInitializeServices_InvalidService(t *testing.T) {
	cfg := config.SuitectlConfig{Services: []config.ServiceDefinition{{Name: "broken"}}}
	_, err := InitializeServices(&Config{SuitectlConfig: &cfg})
	assert.Error(t, err)
}

func TestDescriptorFromDefinition(t *testing.T) {
	def := config.DefaultFrontend()
	d := DescriptorFromDefinition(def)

	assert.Equal(t, def.Name, d.Name)
	assert.Equal(t, def.Command, d.Command)
	assert.Equal(t, def.Port, d.Port)
	assert.NoError(t, d.Validate())
	require.NotNil(t, d.OrphanMatcher)
	assert.Contains(t, d.OrphanMatcher.String(), "react-scripts")

	def.CmdlinePatterns = nil
	assert.Nil(t, DescriptorFromDefinition(def).OrphanMatcher)
}

func TestStartApp_DetachedThenStopAll(t *testing.T) {
	backend, frontend := freePort(t), freePort(t)
	a := newTestApp(t, []config.ServiceDefinition{
		helperService("frontend", "serve", frontend),
		helperService("backend", "serve", backend),
	}, nil)

	started, err := a.StartApp(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"backend": backend, "frontend": frontend}, started)

	statuses := a.Status(context.Background())
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		assert.Equal(t, services.StateRunning, st.State, st.Name)
		assert.Equal(t, services.HealthHealthy, st.Health, st.Name)
	}

	report, err := a.StopAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.OwnedStopped, "supervisor stops its own services before the sweep")
	assert.True(t, a.Services().Allocator.IsFree(backend))
	assert.True(t, a.Services().Allocator.IsFree(frontend))
}

func TestStartApp_RollsBackOnFailure(t *testing.T) {
	backend := freePort(t)
	a := newTestApp(t, []config.ServiceDefinition{
		helperService("backend", "serve", backend),
		helperService("frontend", "crash", freePort(t)),
	}, nil)

	_, err := a.StartApp(context.Background(), false)
	require.ErrorIs(t, err, ErrStartFailed)
	assert.Equal(t, services.StateStopped, a.Services().Supervisor.State("backend"))
	assert.True(t, a.Services().Allocator.IsFree(backend))
}

func TestStartApp_WaitStopsOnCancel(t *testing.T) {
	backend := freePort(t)
	a := newTestApp(t, []config.ServiceDefinition{helperService("backend", "serve", backend)}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := a.StartApp(ctx, true)
		result <- err
	}()

	require.Eventually(t, func() bool {
		return a.Services().Supervisor.State("backend") == services.StateRunning
	}, 15*time.Second, 50*time.Millisecond)
	cancel()

	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("StartApp did not return after cancel")
	}
	assert.True(t, a.Services().Allocator.IsFree(backend))
}

func TestRunTests(t *testing.T) {
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	backend := freePort(t)
	a := newTestApp(t,
		[]config.ServiceDefinition{helperService("backend", "serve", backend)},
		[]config.ProfileDefinition{
			{Name: "functional", Services: []string{"backend"}, Command: []string{os.Args[0], "-test.run=TestHelperProcess", "--", "exit"}},
			{Name: "broken", Services: []string{"backend"}, Command: []string{os.Args[0], "-test.run=TestHelperProcess", "--", "crash"}},
		})

	assert.Equal(t, runner.ExitOK, a.RunTests(context.Background(), "functional", runner.RunOptions{}))
	assert.Equal(t, runner.ExitFailure, a.RunTests(context.Background(), "broken", runner.RunOptions{}))
	assert.Equal(t, runner.ExitFailure, a.RunTests(context.Background(), "missing", runner.RunOptions{}))
	assert.True(t, a.Services().Allocator.IsFree(backend))
	assert.Equal(t, services.StateStopped, a.Services().Supervisor.State("backend"))
}

type recordingStopper struct {
	stopped []string
}

func (r *recordingStopper) StopService(_ context.Context, name string) error {
	r.stopped = append(r.stopped, name)
	if name == "frontend" {
		return errors.New("already gone")
	}
	return nil
}

func TestRollback_ReverseStartOrder(t *testing.T) {
	r := &recordingStopper{}
	rollback(r, []string{"backend", "frontend", "worker"})
	assert.Equal(t, []string{"worker", "frontend", "backend"}, r.stopped, "a failed stop does not end the rollback")
}

func TestRunTests_RegistersCleanupHandlerOnce(t *testing.T) {
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	a := newTestApp(t, nil, []config.ProfileDefinition{
		{Name: "unit", Command: []string{os.Args[0], "-test.run=TestHelperProcess", "--", "exit"}},
	})

	for i := 0; i < 3; i++ {
		assert.Equal(t, runner.ExitOK, a.RunTests(context.Background(), "unit", runner.RunOptions{}))
	}
	assert.Equal(t, []string{"test-run"}, a.Services().Reaper.CleanupHandlers())
}

func TestWaitForRun(t *testing.T) {
	a := newTestApp(t, nil, nil)

	assert.NoError(t, a.waitForRun(context.Background()), "no active run")

	finished := make(chan struct{})
	a.mu.Lock()
	a.runFinished = finished
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.waitForRun(ctx), context.DeadlineExceeded)

	close(finished)
	assert.NoError(t, a.waitForRun(context.Background()))
}
