package reaper

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"suitectl/internal/process"
)

// TestHelperProcess is not a real test. It's the long-running child owned by
// the signal hook tests.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	time.Sleep(time.Minute)
	os.Exit(0)
}

type fakeProcess struct {
	mu       sync.Mutex
	pid      int
	running  bool
	stubborn bool // ignores the graceful phase
	stops    int
	timeouts []time.Duration
}

func (f *fakeProcess) PID() int { return f.pid }

func (f *fakeProcess) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeProcess) Stop(timeout time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.timeouts = append(f.timeouts, timeout)
	f.running = false
	return f.stubborn, nil
}

type fakeLister struct {
	procs []ProcessInfo
	err   error
}

func (f fakeLister) List(context.Context) ([]ProcessInfo, error) {
	return f.procs, f.err
}

func mockKill(t *testing.T) *[]int {
	t.Helper()
	original := killProcess
	t.Cleanup(func() { killProcess = original })

	var mu sync.Mutex
	killed := &[]int{}
	killProcess = func(pid int, sig unix.Signal) error {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, unix.SIGTERM, sig)
		*killed = append(*killed, pid)
		return nil
	}
	return killed
}

func TestPatternMatcher(t *testing.T) {
	m := PatternMatcher{NameSubstring: "python", CmdlineSubstrings: []string{"uvicorn", "api.main"}}

	tests := []struct {
		name string
		proc ProcessInfo
		want bool
	}{
		{"name and cmdline", ProcessInfo{Name: "python3", Cmdline: "python3 -m uvicorn api.main:app"}, true},
		{"second pattern", ProcessInfo{Name: "python", Cmdline: "python -m api.main"}, true},
		{"wrong name", ProcessInfo{Name: "node", Cmdline: "node uvicorn"}, false},
		{"no cmdline match", ProcessInfo{Name: "python", Cmdline: "python manage.py"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Matches(tt.proc))
		})
	}

	assert.False(t, PatternMatcher{NameSubstring: "python"}.Matches(ProcessInfo{Name: "python", Cmdline: "python x"}),
		"no cmdline patterns matches nothing")
}

func TestRegisterOwned_Overwrites(t *testing.T) {
	r := New(Config{Lister: fakeLister{}})
	first := &fakeProcess{pid: 10, running: true}
	second := &fakeProcess{pid: 11, running: true}

	r.RegisterOwned("backend", first, time.Second)
	r.RegisterOwned("backend", second, time.Second)
	assert.Equal(t, []string{"backend"}, r.Owned())

	r.Sweep(context.Background())
	assert.Equal(t, 0, first.stops, "overwritten handle is no longer owned")
	assert.Equal(t, 1, second.stops)
}

func TestFindAndStopByPattern(t *testing.T) {
	killed := mockKill(t)

	owned := &fakeProcess{pid: 300, running: true}
	r := New(Config{Lister: fakeLister{procs: []ProcessInfo{
		{PID: 100, Name: "node", Cmdline: "node node_modules/.bin/react-scripts start"},
		{PID: 101, Name: "node", Cmdline: "node server.js"},
		{PID: 102, Name: "python", Cmdline: "python -m uvicorn"},
		{PID: int32(os.Getpid()), Name: "node", Cmdline: "react-scripts"},
		{PID: 300, Name: "node", Cmdline: "node react-scripts start"},
	}}})
	r.RegisterOwned("frontend", owned, time.Second)

	count := r.FindAndStopByPattern(context.Background(), "node", []string{"react-scripts", "vite"})
	assert.Equal(t, 1, count)
	assert.Equal(t, []int{100}, *killed)
}

func TestFindAndStopByPattern_ListerFails(t *testing.T) {
	killed := mockKill(t)
	r := New(Config{Lister: fakeLister{err: errors.New("no /proc")}})

	assert.Equal(t, 0, r.FindAndStopByPattern(context.Background(), "node", []string{"vite"}))
	assert.Empty(t, *killed)
}

func TestSweep(t *testing.T) {
	killed := mockKill(t)

	var order []string
	r := New(Config{
		Lister: fakeLister{procs: []ProcessInfo{
			{PID: 500, Name: "python", Cmdline: "python -m uvicorn api.main:app"},
		}},
		OrphanMatchers: []Matcher{PatternMatcher{NameSubstring: "python", CmdlineSubstrings: []string{"uvicorn"}}},
	})
	r.RegisterCleanupHandler("first", func(context.Context) error {
		order = append(order, "first")
		return errors.New("boom")
	})
	r.RegisterCleanupHandler("panics", func(context.Context) error {
		order = append(order, "panics")
		panic("bad handler")
	})
	r.RegisterCleanupHandler("last", func(context.Context) error {
		order = append(order, "last")
		return nil
	})

	backend := &fakeProcess{pid: 200, running: true}
	stubborn := &fakeProcess{pid: 201, running: true, stubborn: true}
	exited := &fakeProcess{pid: 202}
	r.RegisterOwned("backend", backend, 3*time.Second)
	r.RegisterOwned("frontend", stubborn, time.Second)
	r.RegisterOwned("gone", exited, time.Second)

	report := r.Sweep(context.Background())

	assert.Equal(t, []string{"first", "panics", "last"}, order)
	assert.Equal(t, 3, report.HandlersRun)
	assert.Equal(t, 2, report.HandlerErrors)
	assert.Equal(t, 2, report.OwnedStopped)
	assert.Equal(t, 1, report.OwnedForced)
	assert.Equal(t, 1, report.OrphansStopped)
	assert.Equal(t, []int{500}, *killed)

	assert.Equal(t, []time.Duration{3 * time.Second}, backend.timeouts)
	assert.Equal(t, 0, exited.stops)
	assert.Empty(t, r.Owned())

	// A second sweep is harmless: handlers run again, nothing owned is left.
	report = r.Sweep(context.Background())
	assert.Equal(t, 0, report.OwnedStopped)
	assert.Equal(t, 1, backend.stops)
}

func TestSweep_BoundedByTimeout(t *testing.T) {
	r := New(Config{Lister: fakeLister{}, SweepTimeout: 200 * time.Millisecond})
	p := &fakeProcess{pid: 1, running: true}
	r.RegisterOwned("slow", p, time.Hour)

	r.Sweep(context.Background())
	require.Len(t, p.timeouts, 1)
	assert.LessOrEqual(t, p.timeouts[0], 200*time.Millisecond)
}

func TestSignalHook_SweepsThenExits(t *testing.T) {
	r := New(Config{Lister: fakeLister{}})
	p := &fakeProcess{pid: 1, running: true}
	r.RegisterOwned("backend", p, time.Second)

	exitCode := make(chan int, 1)
	cancelled := false
	hook := NewSignalHook(r, func() { cancelled = true }, func(code int) { exitCode <- code })
	hook.Install()
	hook.Install() // second install is a no-op
	defer hook.Uninstall()

	hook.signals <- syscall.SIGINT

	select {
	case code := <-exitCode:
		assert.Equal(t, ExitCodeInterrupted, code)
	case <-time.After(5 * time.Second):
		t.Fatal("hook did not exit")
	}
	assert.True(t, cancelled)
	assert.False(t, p.Running(), "owned processes are stopped before exit")
}

func TestSignalHook_InterruptStopsRealProcess(t *testing.T) {
	h, err := process.Start(process.Spec{
		Name:    "backend",
		Command: []string{os.Args[0], "-test.run=TestHelperProcess", "--", "sleep"},
		Env:     []string{"GO_WANT_HELPER_PROCESS=1"},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Kill() })
	pid := h.PID()

	r := New(Config{Lister: fakeLister{}})
	r.RegisterOwned("backend", h, 2*time.Second)

	type exitState struct {
		code    int
		running bool
		killErr error
	}
	exited := make(chan exitState, 1)
	hook := NewSignalHook(r, nil, func(code int) {
		exited <- exitState{code: code, running: h.Running(), killErr: unix.Kill(pid, 0)}
	})
	hook.Install()
	defer hook.Uninstall()

	require.NoError(t, unix.Kill(os.Getpid(), unix.SIGINT))

	select {
	case st := <-exited:
		assert.Equal(t, ExitCodeInterrupted, st.code)
		assert.False(t, st.running, "owned process must be stopped before exit")
		assert.ErrorIs(t, st.killErr, unix.ESRCH, "owned process must be reaped before exit")
	case <-time.After(10 * time.Second):
		t.Fatal("hook did not exit")
	}
	assert.Empty(t, r.Owned())
}
