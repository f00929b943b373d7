// Package process spawns and supervises child processes on behalf of suitectl.
//
// Every child runs in its own process group so that terminate and kill reach
// anything it forked. Output is drained continuously into a bounded buffer,
// which keeps a chatty child from ever blocking on a full pipe.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"suitectl/pkg/logging"
)

// ErrStart wraps any failure to launch a child.
var ErrStart = errors.New("failed to start process")

const (
	defaultOutputLimit = 64 * 1024
	// waitDelay bounds how long Wait keeps reading output after the child exits,
	// for grandchildren that inherited the pipes.
	waitDelay = 2 * time.Second
	// killWait bounds the wait after SIGKILL.
	killWait = 5 * time.Second
	// groupPollInterval paces checks for descendants left in a stopped group.
	groupPollInterval = 50 * time.Millisecond
)

// For mocking in tests
var execCommand = exec.Command

// Spec describes a child process.
type Spec struct {
	Name    string
	Command []string
	Dir     string
	Env     []string // KEY=VALUE entries appended to the current environment
	// Tee receives a copy of the child's output when set.
	Tee io.Writer
	// OutputLimit caps the retained output; defaults to 64KiB.
	OutputLimit int
	// LogPath sends output straight to a file instead of a pipe, so the child
	// keeps running after suitectl exits. Tee is ignored when set.
	LogPath string
}

// Handle is a running (or exited) child process.
type Handle struct {
	name    string
	command []string
	cmd     *exec.Cmd
	pid     int
	started time.Time
	output  *logCapture
	logPath string
	limit   int

	done    chan struct{}
	mu      sync.RWMutex
	waitErr error
}

// Start launches spec. The returned handle is owned by the caller, who must
// eventually Stop it.
func Start(spec Spec) (*Handle, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("%w: %s has an empty command", ErrStart, spec.Name)
	}

	cmd := execCommand(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = waitDelay

	limit := spec.OutputLimit
	if limit <= 0 {
		limit = defaultOutputLimit
	}
	capture := newLogCapture(limit)
	var logFile *os.File
	if spec.LogPath != "" {
		f, err := os.OpenFile(spec.LogPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrStart, spec.Name, err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	} else {
		var out io.Writer = capture
		if spec.Tee != nil {
			out = io.MultiWriter(capture, spec.Tee)
		}
		cmd.Stdout = out
		cmd.Stderr = out
	}

	err := cmd.Start()
	if logFile != nil {
		// The child holds its own descriptor.
		logFile.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s (%s): %v", ErrStart, spec.Name, strings.Join(spec.Command, " "), err)
	}

	h := &Handle{
		name:    spec.Name,
		command: append([]string(nil), spec.Command...),
		cmd:     cmd,
		pid:     cmd.Process.Pid,
		started: time.Now(),
		output:  capture,
		logPath: spec.LogPath,
		limit:   limit,
		done:    make(chan struct{}),
	}

	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.waitErr = err
		h.mu.Unlock()
		close(h.done)
	}()

	logging.Debug("Process", "Started %s (PID %d): %s", spec.Name, h.pid, strings.Join(spec.Command, " "))
	return h, nil
}

// Name returns the label the handle was started with.
func (h *Handle) Name() string { return h.name }

// PID returns the child's process ID, which is also its process group ID.
func (h *Handle) PID() int { return h.pid }

// StartedAt returns when the child was launched.
func (h *Handle) StartedAt() time.Time { return h.started }

// Command returns the argv the child was launched with.
func (h *Handle) Command() []string { return append([]string(nil), h.command...) }

// Done is closed once the child has exited and its output is drained.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Running reports whether the child has not exited yet.
func (h *Handle) Running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the error from Wait once the child has exited.
func (h *Handle) ExitErr() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.waitErr
}

// Output returns the most recent output of the child.
func (h *Handle) Output() string {
	if h.logPath != "" {
		return readTail(h.logPath, h.limit)
	}
	return h.output.String()
}

// Terminate asks the child's process group to exit.
func (h *Handle) Terminate() error {
	return h.signal(unix.SIGTERM)
}

// Kill forcibly stops the child's process group. The group is signalled even
// after the leader has exited, so forked descendants are reached too.
func (h *Handle) Kill() error {
	if err := h.killGroup(); err != nil {
		return h.signal(unix.SIGKILL)
	}
	return nil
}

func (h *Handle) killGroup() error {
	err := unix.Kill(-h.pid, unix.SIGKILL)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return fmt.Errorf("failed to kill process group of %s (PGID %d): %w", h.name, h.pid, err)
}

// groupAlive reports whether any process is left in the child's group.
func (h *Handle) groupAlive() bool {
	err := unix.Kill(-h.pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// waitGroup polls until the child's group is empty or timeout elapses.
func (h *Handle) waitGroup(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for h.groupAlive() {
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(groupPollInterval)
	}
	return true
}

func (h *Handle) signal(sig unix.Signal) error {
	if !h.Running() {
		return nil
	}
	err := unix.Kill(-h.pid, sig)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	// Group signalling can fail if the child changed its group; fall back to the leader.
	if perr := h.cmd.Process.Signal(sig); perr != nil && !errors.Is(perr, os.ErrProcessDone) {
		return fmt.Errorf("failed to send %s to %s (PID %d): %w", unix.SignalName(sig), h.name, h.pid, perr)
	}
	return nil
}

// Wait blocks until the child exits or timeout elapses and reports whether it
// exited.
func (h *Handle) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		return !h.Running()
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return true
	case <-timer.C:
		return false
	}
}

// Stop terminates the child, waits up to timeout, and kills it if it is still
// alive. Descendants left in the group after the leader exits get the rest of
// timeout and are then killed. forced reports whether a kill was needed.
func (h *Handle) Stop(timeout time.Duration) (forced bool, err error) {
	deadline := time.Now().Add(timeout)
	if !h.Running() {
		return h.stopStragglers(time.Until(deadline))
	}

	if err := h.Terminate(); err != nil {
		logging.Warn("Process", "Graceful termination of %s failed: %v", h.name, err)
	}
	if h.Wait(timeout) {
		return h.stopStragglers(time.Until(deadline))
	}

	logging.Warn("Process", "%s (PID %d) did not exit within %s, killing", h.name, h.pid, timeout)
	if err := h.Kill(); err != nil {
		return true, err
	}
	if !h.Wait(killWait) {
		return true, fmt.Errorf("%s (PID %d) survived SIGKILL", h.name, h.pid)
	}
	return true, nil
}

func (h *Handle) stopStragglers(timeout time.Duration) (forced bool, err error) {
	if h.waitGroup(timeout) {
		return false, nil
	}
	logging.Warn("Process", "Processes forked by %s outlived it, killing group %d", h.name, h.pid)
	if err := h.killGroup(); err != nil {
		return true, err
	}
	return true, nil
}
