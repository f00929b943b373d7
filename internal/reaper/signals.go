package reaper

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"suitectl/pkg/logging"
)

// ExitCodeInterrupted is the conventional status for a run ended by SIGINT.
const ExitCodeInterrupted = 130

// SignalHook sweeps the reaper when the process receives SIGINT or SIGTERM and
// then exits. The top-level application owns exactly one hook.
type SignalHook struct {
	reaper *Reaper
	exit   func(code int)
	// beforeSweep runs first, typically cancelling the root context.
	beforeSweep func()

	once    sync.Once
	signals chan os.Signal
	stopped chan struct{}
}

// NewSignalHook creates a hook; exit defaults to os.Exit.
func NewSignalHook(r *Reaper, beforeSweep func(), exit func(code int)) *SignalHook {
	if exit == nil {
		exit = os.Exit
	}
	return &SignalHook{
		reaper:      r,
		exit:        exit,
		beforeSweep: beforeSweep,
		signals:     make(chan os.Signal, 2),
		stopped:     make(chan struct{}),
	}
}

// Install starts listening for signals. Calls after the first are no-ops.
func (h *SignalHook) Install() {
	h.once.Do(func() {
		signal.Notify(h.signals, os.Interrupt, syscall.SIGTERM)
		go h.loop()
	})
}

// Uninstall stops signal delivery to the hook.
func (h *SignalHook) Uninstall() {
	signal.Stop(h.signals)
	select {
	case <-h.stopped:
	default:
		close(h.stopped)
	}
}

func (h *SignalHook) loop() {
	select {
	case sig := <-h.signals:
		logging.Warn("Reaper", "Received %s, cleaning up before exit", sig)
		if h.beforeSweep != nil {
			h.beforeSweep()
		}
		h.reaper.Sweep(context.Background())
		h.exit(ExitCodeInterrupted)
	case <-h.stopped:
	}
}
