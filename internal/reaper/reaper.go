package reaper

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"suitectl/pkg/logging"
)

// DefaultSweepTimeout bounds a full sweep.
const DefaultSweepTimeout = 30 * time.Second

// For mocking in tests
var killProcess = unix.Kill

// OwnedProcess is a child the orchestrator spawned. *process.Handle satisfies it.
type OwnedProcess interface {
	PID() int
	Running() bool
	Stop(timeout time.Duration) (forced bool, err error)
}

// CleanupHandler runs at the start of every sweep. It must be idempotent.
type CleanupHandler func(ctx context.Context) error

type ownedEntry struct {
	process         OwnedProcess
	shutdownTimeout time.Duration
	registered      time.Time
}

type namedHandler struct {
	name string
	fn   CleanupHandler
}

// Config configures a Reaper.
type Config struct {
	Lister ProcessLister
	// OrphanMatchers are applied at the end of every sweep.
	OrphanMatchers []Matcher
	SweepTimeout   time.Duration
}

// Reaper tracks owned processes and reclaims them, together with orphans
// left by earlier runs, during a sweep.
type Reaper struct {
	lister         ProcessLister
	orphanMatchers []Matcher
	sweepTimeout   time.Duration
	selfPID        int32
	parentPID      int32

	mu       sync.RWMutex
	owned    map[string]ownedEntry
	handlers []namedHandler

	sweepMu sync.Mutex
}

// New creates a Reaper.
func New(cfg Config) *Reaper {
	r := &Reaper{
		lister:         cfg.Lister,
		orphanMatchers: cfg.OrphanMatchers,
		sweepTimeout:   cfg.SweepTimeout,
		selfPID:        int32(os.Getpid()),
		parentPID:      int32(os.Getppid()),
		owned:          make(map[string]ownedEntry),
	}
	if r.lister == nil {
		r.lister = GopsutilLister{}
	}
	if r.sweepTimeout <= 0 {
		r.sweepTimeout = DefaultSweepTimeout
	}
	return r
}

// RegisterOwned records a spawned process under name. An existing entry is
// overwritten.
func (r *Reaper) RegisterOwned(name string, p OwnedProcess, shutdownTimeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.owned[name]; exists {
		logging.Warn("Reaper", "Overwriting owned process %s (previous PID %d, new PID %d)", name, prev.process.PID(), p.PID())
	}
	r.owned[name] = ownedEntry{
		process:         p,
		shutdownTimeout: shutdownTimeout,
		registered:      time.Now(),
	}
}

// Unregister forgets an owned process without touching it.
func (r *Reaper) Unregister(name string) {
	r.mu.Lock()
	delete(r.owned, name)
	r.mu.Unlock()
}

// Owned returns the names of all owned processes, sorted.
func (r *Reaper) Owned() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.owned))
	for name := range r.owned {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterCleanupHandler appends fn to the handlers run at the start of each
// sweep. Registering a name again replaces that handler in place.
func (r *Reaper) RegisterCleanupHandler(name string, fn CleanupHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, h := range r.handlers {
		if h.name == name {
			logging.Debug("Reaper", "Replacing cleanup handler %s", name)
			r.handlers[i].fn = fn
			return
		}
	}
	r.handlers = append(r.handlers, namedHandler{name: name, fn: fn})
}

// CleanupHandlers returns the registered handler names in run order.
func (r *Reaper) CleanupHandlers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for _, h := range r.handlers {
		names = append(names, h.name)
	}
	return names
}

// FindAndStopByPattern sends SIGTERM to every process whose name contains
// nameSubstring and whose command line contains one of cmdlineSubstrings.
// It returns how many processes were signalled.
func (r *Reaper) FindAndStopByPattern(ctx context.Context, nameSubstring string, cmdlineSubstrings []string) int {
	return r.StopMatching(ctx, PatternMatcher{NameSubstring: nameSubstring, CmdlineSubstrings: cmdlineSubstrings})
}

// StopMatching sends SIGTERM to every orphan matched by m. Owned processes,
// this process and its parent are never signalled.
func (r *Reaper) StopMatching(ctx context.Context, m Matcher) int {
	procs, err := r.lister.List(ctx)
	if err != nil {
		logging.Warn("Reaper", "Cannot scan for orphans (%s): %v", m, err)
		return 0
	}

	skip := r.protectedPIDs()
	count := 0
	for _, p := range procs {
		if skip[p.PID] || !m.Matches(p) {
			continue
		}
		if err := killProcess(int(p.PID), unix.SIGTERM); err != nil {
			logging.Debug("Reaper", "Failed to signal orphan %s (PID %d): %v", p.Name, p.PID, err)
			continue
		}
		logging.Info("Reaper", "Terminated orphan %s (PID %d)", p.Name, p.PID)
		count++
	}
	return count
}

func (r *Reaper) protectedPIDs() map[int32]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	skip := map[int32]bool{r.selfPID: true, r.parentPID: true}
	for _, e := range r.owned {
		if e.process.Running() {
			skip[int32(e.process.PID())] = true
		}
	}
	return skip
}

// SweepReport summarises one sweep.
type SweepReport struct {
	HandlersRun    int
	HandlerErrors  int
	OwnedStopped   int
	OwnedForced    int
	OrphansStopped int
	Duration       time.Duration
}

// Sweep runs the cleanup handlers, stops every owned process, and reclaims
// orphans matched by the configured matchers. It is safe to call repeatedly
// and never runs longer than the sweep timeout plus one kill wait.
func (r *Reaper) Sweep(ctx context.Context) SweepReport {
	r.sweepMu.Lock()
	defer r.sweepMu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.sweepTimeout)
	defer cancel()

	var report SweepReport

	r.mu.RLock()
	handlers := append([]namedHandler(nil), r.handlers...)
	r.mu.RUnlock()

	for _, h := range handlers {
		report.HandlersRun++
		if err := runHandler(ctx, h); err != nil {
			report.HandlerErrors++
			logging.Error("Reaper", err, "Cleanup handler %s failed", h.name)
		}
	}

	r.mu.Lock()
	owned := r.owned
	r.owned = make(map[string]ownedEntry)
	r.mu.Unlock()

	names := make([]string, 0, len(owned))
	for name := range owned {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		e := owned[name]
		if !e.process.Running() {
			continue
		}
		timeout := e.shutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < timeout {
				timeout = remaining
			}
		}
		forced, err := e.process.Stop(timeout)
		if err != nil {
			logging.Error("Reaper", err, "Failed to stop owned process %s (PID %d)", name, e.process.PID())
			continue
		}
		report.OwnedStopped++
		if forced {
			report.OwnedForced++
		}
		logging.Info("Reaper", "Stopped owned process %s (PID %d, forced=%t)", name, e.process.PID(), forced)
	}

	for _, m := range r.orphanMatchers {
		if ctx.Err() != nil {
			logging.Warn("Reaper", "Sweep deadline reached, skipping orphan scan %s", m)
			break
		}
		report.OrphansStopped += r.StopMatching(ctx, m)
	}

	report.Duration = time.Since(start)
	logging.Info("Reaper", "Sweep finished in %s: %d handlers (%d failed), %d owned stopped (%d forced), %d orphans",
		report.Duration.Round(time.Millisecond), report.HandlersRun, report.HandlerErrors,
		report.OwnedStopped, report.OwnedForced, report.OrphansStopped)
	return report
}

func runHandler(ctx context.Context, h namedHandler) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic in cleanup handler %s: %v", h.name, rec)
		}
	}()
	return h.fn(ctx)
}
