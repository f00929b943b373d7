package ports

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"suitectl/pkg/logging"
)

const (
	// DefaultDialTimeout bounds a single occupancy probe.
	DefaultDialTimeout = 1 * time.Second
	// DefaultEvictGrace is how long Evict waits for a signalled owner to release the port.
	DefaultEvictGrace = 2 * time.Second

	maxPort = 65535
)

// For mocking in tests
var killProcess = unix.Kill

// PIDResolver resolves the process listening on a local TCP port.
type PIDResolver interface {
	ListenerPID(port int) (int32, error)
}

// Config configures an Allocator. Zero values fall back to defaults.
type Config struct {
	Host        string
	DialTimeout time.Duration
	EvictGrace  time.Duration
	Resolver    PIDResolver
}

// Allocator probes local TCP ports and finds free ones near a preferred port.
// Probe and allocate sequences are serialised.
type Allocator struct {
	host        string
	dialTimeout time.Duration
	evictGrace  time.Duration
	resolver    PIDResolver
	selfPID     int

	mu sync.Mutex
}

// New creates an Allocator.
func New(cfg Config) *Allocator {
	a := &Allocator{
		host:        cfg.Host,
		dialTimeout: cfg.DialTimeout,
		evictGrace:  cfg.EvictGrace,
		resolver:    cfg.Resolver,
		selfPID:     os.Getpid(),
	}
	if a.host == "" {
		a.host = "127.0.0.1"
	}
	if a.dialTimeout <= 0 {
		a.dialTimeout = DefaultDialTimeout
	}
	if a.evictGrace <= 0 {
		a.evictGrace = DefaultEvictGrace
	}
	if a.resolver == nil {
		a.resolver = NewGopsutilResolver()
	}
	return a
}

// IsFree reports whether nothing accepts connections on port. A refused or
// timed out connection means free; a successful connection or any other error
// means occupied.
func (a *Allocator) IsFree(port int) bool {
	if port < 1 || port > maxPort {
		return false
	}

	address := net.JoinHostPort(a.host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("tcp", address, a.dialTimeout)
	if err == nil {
		conn.Close()
		return false
	}

	if errors.Is(err, unix.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	logging.Debug("Ports", "Indeterminate probe result for port %d, treating as occupied: %v", port, err)
	return false
}

// FindAvailable probes base, base+1, ..., base+maxAttempts-1 in order and
// returns the first free port.
func (a *Allocator) FindAvailable(base, maxAttempts int) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < maxAttempts; i++ {
		port := base + i
		if port > maxPort {
			break
		}
		if a.IsFree(port) {
			if port != base {
				logging.Debug("Ports", "Port %d busy, found free port %d after %d probes", base, port, i+1)
			}
			return port, true
		}
	}

	logging.Warn("Ports", "No free port in range %d-%d", base, base+maxAttempts-1)
	return 0, false
}

// Evict tries to release port from whatever process holds it. Without force
// it only reports the current state. With force the owner gets SIGTERM and the
// port is re-probed for up to the eviction grace period. Returns whether the
// port is free afterwards.
func (a *Allocator) Evict(port int, force bool) bool {
	if a.IsFree(port) {
		return true
	}

	pid, err := a.resolver.ListenerPID(port)
	if err != nil {
		logging.Warn("Ports", "Could not resolve owner of port %d: %v", port, err)
		return false
	}
	if int(pid) == a.selfPID {
		logging.Warn("Ports", "Port %d is held by this process, not evicting", port)
		return false
	}
	if !force {
		logging.Info("Ports", "Port %d held by PID %d", port, pid)
		return false
	}

	logging.Info("Ports", "Sending SIGTERM to PID %d holding port %d", pid, port)
	if err := killProcess(int(pid), unix.SIGTERM); err != nil {
		logging.Warn("Ports", "Failed to signal PID %d: %v", pid, err)
		return a.IsFree(port)
	}

	deadline := time.Now().Add(a.evictGrace)
	for time.Now().Before(deadline) {
		if a.IsFree(port) {
			logging.Info("Ports", "Port %d released by PID %d", port, pid)
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}

	free := a.IsFree(port)
	if !free {
		logging.Warn("Ports", "Port %d still occupied %s after signalling PID %d", port, a.evictGrace, pid)
	}
	return free
}
