package ports

import (
	"fmt"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// GopsutilResolver finds listening sockets through the OS connection table.
type GopsutilResolver struct {
	connections func(kind string) ([]psnet.ConnectionStat, error)
}

// NewGopsutilResolver creates a resolver backed by gopsutil.
func NewGopsutilResolver() *GopsutilResolver {
	return &GopsutilResolver{connections: psnet.Connections}
}

// ListenerPID returns the PID listening on the given TCP port.
func (r *GopsutilResolver) ListenerPID(port int) (int32, error) {
	conns, err := r.connections("tcp")
	if err != nil {
		return 0, fmt.Errorf("failed to list connections: %w", err)
	}

	for _, c := range conns {
		if c.Status != "LISTEN" || c.Laddr.Port != uint32(port) {
			continue
		}
		if c.Pid == 0 {
			// Socket visible but owned by another user.
			return 0, fmt.Errorf("listener on port %d has no visible owner", port)
		}
		return c.Pid, nil
	}
	return 0, fmt.Errorf("no listener found on port %d", port)
}
