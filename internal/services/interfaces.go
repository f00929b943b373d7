package services

import (
	"context"
	"time"

	"suitectl/internal/reaper"
)

// ServiceState represents the current lifecycle state of a service
type ServiceState string

const (
	StateUnregistered ServiceState = "Unregistered"
	StateRegistered   ServiceState = "Registered"
	StateStarting     ServiceState = "Starting"
	StateRunning      ServiceState = "Running"
	StateStopping     ServiceState = "Stopping"
	StateStopped      ServiceState = "Stopped"
	StateFailed       ServiceState = "Failed"
)

// HealthStatus represents the health status of a service
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "Unknown"
	HealthHealthy   HealthStatus = "Healthy"
	HealthUnhealthy HealthStatus = "Unhealthy"
)

// PortAllocator finds and reclaims local TCP ports. *ports.Allocator implements it.
type PortAllocator interface {
	IsFree(port int) bool
	FindAvailable(base, maxAttempts int) (int, bool)
	Evict(port int, force bool) bool
}

// ProcessTracker records spawned processes for the cleanup sweep.
// *reaper.Reaper implements it.
type ProcessTracker interface {
	RegisterOwned(name string, p reaper.OwnedProcess, shutdownTimeout time.Duration)
	Unregister(name string)
	Sweep(ctx context.Context) reaper.SweepReport
}

// ServiceStatus is a point-in-time view of one registered service.
type ServiceStatus struct {
	Name      string       `json:"name" yaml:"name"`
	State     ServiceState `json:"state" yaml:"state"`
	Health    HealthStatus `json:"health" yaml:"health"`
	Port      int          `json:"port" yaml:"port"`
	PortInUse bool         `json:"portInUse" yaml:"portInUse"`
	Owned     bool         `json:"owned" yaml:"owned"`
	PID       int          `json:"pid,omitempty" yaml:"pid,omitempty"`
	StartedAt *time.Time   `json:"startedAt,omitempty" yaml:"startedAt,omitempty"`
	LastError string       `json:"lastError,omitempty" yaml:"lastError,omitempty"`
}
