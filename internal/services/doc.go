// Package services provides the service registry and lifecycle supervisor for suitectl.
//
// A service is an auxiliary network process a test suite needs, such as an API
// backend or a web frontend. Each one is described by an immutable Descriptor
// that is validated when it is registered with the Supervisor.
//
// # Lifecycle
//
//	Unregistered → Registered → Starting → Running → Stopping → Stopped
//
// A failed start is recorded as Failed. Stopped and Failed services may be
// started again.
//
// # Failover
//
// StartWithFailover probes the declared port and the next MaxPortAttempts-1
// ports, binds the service to the first free one, and rewrites every command
// token, environment value and the health URL that mention the declared port.
// The service is running once its health URL answers with a 2xx status; a
// process that exits or stays unhealthy past StartupTimeout is stopped and
// reported as a failed start. Each call is a single attempt.
//
// # Stopping
//
// StopService is idempotent. It sends SIGTERM to the service's process group,
// waits ShutdownTimeout and then sends SIGKILL. StopAll stops every running
// service in registration order and finishes with a reaper sweep.
package services
