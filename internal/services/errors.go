package services

import "errors"

// Errors reported by the Supervisor. Callers match them with errors.Is.
var (
	ErrUnknownService    = errors.New("unknown service")
	ErrDuplicateService  = errors.New("service already registered")
	ErrInvalidDescriptor = errors.New("invalid service descriptor")
	ErrAlreadyStarting   = errors.New("service is already starting")
	ErrPortExhausted     = errors.New("no free port available")
	ErrProcessStart      = errors.New("service process failed to start")
	ErrProcessExited     = errors.New("service process exited during startup")
	ErrHealthTimeout     = errors.New("service did not become healthy in time")
	ErrShutdownTimeout   = errors.New("service did not stop gracefully in time")
)
