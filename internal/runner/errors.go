package runner

import "errors"

var (
	// ErrUnknownProfile is returned for a test category that is not in the catalog.
	ErrUnknownProfile = errors.New("unknown test profile")
	// ErrInvalidProfile is returned by RegisterProfile for an unusable profile.
	ErrInvalidProfile = errors.New("invalid test profile")
	// ErrEnvironmentActivation is returned when a scoped environment cannot be activated.
	ErrEnvironmentActivation = errors.New("failed to activate environment")
)

// Exit codes returned by Run.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitTimeout     = 124
	ExitInterrupted = 130
)
