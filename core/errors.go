package core

import "errors"

// Engine error constants
var (
	// ErrInvalidEvent is returned when a threat event fails validation
	ErrInvalidEvent = errors.New("invalid threat event")

	// ErrStoreUnavailable is returned when the primary incident store cannot be reached
	ErrStoreUnavailable = errors.New("incident store unavailable")

	// ErrMirrorUnavailable is returned when the propagation mirror cannot be reached
	ErrMirrorUnavailable = errors.New("propagation mirror unavailable")

	// ErrIncidentNotFound is returned when an incident lookup misses
	ErrIncidentNotFound = errors.New("incident not found")
)
