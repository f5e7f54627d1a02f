package storage

import "errors"

// Storage error constants
var (
	// ErrDatabaseClosed is returned when attempting to use a closed database connection
	ErrDatabaseClosed = errors.New("database is closed")

	// ErrAuditEntryInvalid is returned when an audit entry is missing required fields
	ErrAuditEntryInvalid = errors.New("audit entry is invalid")

	// ErrBackendUnavailable is returned when a backend cannot be reached
	ErrBackendUnavailable = errors.New("storage backend unavailable")
)
