package storage

import (
	"context"

	"warden/core"
)

// IncidentStore persists incidents produced by the response engine. The
// engine treats every implementation as unreachable-tolerant: errors are
// logged and swallowed by the Recorder, never surfaced to callers.
type IncidentStore interface {
	// RecordIncident inserts a new incident and returns its ID.
	RecordIncident(ctx context.Context, incident *core.Incident) (string, error)

	// UpdateIncident replaces a stored incident by ID. Returns
	// core.ErrIncidentNotFound when no such incident exists.
	UpdateIncident(ctx context.Context, incident *core.Incident) error

	// GetIncident fetches a single incident by ID. Returns
	// core.ErrIncidentNotFound when no such incident exists.
	GetIncident(ctx context.Context, id string) (*core.Incident, error)

	// ListIncidents returns incidents matching the filters, newest first,
	// plus the total count before pagination.
	ListIncidents(ctx context.Context, filters IncidentFilters) ([]*core.Incident, int64, error)
}

// AuditStore persists the audit trail of containment actions.
type AuditStore interface {
	RecordAuditEntry(ctx context.Context, entry *core.AuditEntry) error
}

// IncidentFilters narrows ListIncidents results. Zero values mean "any".
type IncidentFilters struct {
	Source string
	Type   string
	Status string
	Limit  int
	Offset int
}
