package core

import (
	"time"

	"github.com/google/uuid"
)

// IncidentStatus represents the lifecycle status of an incident record.
type IncidentStatus string

const (
	// IncidentStatusOpen indicates handling is still in progress
	IncidentStatusOpen IncidentStatus = "open"
	// IncidentStatusMitigated indicates the response completed successfully
	IncidentStatusMitigated IncidentStatus = "mitigated"
	// IncidentStatusFailed indicates the response aborted partway through
	IncidentStatusFailed IncidentStatus = "failed"
)

// String returns the string representation.
func (s IncidentStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusOpen, IncidentStatusMitigated, IncidentStatusFailed:
		return true
	default:
		return false
	}
}

// Incident is the persisted record of one handled threat event. It is
// created once per event, updated in place as actions complete, and never
// deleted by the engine.
type Incident struct {
	ID        string         `json:"id"`
	Type      ThreatType     `json:"type"`
	Severity  Severity       `json:"severity"`
	Source    string         `json:"source"`
	UserID    string         `json:"user_id,omitempty"`
	Score     int            `json:"score"`
	Actions   []ActionResult `json:"actions"`
	Status    IncidentStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewIncident builds an open incident for an event with a fresh id.
func NewIncident(event *ThreatEvent, now time.Time) *Incident {
	return &Incident{
		ID:        uuid.New().String(),
		Type:      event.Type,
		Severity:  event.Severity,
		Source:    event.Source,
		UserID:    event.UserID,
		Status:    IncidentStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AuditEntry is a free-form record of a single action, attached to an
// incident. Entries are written best-effort and never block containment.
type AuditEntry struct {
	ID         string    `json:"id"`
	IncidentID string    `json:"incident_id,omitempty"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	Source     string    `json:"source,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewAuditEntry builds an audit entry with a fresh id.
func NewAuditEntry(incidentID string, action ActionType, actor, source, detail string, now time.Time) *AuditEntry {
	return &AuditEntry{
		ID:         uuid.New().String(),
		IncidentID: incidentID,
		Action:     string(action),
		Actor:      actor,
		Source:     source,
		Detail:     detail,
		CreatedAt:  now,
	}
}
