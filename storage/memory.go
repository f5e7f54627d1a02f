package storage

import (
	"context"
	"fmt"
	"sync"

	"warden/core"
)

const defaultMemoryCapacity = 4096

// MemoryIncidentStore is a bounded in-memory incident store. It is the
// always-on fallback behind the primary backend and the default in tests;
// when full it evicts the oldest incident.
type MemoryIncidentStore struct {
	mu        sync.RWMutex
	incidents map[string]*core.Incident
	order     []string
	capacity  int
}

// NewMemoryIncidentStore creates a store holding at most capacity incidents.
// Non-positive capacities fall back to the default.
func NewMemoryIncidentStore(capacity int) *MemoryIncidentStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryIncidentStore{
		incidents: make(map[string]*core.Incident),
		order:     make([]string, 0, capacity),
		capacity:  capacity,
	}
}

// RecordIncident inserts a copy of the incident, evicting the oldest entry
// when the store is full.
func (m *MemoryIncidentStore) RecordIncident(_ context.Context, incident *core.Incident) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.incidents[incident.ID]; !exists {
		for len(m.order) >= m.capacity {
			oldest := m.order[0]
			m.order = m.order[1:]
			delete(m.incidents, oldest)
		}
		m.order = append(m.order, incident.ID)
	}
	m.incidents[incident.ID] = copyIncident(incident)

	return incident.ID, nil
}

// UpdateIncident replaces a stored incident by ID.
func (m *MemoryIncidentStore) UpdateIncident(_ context.Context, incident *core.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.incidents[incident.ID]; !exists {
		return fmt.Errorf("incident %s: %w", incident.ID, core.ErrIncidentNotFound)
	}
	m.incidents[incident.ID] = copyIncident(incident)
	return nil
}

// GetIncident fetches a single incident by ID.
func (m *MemoryIncidentStore) GetIncident(_ context.Context, id string) (*core.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	incident, exists := m.incidents[id]
	if !exists {
		return nil, fmt.Errorf("incident %s: %w", id, core.ErrIncidentNotFound)
	}
	return copyIncident(incident), nil
}

// ListIncidents returns matching incidents, newest first.
func (m *MemoryIncidentStore) ListIncidents(_ context.Context, filters IncidentFilters) ([]*core.Incident, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*core.Incident
	for i := len(m.order) - 1; i >= 0; i-- {
		incident := m.incidents[m.order[i]]
		if filters.Source != "" && incident.Source != filters.Source {
			continue
		}
		if filters.Type != "" && string(incident.Type) != filters.Type {
			continue
		}
		if filters.Status != "" && string(incident.Status) != filters.Status {
			continue
		}
		matched = append(matched, incident)
	}

	total := int64(len(matched))

	offset := filters.Offset
	if offset < 0 {
		offset = 0
	}
	if offset > len(matched) {
		offset = len(matched)
	}
	matched = matched[offset:]

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]*core.Incident, len(matched))
	for i, incident := range matched {
		out[i] = copyIncident(incident)
	}
	return out, total, nil
}

// Len reports how many incidents are held.
func (m *MemoryIncidentStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.incidents)
}

func copyIncident(incident *core.Incident) *core.Incident {
	cp := *incident
	if incident.Actions != nil {
		cp.Actions = make([]core.ActionResult, len(incident.Actions))
		copy(cp.Actions, incident.Actions)
	}
	return &cp
}

// MemoryAuditStore is a bounded in-memory audit trail, oldest entries
// dropped first.
type MemoryAuditStore struct {
	mu       sync.RWMutex
	entries  []*core.AuditEntry
	capacity int
}

// NewMemoryAuditStore creates a store holding at most capacity entries.
func NewMemoryAuditStore(capacity int) *MemoryAuditStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryAuditStore{
		entries:  make([]*core.AuditEntry, 0, capacity),
		capacity: capacity,
	}
}

// RecordAuditEntry appends one entry, evicting the oldest when full.
func (m *MemoryAuditStore) RecordAuditEntry(_ context.Context, entry *core.AuditEntry) error {
	if entry == nil || entry.Action == "" {
		return ErrAuditEntryInvalid
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.entries) >= m.capacity {
		m.entries = m.entries[1:]
	}
	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}

// Entries returns a snapshot of the stored entries, oldest first.
func (m *MemoryAuditStore) Entries() []*core.AuditEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*core.AuditEntry, len(m.entries))
	for i, entry := range m.entries {
		cp := *entry
		out[i] = &cp
	}
	return out
}
