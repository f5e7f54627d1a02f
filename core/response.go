package core

import "time"

// ActionType names an automated response action taken by the engine.
type ActionType string

const (
	// ActionBlockIP represents full containment of a source
	ActionBlockIP ActionType = "block_ip"
	// ActionQuarantine represents soft containment of a source
	ActionQuarantine ActionType = "quarantine_source"
	// ActionDDoSProtection represents a forced block driven by DDoS detection
	ActionDDoSProtection ActionType = "ddos_protection"
	// ActionRateLimit represents non-blocking throttle enforcement
	ActionRateLimit ActionType = "rate_limit_enforced"
	// ActionBruteForceLockout is the brute-force specific response
	ActionBruteForceLockout ActionType = "brute_force_lockout"
	// ActionSQLInjectionFilter is the SQL-injection specific response
	ActionSQLInjectionFilter ActionType = "sql_injection_filter"
	// ActionXSSFilter is the cross-site-scripting specific response
	ActionXSSFilter ActionType = "xss_filter"
	// ActionMalwareQuarantine is the malware specific response
	ActionMalwareQuarantine ActionType = "malware_quarantine"
	// ActionMonitor is recorded when an event scores below every containment tier
	ActionMonitor ActionType = "monitor"
	// ActionManualBlock represents an operator-initiated block
	ActionManualBlock ActionType = "manual_block"
	// ActionUnblock represents removal of a block entry
	ActionUnblock ActionType = "unblock"
	// ActionUnquarantine represents removal of a quarantine entry
	ActionUnquarantine ActionType = "unquarantine"
	// ActionValidationFailed is recorded when an event is rejected before any mutation
	ActionValidationFailed ActionType = "validation_failed"
)

// String returns the string representation.
func (a ActionType) String() string {
	return string(a)
}

// ActionStatus represents the outcome of a single response action.
type ActionStatus string

const (
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusFailed    ActionStatus = "failed"
	ActionStatusSkipped   ActionStatus = "skipped"
)

// ActionResult records one action the orchestrator took (or attempted) while
// handling an event. Results are aggregated onto the response and persisted
// on the incident.
type ActionResult struct {
	Type   ActionType   `json:"type"`
	Status ActionStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
	At     time.Time    `json:"at"`
}

// SecurityResponse is returned for every handled threat event. HandleThreat
// never returns an error to its caller; failures surface as Success=false
// with the partial action list that was applied before the failure.
type SecurityResponse struct {
	Action           ActionType     `json:"action"`
	Success          bool           `json:"success"`
	ResponseTimeMs   float64        `json:"response_time_ms"`
	Details          string         `json:"details"`
	BlockingActive   bool           `json:"blocking_active"`
	QuarantineActive bool           `json:"quarantine_active"`
	Actions          []ActionResult `json:"actions,omitempty"`
	IncidentID       string         `json:"incident_id,omitempty"`
	Score            int            `json:"score"`
}

// ResponseEvent is the notification published after each handled event,
// consumed by the notify hub, WebSocket clients, and webhook channels.
type ResponseEvent struct {
	IncidentID       string     `json:"incident_id,omitempty"`
	Source           string     `json:"source"`
	Type             ThreatType `json:"type"`
	Severity         Severity   `json:"severity"`
	Action           ActionType `json:"action"`
	Score            int        `json:"score"`
	Success          bool       `json:"success"`
	BlockingActive   bool       `json:"blocking_active"`
	QuarantineActive bool       `json:"quarantine_active"`
	ResponseTimeMs   float64    `json:"response_time_ms"`
	At               time.Time  `json:"at"`
}

// EngineStats is the point-in-time view returned by GetStats.
type EngineStats struct {
	BlockedCount     int    `json:"blocked_count"`
	QuarantinedCount int    `json:"quarantined_count"`
	SuspiciousCount  int    `json:"suspicious_count"`
	ActiveRateLimits int    `json:"active_rate_limits"`
	DDoSDetections   uint64 `json:"ddos_detections"`
}
