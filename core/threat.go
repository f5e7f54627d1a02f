package core

import (
	"fmt"
	"strings"
)

// ThreatType classifies an incoming threat event.
type ThreatType string

const (
	// ThreatTypeDDoS represents a volumetric denial-of-service attack
	ThreatTypeDDoS ThreatType = "ddos_attack"
	// ThreatTypeBruteForce represents repeated credential-guessing attempts
	ThreatTypeBruteForce ThreatType = "brute_force_attack"
	// ThreatTypeSQLInjection represents an SQL injection attempt
	ThreatTypeSQLInjection ThreatType = "sql_injection"
	// ThreatTypeXSS represents a cross-site scripting attempt
	ThreatTypeXSS ThreatType = "xss_attempt"
	// ThreatTypeMalware represents detected malicious content
	ThreatTypeMalware ThreatType = "malware_detected"
	// ThreatTypeOther represents any threat not covered by a dedicated type
	ThreatTypeOther ThreatType = "other"
)

// AllThreatTypes lists every recognized threat type.
var AllThreatTypes = []ThreatType{
	ThreatTypeDDoS, ThreatTypeBruteForce, ThreatTypeSQLInjection,
	ThreatTypeXSS, ThreatTypeMalware, ThreatTypeOther,
}

// String returns the string representation.
func (t ThreatType) String() string {
	return string(t)
}

// IsValid checks if the threat type is one of the recognized values.
func (t ThreatType) IsValid() bool {
	for _, valid := range AllThreatTypes {
		if t == valid {
			return true
		}
	}
	return false
}

// Severity represents the reported severity of a threat event.
type Severity string

const (
	SeverityLow       Severity = "low"
	SeverityMedium    Severity = "medium"
	SeverityHigh      Severity = "high"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// AllSeverities lists severities in ascending order of weight.
var AllSeverities = []Severity{
	SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical, SeverityEmergency,
}

// String returns the string representation.
func (s Severity) String() string {
	return string(s)
}

// IsValid checks if the severity is one of the recognized values.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical, SeverityEmergency:
		return true
	default:
		return false
	}
}

// Rank returns the ordinal weight of the severity, 1 (low) through 5
// (emergency). Unrecognized severities rank 0 so they never outrank a
// recognized one.
func (s Severity) Rank() int {
	for i, sev := range AllSeverities {
		if s == sev {
			return i + 1
		}
	}
	return 0
}

// ThreatEvent is a single security-threat signal reported by the request
// pipeline. Events are transient: they are scored and acted on per call,
// never stored.
//
// Confidence is a pointer so an absent value can be told apart from an
// explicit zero; scoring scales by confidence only when it is supplied.
type ThreatEvent struct {
	Type        ThreatType             `json:"type" validate:"required"`
	Source      string                 `json:"source" validate:"required,min=1,max=255"`
	Severity    Severity               `json:"severity" validate:"required"`
	Description string                 `json:"description,omitempty" validate:"max=2000"`
	Confidence  *int                   `json:"confidence,omitempty" validate:"omitempty,min=0,max=100"`
	Indicators  []string               `json:"indicators,omitempty" validate:"omitempty,dive,max=1024"`
	UserID      string                 `json:"user_id,omitempty" validate:"omitempty,max=128"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// Validate rejects events that are structurally unusable before any state is
// mutated. Unrecognized type or severity values are NOT rejected here; the
// scorer treats them as contributing zero, so only missing fields and
// out-of-range confidence are errors.
func (e *ThreatEvent) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.Source) == "" {
		return fmt.Errorf("%w: missing source", ErrInvalidEvent)
	}
	if strings.TrimSpace(string(e.Type)) == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidEvent)
	}
	if strings.TrimSpace(string(e.Severity)) == "" {
		return fmt.Errorf("%w: missing severity", ErrInvalidEvent)
	}
	if e.Confidence != nil && (*e.Confidence < 0 || *e.Confidence > 100) {
		return fmt.Errorf("%w: confidence %d out of range [0,100]", ErrInvalidEvent, *e.Confidence)
	}
	return nil
}
