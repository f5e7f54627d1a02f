package detect

import (
	"encoding/json"
	"fmt"
	"os"

	"warden/core"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// maxPolicyFileSize caps policy files to keep a bad path from exhausting memory.
const maxPolicyFileSize = 1024 * 1024

// policySchema validates the shape of a policy document before it is
// decoded. Policy files are YAML; the document is converted to JSON for
// schema validation.
const policySchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "severity_points": {
      "type": "object",
      "additionalProperties": {"type": "integer", "minimum": 0, "maximum": 100}
    },
    "type_bonus": {
      "type": "object",
      "additionalProperties": {"type": "integer", "minimum": 0, "maximum": 100}
    },
    "escalation_cap": {"type": "integer", "minimum": 0, "maximum": 100},
    "escalation_factor": {"type": "number", "minimum": 0, "maximum": 1},
    "auto_block_threshold": {"type": "integer", "minimum": 0, "maximum": 100},
    "quarantine_threshold": {"type": "integer", "minimum": 0, "maximum": 100}
  }
}`

// Policy carries the scoring weights and containment thresholds. The zero
// value is unusable; start from DefaultPolicy and override via a policy file.
type Policy struct {
	SeverityPoints      map[core.Severity]int   `yaml:"severity_points" json:"severity_points"`
	TypeBonus           map[core.ThreatType]int `yaml:"type_bonus" json:"type_bonus"`
	EscalationCap       int                     `yaml:"escalation_cap" json:"escalation_cap"`
	EscalationFactor    float64                 `yaml:"escalation_factor" json:"escalation_factor"`
	AutoBlockThreshold  int                     `yaml:"auto_block_threshold" json:"auto_block_threshold"`
	QuarantineThreshold int                     `yaml:"quarantine_threshold" json:"quarantine_threshold"`
}

// DefaultPolicy returns the built-in scoring policy.
func DefaultPolicy() Policy {
	return Policy{
		SeverityPoints: map[core.Severity]int{
			core.SeverityLow:       20,
			core.SeverityMedium:    40,
			core.SeverityHigh:      60,
			core.SeverityCritical:  80,
			core.SeverityEmergency: 100,
		},
		TypeBonus: map[core.ThreatType]int{
			core.ThreatTypeDDoS:         20,
			core.ThreatTypeMalware:      20,
			core.ThreatTypeBruteForce:   20,
			core.ThreatTypeSQLInjection: 15,
			core.ThreatTypeXSS:          15,
		},
		EscalationCap:       30,
		EscalationFactor:    0.3,
		AutoBlockThreshold:  80,
		QuarantineThreshold: 60,
	}
}

// Validate checks the policy's internal consistency.
func (p *Policy) Validate() error {
	for sev, pts := range p.SeverityPoints {
		if pts < 0 || pts > 100 {
			return fmt.Errorf("severity_points[%s] = %d out of range [0,100]", sev, pts)
		}
	}
	for typ, bonus := range p.TypeBonus {
		if bonus < 0 || bonus > 100 {
			return fmt.Errorf("type_bonus[%s] = %d out of range [0,100]", typ, bonus)
		}
	}
	if p.EscalationCap < 0 || p.EscalationCap > 100 {
		return fmt.Errorf("escalation_cap %d out of range [0,100]", p.EscalationCap)
	}
	if p.EscalationFactor < 0 || p.EscalationFactor > 1 {
		return fmt.Errorf("escalation_factor %v out of range [0,1]", p.EscalationFactor)
	}
	if p.AutoBlockThreshold < 0 || p.AutoBlockThreshold > 100 {
		return fmt.Errorf("auto_block_threshold %d out of range [0,100]", p.AutoBlockThreshold)
	}
	if p.QuarantineThreshold < 0 || p.QuarantineThreshold > 100 {
		return fmt.Errorf("quarantine_threshold %d out of range [0,100]", p.QuarantineThreshold)
	}
	if p.QuarantineThreshold > p.AutoBlockThreshold {
		return fmt.Errorf("quarantine_threshold %d exceeds auto_block_threshold %d",
			p.QuarantineThreshold, p.AutoBlockThreshold)
	}
	return nil
}

// LoadPolicy reads a YAML policy file, validates it against the policy
// schema, and overlays it on DefaultPolicy, so a file only needs the keys it
// changes.
func LoadPolicy(path string, logger *zap.SugaredLogger) (Policy, error) {
	policy := DefaultPolicy()

	info, err := os.Stat(path)
	if err != nil {
		return policy, fmt.Errorf("failed to stat policy file: %w", err)
	}
	if info.Size() > maxPolicyFileSize {
		return policy, fmt.Errorf("policy file %s exceeds %d bytes", path, maxPolicyFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("failed to read policy file: %w", err)
	}

	// Schema validation works on JSON, so decode the YAML generically and
	// re-encode it first.
	var generic map[string]interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return policy, fmt.Errorf("failed to parse policy file: %w", err)
	}
	jsonDoc, err := json.Marshal(generic)
	if err != nil {
		return policy, fmt.Errorf("failed to convert policy for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(policySchema),
		gojsonschema.NewBytesLoader(jsonDoc),
	)
	if err != nil {
		return policy, fmt.Errorf("failed to validate policy against schema: %w", err)
	}
	if !result.Valid() {
		return policy, fmt.Errorf("policy validation failed: %v", result.Errors())
	}

	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("failed to unmarshal policy: %w", err)
	}
	if err := policy.Validate(); err != nil {
		return policy, err
	}

	logger.Infow("Loaded scoring policy",
		"path", path,
		"auto_block_threshold", policy.AutoBlockThreshold,
		"quarantine_threshold", policy.QuarantineThreshold)
	return policy, nil
}
