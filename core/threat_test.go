package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreatTypeIsValid(t *testing.T) {
	for _, tt := range AllThreatTypes {
		assert.True(t, tt.IsValid(), "expected %s to be valid", tt)
	}
	assert.False(t, ThreatType("port_scan").IsValid())
	assert.False(t, ThreatType("").IsValid())
}

func TestSeverityIsValid(t *testing.T) {
	for _, s := range AllSeverities {
		assert.True(t, s.IsValid(), "expected %s to be valid", s)
	}
	assert.False(t, Severity("informational").IsValid())
	assert.False(t, Severity("").IsValid())
}

func TestSeverityRank(t *testing.T) {
	assert.Equal(t, 1, SeverityLow.Rank())
	assert.Equal(t, 2, SeverityMedium.Rank())
	assert.Equal(t, 3, SeverityHigh.Rank())
	assert.Equal(t, 4, SeverityCritical.Rank())
	assert.Equal(t, 5, SeverityEmergency.Rank())

	// Unknown severities never outrank a recognized one.
	assert.Equal(t, 0, Severity("unknown").Rank())

	for i := 1; i < len(AllSeverities); i++ {
		assert.Greater(t, AllSeverities[i].Rank(), AllSeverities[i-1].Rank())
	}
}

func TestThreatEventValidate(t *testing.T) {
	conf := func(v int) *int { return &v }

	tests := []struct {
		name    string
		event   *ThreatEvent
		wantErr string
	}{
		{
			name:  "valid minimal event",
			event: &ThreatEvent{Type: ThreatTypeDDoS, Source: "203.0.113.7", Severity: SeverityHigh},
		},
		{
			name:  "valid event with confidence",
			event: &ThreatEvent{Type: ThreatTypeBruteForce, Source: "198.51.100.1", Severity: SeverityMedium, Confidence: conf(85)},
		},
		{
			name: "unrecognized type passes validation",
			// The scorer treats unknown types as zero weight; validation only
			// rejects structural problems.
			event: &ThreatEvent{Type: ThreatType("port_scan"), Source: "192.0.2.9", Severity: SeverityLow},
		},
		{
			name:    "nil event",
			event:   nil,
			wantErr: "nil event",
		},
		{
			name:    "missing source",
			event:   &ThreatEvent{Type: ThreatTypeDDoS, Severity: SeverityHigh},
			wantErr: "missing source",
		},
		{
			name:    "whitespace source",
			event:   &ThreatEvent{Type: ThreatTypeDDoS, Source: "   ", Severity: SeverityHigh},
			wantErr: "missing source",
		},
		{
			name:    "missing type",
			event:   &ThreatEvent{Source: "203.0.113.7", Severity: SeverityHigh},
			wantErr: "missing type",
		},
		{
			name:    "missing severity",
			event:   &ThreatEvent{Type: ThreatTypeDDoS, Source: "203.0.113.7"},
			wantErr: "missing severity",
		},
		{
			name:    "confidence below range",
			event:   &ThreatEvent{Type: ThreatTypeDDoS, Source: "203.0.113.7", Severity: SeverityHigh, Confidence: conf(-1)},
			wantErr: "out of range",
		},
		{
			name:    "confidence above range",
			event:   &ThreatEvent{Type: ThreatTypeDDoS, Source: "203.0.113.7", Severity: SeverityHigh, Confidence: conf(101)},
			wantErr: "out of range",
		},
		{
			name:  "confidence at bounds",
			event: &ThreatEvent{Type: ThreatTypeDDoS, Source: "203.0.113.7", Severity: SeverityHigh, Confidence: conf(0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidEvent)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
