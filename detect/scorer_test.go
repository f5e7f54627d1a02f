package detect

import (
	"fmt"
	"testing"

	"warden/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()
	scorer, err := NewScorer(DefaultPolicy(), zap.NewNop().Sugar())
	require.NoError(t, err)
	return scorer
}

func intPtr(v int) *int { return &v }

func TestScorerSeverityBasePoints(t *testing.T) {
	tests := []struct {
		severity core.Severity
		want     int
	}{
		{core.SeverityLow, 20},
		{core.SeverityMedium, 40},
		{core.SeverityHigh, 60},
		{core.SeverityCritical, 80},
		{core.SeverityEmergency, 100},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			scorer := newTestScorer(t)
			event := &core.ThreatEvent{
				Type:     core.ThreatTypeOther,
				Source:   "10.1.1.1",
				Severity: tt.severity,
			}
			assert.Equal(t, tt.want, scorer.Score(event))
		})
	}
}

func TestScorerUnknownSeverityScoresZero(t *testing.T) {
	scorer := newTestScorer(t)
	event := &core.ThreatEvent{
		Type:     core.ThreatTypeOther,
		Source:   "10.1.1.2",
		Severity: core.Severity("apocalyptic"),
	}
	assert.Equal(t, 0, scorer.Score(event))
}

func TestScorerConfidenceScalesBaseOnly(t *testing.T) {
	scorer := newTestScorer(t)

	// 80 * 0.5 = 40 base, then +20 type bonus unscaled.
	event := &core.ThreatEvent{
		Type:       core.ThreatTypeDDoS,
		Source:     "10.1.1.3",
		Severity:   core.SeverityCritical,
		Confidence: intPtr(50),
	}
	assert.Equal(t, 60, scorer.Score(event))
}

func TestScorerTypeBonuses(t *testing.T) {
	tests := []struct {
		threatType core.ThreatType
		want       int
	}{
		{core.ThreatTypeDDoS, 80},
		{core.ThreatTypeMalware, 80},
		{core.ThreatTypeBruteForce, 80},
		{core.ThreatTypeSQLInjection, 75},
		{core.ThreatTypeXSS, 75},
		{core.ThreatTypeOther, 60},
	}

	for i, tt := range tests {
		t.Run(string(tt.threatType), func(t *testing.T) {
			scorer := newTestScorer(t)
			event := &core.ThreatEvent{
				Type:     tt.threatType,
				Source:   fmt.Sprintf("10.1.2.%d", i),
				Severity: core.SeverityHigh,
			}
			assert.Equal(t, tt.want, scorer.Score(event))
		})
	}
}

func TestScorerLowConfidenceInjectionStaysBelowQuarantine(t *testing.T) {
	scorer := newTestScorer(t)

	// 40 * 0.5 + 15 = 35, under the quarantine threshold of 60.
	event := &core.ThreatEvent{
		Type:       core.ThreatTypeSQLInjection,
		Source:     "10.0.0.9",
		Severity:   core.SeverityMedium,
		Confidence: intPtr(50),
	}
	score := scorer.Score(event)
	assert.Equal(t, 35, score)
	assert.Less(t, score, DefaultPolicy().QuarantineThreshold)
}

func TestScorerEscalationOnRepeatOffense(t *testing.T) {
	scorer := newTestScorer(t)
	event := &core.ThreatEvent{
		Type:     core.ThreatTypeOther,
		Source:   "10.1.1.4",
		Severity: core.SeverityMedium,
	}

	first := scorer.Score(event)
	assert.Equal(t, 40, first)

	// Prior 40 escalates the repeat by 0.3*40 = 12.
	second := scorer.Score(event)
	assert.Equal(t, 52, second)

	// Prior 52 escalates by 15.6, rounded at the end.
	third := scorer.Score(event)
	assert.Equal(t, 56, third)
}

func TestScorerEscalationIsCapped(t *testing.T) {
	scorer := newTestScorer(t)
	event := &core.ThreatEvent{
		Type:     core.ThreatTypeDDoS,
		Source:   "10.1.1.5",
		Severity: core.SeverityCritical,
	}

	assert.Equal(t, 100, scorer.Score(event))

	// 0.3*100 = 30 hits the cap exactly; the total clamps back to 100.
	assert.Equal(t, 100, scorer.Score(event))
	assert.Equal(t, 100, scorer.PeekScore("10.1.1.5"))
}

func TestScorerClampsToHundred(t *testing.T) {
	scorer := newTestScorer(t)
	event := &core.ThreatEvent{
		Type:     core.ThreatTypeDDoS,
		Source:   "10.1.1.6",
		Severity: core.SeverityEmergency,
	}
	assert.Equal(t, 100, scorer.Score(event))
}

func TestScorerHistoryIsSharedAcrossSourceSpellings(t *testing.T) {
	scorer := newTestScorer(t)

	mapped := &core.ThreatEvent{
		Type:     core.ThreatTypeOther,
		Source:   "::ffff:192.0.2.1",
		Severity: core.SeverityMedium,
	}
	assert.Equal(t, 40, scorer.Score(mapped))

	canonical := &core.ThreatEvent{
		Type:     core.ThreatTypeOther,
		Source:   "192.0.2.1",
		Severity: core.SeverityMedium,
	}
	assert.Equal(t, 52, scorer.Score(canonical))
	assert.Equal(t, 1, scorer.TrackedSources())
}

func TestScorerPeekScoreDoesNotEscalate(t *testing.T) {
	scorer := newTestScorer(t)
	event := &core.ThreatEvent{
		Type:     core.ThreatTypeOther,
		Source:   "10.1.1.7",
		Severity: core.SeverityHigh,
	}
	scorer.Score(event)

	assert.Equal(t, 60, scorer.PeekScore("10.1.1.7"))
	assert.Equal(t, 60, scorer.PeekScore("10.1.1.7"))
	assert.Equal(t, 0, scorer.PeekScore("198.51.100.200"))
}

func TestScorerDecayDropsBelowFloor(t *testing.T) {
	scorer := newTestScorer(t)

	scorer.Score(&core.ThreatEvent{Type: core.ThreatTypeOther, Source: "10.1.1.8", Severity: core.SeverityLow})
	scorer.Score(&core.ThreatEvent{Type: core.ThreatTypeOther, Source: "10.1.1.9", Severity: core.SeverityCritical})
	require.Equal(t, 2, scorer.TrackedSources())

	// 20 -> 18 -> 16.2 -> ... falls under 10 after seven ticks; 80 survives.
	dropped := 0
	for i := 0; i < 7; i++ {
		dropped += scorer.Decay(0.9, 10)
	}
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, scorer.TrackedSources())
	assert.Equal(t, 0, scorer.PeekScore("10.1.1.8"))
	assert.Equal(t, 38, scorer.PeekScore("10.1.1.9"))
}

func TestScorerRejectsInvalidPolicy(t *testing.T) {
	policy := DefaultPolicy()
	policy.EscalationFactor = -1

	_, err := NewScorer(policy, zap.NewNop().Sugar())
	assert.Error(t, err)
}

func TestScorerHistoryIsBounded(t *testing.T) {
	scorer := newTestScorer(t)

	for i := 0; i < defaultHistoryCapacity+64; i++ {
		scorer.Score(&core.ThreatEvent{
			Type:     core.ThreatTypeOther,
			Source:   fmt.Sprintf("host-%d.example.com", i),
			Severity: core.SeverityLow,
		})
	}
	assert.Equal(t, defaultHistoryCapacity, scorer.TrackedSources())
}

func TestScorerDeterministicForIdenticalFreshSources(t *testing.T) {
	scorer := newTestScorer(t)

	for i := 0; i < 5; i++ {
		event := &core.ThreatEvent{
			Type:       core.ThreatTypeXSS,
			Source:     fmt.Sprintf("203.0.113.%d", i+1),
			Severity:   core.SeverityHigh,
			Confidence: intPtr(80),
		}
		// 60*0.8 + 15 = 63 for every fresh source.
		assert.Equal(t, 63, scorer.Score(event))
	}
}
