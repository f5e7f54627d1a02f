package detect

import (
	"math"
	"sync"
	"time"

	"warden/containment"
	"warden/core"
	"warden/metrics"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// defaultHistoryCapacity bounds the per-source score history. A source
// spraying fresh identifiers evicts the least recently scored entries
// instead of growing memory; the janitor's decay pass prunes the rest.
const defaultHistoryCapacity = 16384

// sourceHistory is the decayed running score kept per source.
type sourceHistory struct {
	score     float64
	updatedAt time.Time
}

// Scorer derives a bounded score from an event's severity, confidence, and
// type, plus an escalation term from the source's decayed prior score, then
// stores the new score as that source's history. Deterministic given
// identical inputs and identical prior history. Unrecognized severity or
// type values contribute zero; there are no error conditions.
type Scorer struct {
	mu      sync.Mutex
	policy  Policy
	history *lru.Cache[string, *sourceHistory]
	logger  *zap.SugaredLogger
	now     func() time.Time
}

// NewScorer builds a scorer with the given policy.
func NewScorer(policy Policy, logger *zap.SugaredLogger) (*Scorer, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	history, err := lru.New[string, *sourceHistory](defaultHistoryCapacity)
	if err != nil {
		return nil, err
	}
	return &Scorer{
		policy:  policy,
		history: history,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Policy returns the scoring policy in effect.
func (s *Scorer) Policy() Policy {
	return s.policy
}

// Score computes the event's score in [0,100] and records it as the
// source's new history, keyed by the normalized source id.
func (s *Scorer) Score(event *core.ThreatEvent) int {
	norm := containment.Normalize(event.Source)

	s.mu.Lock()
	defer s.mu.Unlock()

	score := float64(s.policy.SeverityPoints[event.Severity])
	if event.Confidence != nil {
		score = score * float64(*event.Confidence) / 100
	}
	score += float64(s.policy.TypeBonus[event.Type])

	var prior float64
	if h, ok := s.history.Get(norm); ok {
		prior = h.score
	}
	escalation := s.policy.EscalationFactor * prior
	if escalation > float64(s.policy.EscalationCap) {
		escalation = float64(s.policy.EscalationCap)
	}
	score += escalation

	if score < 0 {
		score = 0
	} else if score > 100 {
		score = 100
	}

	s.history.Add(norm, &sourceHistory{score: score, updatedAt: s.now()})
	metrics.ThreatScores.Observe(score)
	return int(math.Round(score))
}

// PeekScore returns the source's current decayed score without updating
// history. Sources with no history score zero.
func (s *Scorer) PeekScore(source string) int {
	norm := containment.Normalize(source)

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.history.Peek(norm); ok {
		return int(math.Round(h.score))
	}
	return 0
}

// TrackedSources reports how many sources currently have score history;
// these are the engine's "suspicious" sources.
func (s *Scorer) TrackedSources() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Len()
}

// Decay multiplies every stored score by factor and drops entries that fall
// below floor. The janitor calls this on each tick; the return is the number
// of entries dropped.
func (s *Scorer) Decay(factor, floor float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for _, key := range s.history.Keys() {
		h, ok := s.history.Peek(key)
		if !ok {
			continue
		}
		h.score *= factor
		if h.score < floor {
			s.history.Remove(key)
			dropped++
		}
	}
	return dropped
}
