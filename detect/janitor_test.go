package detect

import (
	"context"
	"testing"
	"time"

	"warden/core"
	"warden/util/goroutine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newJanitorFixture(t *testing.T) (*Janitor, *Scorer, *DDoSDetector, *RateLimiter) {
	t.Helper()
	logger := zap.NewNop().Sugar()

	scorer, err := NewScorer(DefaultPolicy(), logger)
	require.NoError(t, err)
	ddos := NewDDoSDetector(100, time.Minute, logger)
	limiter := NewRateLimiter(60, time.Minute, logger)

	janitor := NewJanitor(time.Second, 0.5, 15, scorer, ddos, limiter, logger)
	return janitor, scorer, ddos, limiter
}

func TestJanitorSweepPurgesAndDecays(t *testing.T) {
	janitor, scorer, ddos, limiter := newJanitorFixture(t)

	current := time.Now()
	ddos.now = func() time.Time { return current }
	limiter.now = func() time.Time { return current }

	scorer.Score(&core.ThreatEvent{Type: core.ThreatTypeOther, Source: "10.2.0.1", Severity: core.SeverityLow})
	scorer.Score(&core.ThreatEvent{Type: core.ThreatTypeOther, Source: "10.2.0.2", Severity: core.SeverityCritical})
	ddos.Observe("10.2.0.1")
	limiter.Exceeded("10.2.0.1")
	require.Equal(t, 2, scorer.TrackedSources())

	// Make the rate counter elapse and the DDoS window go stale.
	current = current.Add(3 * time.Minute)

	janitor.Sweep()

	// 20*0.5 = 10 is under the 15 floor and drops; 80*0.5 = 40 stays.
	assert.Equal(t, 1, scorer.TrackedSources())
	assert.Equal(t, 0, scorer.PeekScore("10.2.0.1"))
	assert.Equal(t, 40, scorer.PeekScore("10.2.0.2"))
	assert.Equal(t, 0, ddos.ActiveWindows())
	assert.Equal(t, 0, limiter.ActiveWindows())
}

func TestJanitorSweepOnQuietStateIsNoop(t *testing.T) {
	janitor, scorer, ddos, limiter := newJanitorFixture(t)

	janitor.Sweep()

	assert.Equal(t, 0, scorer.TrackedSources())
	assert.Equal(t, 0, ddos.ActiveWindows())
	assert.Equal(t, 0, limiter.ActiveWindows())
}

func TestJanitorTickerDrivesSweeps(t *testing.T) {
	goroutine.AssertNoLeaks(t)

	janitor, scorer, _, _ := newJanitorFixture(t)

	scorer.Score(&core.ThreatEvent{Type: core.ThreatTypeOther, Source: "10.2.0.3", Severity: core.SeverityMedium})
	require.Equal(t, 40, scorer.PeekScore("10.2.0.3"))

	janitor.Start(context.Background())
	defer janitor.Stop()

	assert.Eventually(t, func() bool {
		return scorer.PeekScore("10.2.0.3") < 40
	}, 3*time.Second, 50*time.Millisecond)
}

func TestJanitorStopIsIdempotent(t *testing.T) {
	janitor, _, _, _ := newJanitorFixture(t)

	janitor.Start(context.Background())
	janitor.Stop()
	janitor.Stop()
}

func TestJanitorStopWithoutStart(t *testing.T) {
	janitor, _, _, _ := newJanitorFixture(t)
	janitor.Stop()
}

func TestJanitorStopsWhenContextCancelled(t *testing.T) {
	goroutine.AssertNoLeaks(t)

	janitor, _, _, _ := newJanitorFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	janitor.Start(ctx)
	cancel()

	// Stop still returns promptly after the loop exited on its own.
	janitor.Stop()
}

func TestJanitorClampsConfig(t *testing.T) {
	logger := zap.NewNop().Sugar()
	scorer, err := NewScorer(DefaultPolicy(), logger)
	require.NoError(t, err)

	janitor := NewJanitor(0, -3, -1,
		scorer,
		NewDDoSDetector(100, time.Minute, logger),
		NewRateLimiter(60, time.Minute, logger),
		logger)

	assert.Equal(t, time.Second, janitor.interval)
	assert.Equal(t, 0.9, janitor.decayFactor)
	assert.Equal(t, 10.0, janitor.scoreFloor)
}
