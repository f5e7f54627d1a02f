package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDDoSDetectorCrossesThresholdAtHundred(t *testing.T) {
	detector := NewDDoSDetector(100, 60*time.Second, zap.NewNop().Sugar())

	for i := 0; i < 99; i++ {
		require.False(t, detector.Observe("10.0.0.5"), "request %d should be under threshold", i+1)
	}
	assert.True(t, detector.Observe("10.0.0.5"))
	assert.True(t, detector.Observe("10.0.0.5"))
	assert.Equal(t, uint64(1), detector.Detections())
}

func TestDDoSDetectorCountsDetectionOncePerWindow(t *testing.T) {
	detector := NewDDoSDetector(3, time.Minute, zap.NewNop().Sugar())

	detector.Observe("10.0.0.6")
	detector.Observe("10.0.0.6")
	assert.True(t, detector.Observe("10.0.0.6"))
	assert.True(t, detector.Observe("10.0.0.6"))
	assert.True(t, detector.Observe("10.0.0.6"))
	assert.Equal(t, uint64(1), detector.Detections())
}

func TestDDoSDetectorWindowResets(t *testing.T) {
	detector := NewDDoSDetector(3, time.Minute, zap.NewNop().Sugar())
	current := time.Now()
	detector.now = func() time.Time { return current }

	detector.Observe("10.0.0.7")
	detector.Observe("10.0.0.7")
	assert.True(t, detector.Observe("10.0.0.7"))

	current = current.Add(61 * time.Second)

	assert.False(t, detector.Observe("10.0.0.7"), "stale window should reset the counter")
	assert.Equal(t, 1, detector.ActiveWindows())
}

func TestDDoSDetectorTracksSourcesIndependently(t *testing.T) {
	detector := NewDDoSDetector(2, time.Minute, zap.NewNop().Sugar())

	detector.Observe("10.0.0.8")
	detector.Observe("192.0.2.50")
	assert.False(t, detector.Observe("192.0.2.51"))
	assert.True(t, detector.Observe("10.0.0.8"))
	assert.Equal(t, 3, detector.ActiveWindows())
}

func TestDDoSDetectorNormalizesSource(t *testing.T) {
	detector := NewDDoSDetector(2, time.Minute, zap.NewNop().Sugar())

	detector.Observe("::ffff:10.0.0.5")
	assert.True(t, detector.Observe("10.0.0.5"))
	assert.Equal(t, 1, detector.ActiveWindows())
}

func TestDDoSDetectorPurgeStale(t *testing.T) {
	detector := NewDDoSDetector(100, time.Minute, zap.NewNop().Sugar())
	current := time.Now()
	detector.now = func() time.Time { return current }

	detector.Observe("10.0.1.1")
	detector.Observe("10.0.1.2")
	require.Equal(t, 2, detector.ActiveWindows())

	// Stale means idle for more than twice the window.
	current = current.Add(2*time.Minute + time.Second)
	detector.Observe("10.0.1.3")

	assert.Equal(t, 2, detector.PurgeStale())
	assert.Equal(t, 1, detector.ActiveWindows())
}
