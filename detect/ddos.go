package detect

import (
	"sync"
	"sync/atomic"
	"time"

	"warden/containment"
	"warden/metrics"

	"go.uber.org/zap"
)

// ddosWindow is one source's sliding request window.
type ddosWindow struct {
	count int
	start time.Time
}

// DDoSDetector counts request observations per source in a sliding window
// and reports when a source crosses the volumetric threshold. Detection is
// separate from action: the orchestrator decides to block, never the
// detector.
type DDoSDetector struct {
	mu         sync.Mutex
	windows    map[string]*ddosWindow
	threshold  int
	window     time.Duration
	detections uint64
	logger     *zap.SugaredLogger
	now        func() time.Time
}

// NewDDoSDetector builds a detector that trips at threshold observations
// within window.
func NewDDoSDetector(threshold int, window time.Duration, logger *zap.SugaredLogger) *DDoSDetector {
	if threshold < 1 {
		threshold = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &DDoSDetector{
		windows:   make(map[string]*ddosWindow),
		threshold: threshold,
		window:    window,
		logger:    logger,
		now:       time.Now,
	}
}

// Observe records one request observation for the source and reports
// whether the source is at or past the detection threshold within the
// current window. An elapsed window resets to count=1.
func (d *DDoSDetector) Observe(source string) bool {
	norm := containment.Normalize(source)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	w, ok := d.windows[norm]
	if !ok || now.Sub(w.start) > d.window {
		d.windows[norm] = &ddosWindow{count: 1, start: now}
		return false
	}

	w.count++
	if w.count < d.threshold {
		return false
	}
	if w.count == d.threshold {
		// First crossing in this window counts as one detection.
		atomic.AddUint64(&d.detections, 1)
		metrics.DDoSDetections.Inc()
		d.logger.Warnw("DDoS threshold crossed",
			"source", source,
			"normalized", norm,
			"count", w.count,
			"window", d.window)
	}
	return true
}

// Detections returns the running count of positive detections.
func (d *DDoSDetector) Detections() uint64 {
	return atomic.LoadUint64(&d.detections)
}

// ActiveWindows reports how many sources have a live window.
func (d *DDoSDetector) ActiveWindows() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.windows)
}

// PurgeStale removes windows idle beyond twice the window length and
// returns how many were removed. Called by the janitor.
func (d *DDoSDetector) PurgeStale() int {
	now := d.now()
	staleAfter := 2 * d.window

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key, w := range d.windows {
		if now.Sub(w.start) > staleAfter {
			delete(d.windows, key)
			removed++
		}
	}
	return removed
}
