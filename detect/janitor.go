package detect

import (
	"context"
	"sync"
	"time"

	"warden/util/goroutine"

	"go.uber.org/zap"
)

// Janitor is the cleanup scheduler. On each tick it purges elapsed rate
// counters, purges DDoS windows stale beyond twice their window, and decays
// every source's historical score, dropping entries below the floor. It
// runs on its own ticker, independent of request traffic.
type Janitor struct {
	interval    time.Duration
	decayFactor float64
	scoreFloor  float64

	scorer  *Scorer
	ddos    *DDoSDetector
	limiter *RateLimiter
	logger  *zap.SugaredLogger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewJanitor wires the janitor to the structures it sweeps. interval is
// clamped to a 1s minimum; decayFactor outside (0,1] falls back to 0.9 and a
// negative floor to 10.
func NewJanitor(interval time.Duration, decayFactor, scoreFloor float64,
	scorer *Scorer, ddos *DDoSDetector, limiter *RateLimiter, logger *zap.SugaredLogger) *Janitor {
	if interval < time.Second {
		interval = time.Second
	}
	if decayFactor <= 0 || decayFactor > 1 {
		decayFactor = 0.9
	}
	if scoreFloor < 0 {
		scoreFloor = 10
	}
	return &Janitor{
		interval:    interval,
		decayFactor: decayFactor,
		scoreFloor:  scoreFloor,
		scorer:      scorer,
		ddos:        ddos,
		limiter:     limiter,
		logger:      logger,
	}
}

// Start launches the sweep loop. Cancelling ctx stops it the same way Stop
// does. Starting a running janitor is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return
	}
	j.running = true

	loopCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel

	ticker := time.NewTicker(j.interval)
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer goroutine.Recover("janitor", j.logger)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				j.Sweep()
			case <-loopCtx.Done():
				return
			}
		}
	}()

	j.logger.Infow("Janitor started",
		"interval", j.interval,
		"decay_factor", j.decayFactor,
		"score_floor", j.scoreFloor)
}

// Sweep runs one cleanup pass. Exported so tests (and the simulate command)
// can drive cleanup without waiting for a tick.
func (j *Janitor) Sweep() {
	purgedCounters := j.limiter.Purge()
	purgedWindows := j.ddos.PurgeStale()
	droppedScores := j.scorer.Decay(j.decayFactor, j.scoreFloor)

	if purgedCounters > 0 || purgedWindows > 0 || droppedScores > 0 {
		j.logger.Debugw("Janitor sweep",
			"purged_rate_counters", purgedCounters,
			"purged_ddos_windows", purgedWindows,
			"dropped_scores", droppedScores)
	}
}

// Stop cancels the sweep loop and waits for it to exit, giving up after
// five seconds.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	j.cancel()
	j.mu.Unlock()

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		j.logger.Warn("janitor goroutine did not stop within 5s")
	}
}
