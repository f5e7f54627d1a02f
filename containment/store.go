package containment

import (
	"context"
	"sync"
	"time"

	"warden/core"
	"warden/metrics"

	"go.uber.org/zap"
)

// Kind distinguishes the two containment tiers.
type Kind string

const (
	// KindBlocked is full containment; requests from the source are refused.
	KindBlocked Kind = "BLOCKED"
	// KindQuarantined is soft containment; the source is restricted, not refused.
	KindQuarantined Kind = "QUARANTINED"
)

// mirrorTimeout bounds each asynchronous mirror propagation call.
const mirrorTimeout = 2 * time.Second

// Entry is one active containment decision. A source has at most one active
// entry; BLOCKED supersedes QUARANTINED. The expiry timer handle lives on
// the entry so manual removal can cancel it atomically with the removal.
type Entry struct {
	Source     string    `json:"source"`
	Normalized string    `json:"normalized"`
	Kind       Kind      `json:"kind"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`

	timer *time.Timer
}

// Active reports whether the entry has not yet reached its expiry time.
func (e *Entry) Active(now time.Time) bool {
	return e != nil && now.Before(e.ExpiresAt)
}

// Store is the authoritative in-memory containment state. All methods are
// safe for concurrent use. Every mutation is propagated to the configured
// Mirror as detached best-effort work; the store never reads the mirror
// back, and never blocks its caller on it.
type Store struct {
	mu          sync.RWMutex
	entries     map[string]*Entry
	blocked     int
	quarantined int

	mirror Mirror
	pool   *core.WorkerPool
	logger *zap.SugaredLogger

	// now is the clock; tests substitute a fake so TTL math is
	// deterministic without sleeping.
	now func() time.Time

	// onExpire, when set, runs after an entry is removed by TTL expiry.
	// Manual removal cancels the timer first, so the hook can never fire
	// for an entry that was already removed by hand.
	onExpire func(Entry)
}

// NewStore builds a containment store that replicates mutations to mirror
// through pool. A nil pool runs propagation inline, which tests use for
// determinism.
func NewStore(mirror Mirror, pool *core.WorkerPool, logger *zap.SugaredLogger) *Store {
	if mirror == nil {
		mirror = NoopMirror{}
	}
	return &Store{
		entries: make(map[string]*Entry),
		mirror:  mirror,
		pool:    pool,
		logger:  logger,
		now:     time.Now,
	}
}

// OnExpire registers the hook invoked after TTL expiry removes an entry.
// Must be set before the store receives traffic.
func (s *Store) OnExpire(hook func(Entry)) {
	s.onExpire = hook
}

// Block creates a BLOCKED entry for the source, superseding any existing
// entry (a quarantine is removed, an older block is replaced and its TTL
// restarted), and schedules auto-removal after duration. Returns a copy of
// the stored entry.
func (s *Store) Block(source string, duration time.Duration, reason string) Entry {
	norm := Normalize(source)
	now := s.now()

	s.mu.Lock()
	if existing, ok := s.entries[norm]; ok {
		s.dropLocked(norm, existing)
	}
	entry := &Entry{
		Source:     source,
		Normalized: norm,
		Kind:       KindBlocked,
		Reason:     reason,
		CreatedAt:  now,
		ExpiresAt:  now.Add(duration),
	}
	entry.timer = time.AfterFunc(duration, func() { s.expire(norm, entry) })
	s.entries[norm] = entry
	s.blocked++
	s.updateGaugesLocked()
	snapshot := copyEntry(entry)
	s.mu.Unlock()

	s.logger.Infow("Source blocked",
		"source", source,
		"normalized", norm,
		"duration", duration,
		"reason", reason)
	s.propagate(func(ctx context.Context) error { return s.mirror.Block(ctx, snapshot) }, "block")
	return snapshot
}

// Quarantine creates a QUARANTINED entry for the source unless the source is
// already BLOCKED (blocking is the stronger tier and is left in place). An
// existing quarantine is replaced and its TTL restarted. The second return
// is false when a block suppressed the quarantine.
func (s *Store) Quarantine(source string, duration time.Duration, reason string) (Entry, bool) {
	norm := Normalize(source)
	now := s.now()

	s.mu.Lock()
	if existing, ok := s.entries[norm]; ok {
		if existing.Kind == KindBlocked && existing.Active(now) {
			s.mu.Unlock()
			return Entry{}, false
		}
		s.dropLocked(norm, existing)
	}
	entry := &Entry{
		Source:     source,
		Normalized: norm,
		Kind:       KindQuarantined,
		Reason:     reason,
		CreatedAt:  now,
		ExpiresAt:  now.Add(duration),
	}
	entry.timer = time.AfterFunc(duration, func() { s.expire(norm, entry) })
	s.entries[norm] = entry
	s.quarantined++
	s.updateGaugesLocked()
	snapshot := copyEntry(entry)
	s.mu.Unlock()

	s.logger.Infow("Source quarantined",
		"source", source,
		"normalized", norm,
		"duration", duration,
		"reason", reason)
	s.propagate(func(ctx context.Context) error { return s.mirror.Quarantine(ctx, snapshot) }, "quarantine")
	return snapshot, true
}

// IsBlocked reports whether the source has an active BLOCKED entry. Expiry
// is also checked lazily against the clock so a stale entry whose timer has
// not fired yet (or whose clock was advanced in tests) never reads as
// active.
func (s *Store) IsBlocked(source string) bool {
	return s.activeKind(source) == KindBlocked
}

// IsQuarantined reports whether the source has an active QUARANTINED entry.
func (s *Store) IsQuarantined(source string) bool {
	return s.activeKind(source) == KindQuarantined
}

func (s *Store) activeKind(source string) Kind {
	norm := Normalize(source)
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry, ok := s.entries[norm]; ok && entry.Active(now) {
		return entry.Kind
	}
	return ""
}

// Unblock removes the source's BLOCKED entry and cancels its pending expiry.
// Removing an absent entry is a no-op; the return reports whether an entry
// was actually removed.
func (s *Store) Unblock(source string) bool {
	return s.removeManual(source, KindBlocked, "unblock")
}

// Unquarantine removes the source's QUARANTINED entry and cancels its
// pending expiry. Idempotent like Unblock. A BLOCKED entry is left alone.
func (s *Store) Unquarantine(source string) bool {
	return s.removeManual(source, KindQuarantined, "unquarantine")
}

func (s *Store) removeManual(source string, kind Kind, op string) bool {
	norm := Normalize(source)

	s.mu.Lock()
	entry, ok := s.entries[norm]
	if !ok || entry.Kind != kind {
		s.mu.Unlock()
		return false
	}
	s.dropLocked(norm, entry)
	s.updateGaugesLocked()
	snapshot := copyEntry(entry)
	s.mu.Unlock()

	s.logger.Infow("Containment removed",
		"op", op,
		"source", source,
		"normalized", norm,
		"kind", string(kind))
	s.propagate(func(ctx context.Context) error {
		return s.mirrorRemoval(ctx, kind, snapshot)
	}, op)
	return true
}

// mirrorRemoval routes a removal to the kind-matching mirror call.
func (s *Store) mirrorRemoval(ctx context.Context, kind Kind, entry Entry) error {
	if kind == KindBlocked {
		return s.mirror.Unblock(ctx, entry.Source, entry.Normalized)
	}
	return s.mirror.Unquarantine(ctx, entry.Source, entry.Normalized)
}

// expire is the timer callback. Auto-expiry and manual removal share
// dropLocked, so the two paths cannot diverge; the identity check makes a
// timer that lost the race against manual removal (or against a superseding
// entry) a no-op.
func (s *Store) expire(norm string, entry *Entry) {
	s.mu.Lock()
	current, ok := s.entries[norm]
	if !ok || current != entry {
		s.mu.Unlock()
		return
	}
	s.dropLocked(norm, entry)
	s.updateGaugesLocked()
	snapshot := copyEntry(entry)
	s.mu.Unlock()

	metrics.ContainmentExpiries.WithLabelValues(string(entry.Kind)).Inc()
	s.logger.Infow("Containment expired",
		"source", entry.Source,
		"normalized", norm,
		"kind", string(entry.Kind))
	s.propagate(func(ctx context.Context) error {
		return s.mirrorRemoval(ctx, snapshot.Kind, snapshot)
	}, "expire")
	if s.onExpire != nil {
		s.onExpire(snapshot)
	}
}

// dropLocked removes an entry and stops its timer. Callers hold s.mu.
func (s *Store) dropLocked(norm string, entry *Entry) {
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(s.entries, norm)
	switch entry.Kind {
	case KindBlocked:
		s.blocked--
	case KindQuarantined:
		s.quarantined--
	}
}

func (s *Store) updateGaugesLocked() {
	metrics.ActiveBlocks.Set(float64(s.blocked))
	metrics.ActiveQuarantines.Set(float64(s.quarantined))
}

// Counts returns the number of active blocked and quarantined entries.
func (s *Store) Counts() (blocked, quarantined int) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.entries {
		if !e.Active(now) {
			continue
		}
		switch e.Kind {
		case KindBlocked:
			blocked++
		case KindQuarantined:
			quarantined++
		}
	}
	return blocked, quarantined
}

// Snapshot returns copies of all active entries, for the admin API.
func (s *Store) Snapshot() []Entry {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.Active(now) {
			out = append(out, copyEntry(e))
		}
	}
	return out
}

// Stop cancels every pending expiry timer. Entries stay in place; Stop is
// for process shutdown, not for clearing state.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
}

// propagate hands a mirror call to the worker pool, or runs it inline when
// no pool is configured. Failures are counted and logged, never surfaced.
func (s *Store) propagate(call func(context.Context) error, op string) {
	task := func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		if err := call(ctx); err != nil {
			metrics.MirrorFailures.Inc()
			s.logger.Warnw("Mirror propagation failed", "op", op, "error", err)
			return
		}
		metrics.MirrorOps.WithLabelValues(op).Inc()
	}

	if s.pool == nil {
		task()
		return
	}
	if err := s.pool.Submit(task); err != nil {
		metrics.MirrorFailures.Inc()
		s.logger.Warnw("Mirror propagation dropped", "op", op, "error", err)
	}
}

func copyEntry(e *Entry) Entry {
	c := *e
	c.timer = nil
	return c
}
