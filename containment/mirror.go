package containment

import (
	"context"
	"fmt"
	"time"

	"warden/core"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// Mirror is the advisory secondary replica of containment decisions. It
// receives the same block/quarantine/unblock/unquarantine calls as the
// Store, keyed by both raw and normalized identifiers, so another instance
// can read containment state if this process is unreachable. The Store never
// reads the mirror back: on disagreement the Store is authoritative.
type Mirror interface {
	Block(ctx context.Context, entry Entry) error
	Quarantine(ctx context.Context, entry Entry) error
	Unblock(ctx context.Context, raw, normalized string) error
	Unquarantine(ctx context.Context, raw, normalized string) error
	Ping(ctx context.Context) error
	Close() error
}

// NoopMirror satisfies Mirror without doing anything; it is the default when
// no Redis endpoint is configured.
type NoopMirror struct{}

func (NoopMirror) Block(context.Context, Entry) error                 { return nil }
func (NoopMirror) Quarantine(context.Context, Entry) error           { return nil }
func (NoopMirror) Unblock(context.Context, string, string) error     { return nil }
func (NoopMirror) Unquarantine(context.Context, string, string) error { return nil }
func (NoopMirror) Ping(context.Context) error                        { return nil }
func (NoopMirror) Close() error                                      { return nil }

// mirrorKeyPrefix namespaces warden's keys in a shared Redis.
const mirrorKeyPrefix = "warden:containment:"

// mirrorRecord is the msgpack payload stored per key.
type mirrorRecord struct {
	Source     string    `msgpack:"source"`
	Normalized string    `msgpack:"normalized"`
	Kind       string    `msgpack:"kind"`
	Reason     string    `msgpack:"reason,omitempty"`
	CreatedAt  time.Time `msgpack:"created_at"`
	ExpiresAt  time.Time `msgpack:"expires_at"`
}

// RedisMirror replicates containment entries into Redis. Each entry is
// written under its raw and normalized keys with a TTL matching the entry's
// remaining lifetime, so the mirror self-cleans even if a removal is lost.
// All calls pass through a circuit breaker; a dead Redis degrades to fast
// failures instead of pool exhaustion.
type RedisMirror struct {
	client  *redis.Client
	breaker *core.Breaker
	logger  *zap.SugaredLogger
}

// NewRedisMirror connects to Redis and verifies the connection.
func NewRedisMirror(ctx context.Context, addr, password string, db, poolSize int, logger *zap.SugaredLogger) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("mirror redis ping: %w", err)
	}

	breaker, err := core.NewBreaker(core.DefaultBreakerConfig())
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	return &RedisMirror{
		client:  client,
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Block writes the entry under both key forms.
func (m *RedisMirror) Block(ctx context.Context, entry Entry) error {
	return m.write(ctx, entry)
}

// Quarantine writes the entry under both key forms.
func (m *RedisMirror) Quarantine(ctx context.Context, entry Entry) error {
	return m.write(ctx, entry)
}

// Unblock deletes both key forms.
func (m *RedisMirror) Unblock(ctx context.Context, raw, normalized string) error {
	return m.remove(ctx, raw, normalized)
}

// Unquarantine deletes both key forms.
func (m *RedisMirror) Unquarantine(ctx context.Context, raw, normalized string) error {
	return m.remove(ctx, raw, normalized)
}

func (m *RedisMirror) write(ctx context.Context, entry Entry) error {
	if err := m.breaker.Allow(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMirrorUnavailable, err)
	}

	rec := mirrorRecord{
		Source:     entry.Source,
		Normalized: entry.Normalized,
		Kind:       string(entry.Kind),
		Reason:     entry.Reason,
		CreatedAt:  entry.CreatedAt,
		ExpiresAt:  entry.ExpiresAt,
	}
	data, err := msgpack.Marshal(rec)
	if err != nil {
		// Encoding failure is a bug, not a backend outage.
		return fmt.Errorf("mirror encode: %w", err)
	}

	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}

	pipe := m.client.Pipeline()
	for _, key := range m.keysFor(entry.Source, entry.Normalized) {
		pipe.Set(ctx, key, data, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		m.recordFailure()
		return fmt.Errorf("%w: %v", core.ErrMirrorUnavailable, err)
	}
	m.recordSuccess()
	return nil
}

func (m *RedisMirror) remove(ctx context.Context, raw, normalized string) error {
	if err := m.breaker.Allow(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMirrorUnavailable, err)
	}
	if err := m.client.Del(ctx, m.keysFor(raw, normalized)...).Err(); err != nil {
		m.recordFailure()
		return fmt.Errorf("%w: %v", core.ErrMirrorUnavailable, err)
	}
	m.recordSuccess()
	return nil
}

func (m *RedisMirror) recordFailure() {
	if old, next := m.breaker.RecordFailure(); old != next {
		m.logger.Warnw("Mirror breaker state change", "from", string(old), "to", string(next))
	}
}

func (m *RedisMirror) recordSuccess() {
	if old, next := m.breaker.RecordSuccess(); old != next {
		m.logger.Infow("Mirror breaker state change", "from", string(old), "to", string(next))
	}
}

// keysFor returns the raw and normalized keys, deduplicated when they agree.
func (m *RedisMirror) keysFor(raw, normalized string) []string {
	rawKey := mirrorKeyPrefix + raw
	normKey := mirrorKeyPrefix + normalized
	if rawKey == normKey {
		return []string{normKey}
	}
	return []string{rawKey, normKey}
}

// Lookup reads the mirrored entry for a source, trying the normalized key
// first. It exists for other instances (and the health endpoint); the
// engine's own lookups always hit the authoritative Store.
func (m *RedisMirror) Lookup(ctx context.Context, source string) (*Entry, bool, error) {
	for _, key := range []string{mirrorKeyPrefix + Normalize(source), mirrorKeyPrefix + source} {
		data, err := m.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", core.ErrMirrorUnavailable, err)
		}
		var rec mirrorRecord
		if err := msgpack.Unmarshal(data, &rec); err != nil {
			return nil, false, fmt.Errorf("mirror decode: %w", err)
		}
		return &Entry{
			Source:     rec.Source,
			Normalized: rec.Normalized,
			Kind:       Kind(rec.Kind),
			Reason:     rec.Reason,
			CreatedAt:  rec.CreatedAt,
			ExpiresAt:  rec.ExpiresAt,
		}, true, nil
	}
	return nil, false, nil
}

// Ping tests the Redis connection.
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
