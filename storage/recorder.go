package storage

import (
	"context"
	"time"

	"warden/core"
	"warden/metrics"

	"go.uber.org/zap"
)

// recordTimeout bounds each asynchronous store write.
const recordTimeout = 5 * time.Second

// Recorder persists incidents and audit entries without ever making the
// response path wait or fail. Writes are dispatched to a bounded worker
// pool; a primary-store failure routes the write to the in-memory fallback,
// and a circuit breaker keeps a dead primary from being hammered on every
// event.
type Recorder struct {
	primary  IncidentStore
	fallback *MemoryIncidentStore
	audit    AuditStore
	pool     *core.WorkerPool
	breaker  *core.Breaker
	logger   *zap.SugaredLogger
}

// NewRecorder wires the recorder. primary may be nil, in which case all
// incidents land in the fallback; audit may be nil to disable the audit
// trail. pool may be nil, which runs writes inline (tests).
func NewRecorder(primary IncidentStore, audit AuditStore, pool *core.WorkerPool, logger *zap.SugaredLogger) (*Recorder, error) {
	breaker, err := core.NewBreaker(core.DefaultBreakerConfig())
	if err != nil {
		return nil, err
	}

	return &Recorder{
		primary:  primary,
		fallback: NewMemoryIncidentStore(0),
		audit:    audit,
		pool:     pool,
		breaker:  breaker,
		logger:   logger,
	}, nil
}

// RecordIncident persists the incident asynchronously. The caller never
// waits and never sees an error.
func (r *Recorder) RecordIncident(incident *core.Incident) {
	if incident == nil {
		return
	}
	cp := copyIncident(incident)
	r.dispatch("incident", func() {
		r.writeIncident(cp)
	})
}

// RecordAudit persists the audit entry asynchronously.
func (r *Recorder) RecordAudit(entry *core.AuditEntry) {
	if entry == nil || r.audit == nil {
		return
	}
	cp := *entry
	r.dispatch("audit", func() {
		r.writeAudit(&cp)
	})
}

// GetIncident reads from the primary store, falling back to the memory
// store when the primary is unreachable or missing the incident.
func (r *Recorder) GetIncident(ctx context.Context, id string) (*core.Incident, error) {
	if r.primary != nil {
		incident, err := r.primary.GetIncident(ctx, id)
		if err == nil {
			return incident, nil
		}
	}
	return r.fallback.GetIncident(ctx, id)
}

// ListIncidents reads from the primary store, falling back to the memory
// store when the primary is unreachable.
func (r *Recorder) ListIncidents(ctx context.Context, filters IncidentFilters) ([]*core.Incident, int64, error) {
	if r.primary != nil {
		incidents, total, err := r.primary.ListIncidents(ctx, filters)
		if err == nil {
			return incidents, total, nil
		}
		r.logger.Warnw("Primary incident store list failed, using fallback", "error", err)
	}
	return r.fallback.ListIncidents(ctx, filters)
}

// Fallback exposes the memory store for health reporting and tests.
func (r *Recorder) Fallback() *MemoryIncidentStore {
	return r.fallback
}

// PrimaryState reports whether a primary incident store is configured and
// the current state of its circuit breaker.
func (r *Recorder) PrimaryState() (configured bool, state core.BreakerState) {
	return r.primary != nil, r.breaker.State()
}

func (r *Recorder) dispatch(kind string, task func()) {
	if r.pool == nil {
		task()
		return
	}
	if err := r.pool.Submit(task); err != nil {
		metrics.PersistFailures.WithLabelValues("queue").Inc()
		r.logger.Warnw("Dropped storage write, worker pool saturated",
			"kind", kind,
			"error", err)
	}
}

func (r *Recorder) writeIncident(incident *core.Incident) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if r.primary != nil && r.breaker.Allow() == nil {
		_, err := r.primary.RecordIncident(ctx, incident)
		if err == nil {
			r.breaker.RecordSuccess()
			return
		}
		oldState, newState := r.breaker.RecordFailure()
		metrics.PersistFailures.WithLabelValues("primary").Inc()
		r.logger.Errorw("Primary incident store write failed",
			"incident_id", incident.ID,
			"error", err)
		if oldState != newState {
			r.logger.Warnw("Incident store breaker state changed",
				"old_state", oldState,
				"new_state", newState)
		}
	}

	if _, err := r.fallback.RecordIncident(ctx, incident); err != nil {
		metrics.PersistFailures.WithLabelValues("fallback").Inc()
		r.logger.Errorw("Fallback incident store write failed",
			"incident_id", incident.ID,
			"error", err)
	}
}

func (r *Recorder) writeAudit(entry *core.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.audit.RecordAuditEntry(ctx, entry); err != nil {
		metrics.PersistFailures.WithLabelValues("audit").Inc()
		r.logger.Errorw("Audit store write failed",
			"action", entry.Action,
			"error", err)
	}
}
