// Package respond orchestrates threat handling: scoring, containment
// decisions, type-specific mitigation, incident persistence, and event
// publication. The engine is safe for concurrent use; all mutable state
// lives in the components it composes.
package respond

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"warden/containment"
	"warden/core"
	"warden/detect"
	"warden/metrics"
	"warden/notify"
	"warden/storage"
)

// Config tunes containment TTLs and the reported latency objective.
// Zero fields fall back to defaults.
type Config struct {
	// BlockTTL is how long automatic blocks last.
	BlockTTL time.Duration
	// QuarantineTTL is how long automatic quarantines last.
	QuarantineTTL time.Duration
	// ManualBlockTTL is how long operator-issued blocks last.
	ManualBlockTTL time.Duration
	// ResponseSLO is the reported latency objective for HandleThreat.
	// Breaches are counted and logged, never enforced as a timeout.
	ResponseSLO time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		BlockTTL:       15 * time.Minute,
		QuarantineTTL:  5 * time.Minute,
		ManualBlockTTL: 24 * time.Hour,
		ResponseSLO:    100 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BlockTTL <= 0 {
		c.BlockTTL = def.BlockTTL
	}
	if c.QuarantineTTL <= 0 {
		c.QuarantineTTL = def.QuarantineTTL
	}
	if c.ManualBlockTTL <= 0 {
		c.ManualBlockTTL = def.ManualBlockTTL
	}
	if c.ResponseSLO <= 0 {
		c.ResponseSLO = def.ResponseSLO
	}
	return c
}

// Engine coordinates detection and containment for incoming threat events.
type Engine struct {
	cfg        Config
	scorer     *detect.Scorer
	ddos       *detect.DDoSDetector
	limiter    *detect.RateLimiter
	signatures *detect.SignatureSet
	store      *containment.Store
	recorder   *storage.Recorder
	hub        *notify.Hub
	logger     *zap.SugaredLogger
	tracer     trace.Tracer
}

// NewEngine wires the response engine. All dependencies are required.
func NewEngine(
	cfg Config,
	scorer *detect.Scorer,
	ddos *detect.DDoSDetector,
	limiter *detect.RateLimiter,
	signatures *detect.SignatureSet,
	store *containment.Store,
	recorder *storage.Recorder,
	hub *notify.Hub,
	logger *zap.SugaredLogger,
) *Engine {
	if scorer == nil {
		panic("scorer is required")
	}
	if ddos == nil {
		panic("ddos detector is required")
	}
	if limiter == nil {
		panic("rate limiter is required")
	}
	if signatures == nil {
		panic("signature set is required")
	}
	if store == nil {
		panic("containment store is required")
	}
	if recorder == nil {
		panic("recorder is required")
	}
	if hub == nil {
		panic("hub is required")
	}
	if logger == nil {
		panic("logger is required")
	}

	return &Engine{
		cfg:        cfg.withDefaults(),
		scorer:     scorer,
		ddos:       ddos,
		limiter:    limiter,
		signatures: signatures,
		store:      store,
		recorder:   recorder,
		hub:        hub,
		logger:     logger,
		tracer:     otel.Tracer("warden/respond"),
	}
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// HandleThreat runs the full response pipeline for one event and always
// returns a response, even when a step fails or panics. Containment applied
// before a failure remains in effect.
func (e *Engine) HandleThreat(ctx context.Context, event *core.ThreatEvent) (resp *core.SecurityResponse) {
	start := time.Now()

	_, span := e.tracer.Start(ctx, "respond.HandleThreat")
	defer span.End()

	resp = &core.SecurityResponse{Action: core.ActionMonitor}

	var incident *core.Incident

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		elapsed := time.Since(start)
		e.logger.Errorw("Recovered from panic during threat handling",
			"panic", r,
			"elapsed_ms", elapsed.Milliseconds())
		span.RecordError(fmt.Errorf("panic: %v", r))
		span.SetStatus(codes.Error, "threat handling panicked")

		resp.Success = false
		resp.Details = fmt.Sprintf("internal error: %v", r)
		resp.Action = primaryAction(resp.Actions)
		resp.ResponseTimeMs = durationMs(elapsed)
		metrics.ResponseDuration.Observe(elapsed.Seconds())

		if event != nil {
			resp.BlockingActive = e.store.IsBlocked(event.Source)
			resp.QuarantineActive = e.store.IsQuarantined(event.Source)
		}
		if incident != nil {
			incident.Status = core.IncidentStatusFailed
			incident.Score = resp.Score
			incident.Actions = resp.Actions
			incident.UpdatedAt = time.Now().UTC()
			resp.IncidentID = incident.ID
			e.recorder.RecordIncident(incident)
			e.recorder.RecordAudit(core.NewAuditEntry(
				incident.ID, resp.Action, "engine", event.Source, resp.Details, time.Now().UTC()))
		}
		if event != nil {
			e.publish(event, resp)
		}
	}()

	// Step 1: validation. A bad event mutates nothing and is rejected
	// without an incident.
	if err := event.Validate(); err != nil {
		metrics.ThreatsRejected.Inc()
		span.SetStatus(codes.Error, "event rejected")
		e.logger.Debugw("Rejected threat event", "error", err)

		resp.Success = false
		resp.Action = core.ActionValidationFailed
		resp.Details = err.Error()
		resp.Actions = append(resp.Actions, core.ActionResult{
			Type:   core.ActionValidationFailed,
			Status: core.ActionStatusFailed,
			Detail: err.Error(),
			At:     time.Now().UTC(),
		})
		resp.ResponseTimeMs = durationMs(time.Since(start))
		return resp
	}

	span.SetAttributes(
		attribute.String("threat.type", string(event.Type)),
		attribute.String("threat.severity", string(event.Severity)),
		attribute.String("threat.source", event.Source),
	)
	metrics.ThreatsProcessed.WithLabelValues(string(event.Type), string(event.Severity)).Inc()

	incident = core.NewIncident(event, time.Now().UTC())

	// Step 2: scoring.
	score := e.scorer.Score(event)
	resp.Score = score
	incident.Score = score

	// Step 3: containment tier.
	policy := e.scorer.Policy()
	switch {
	case score >= policy.AutoBlockThreshold ||
		event.Severity == core.SeverityCritical ||
		event.Severity == core.SeverityEmergency:
		entry := e.store.Block(event.Source, e.cfg.BlockTTL, containReason(event, score))
		e.appendAction(resp, core.ActionBlockIP, core.ActionStatusCompleted,
			fmt.Sprintf("blocked until %s", entry.ExpiresAt.UTC().Format(time.RFC3339)))
	case score >= policy.QuarantineThreshold || event.Severity == core.SeverityHigh:
		if entry, ok := e.store.Quarantine(event.Source, e.cfg.QuarantineTTL, containReason(event, score)); ok {
			e.appendAction(resp, core.ActionQuarantine, core.ActionStatusCompleted,
				fmt.Sprintf("quarantined until %s", entry.ExpiresAt.UTC().Format(time.RFC3339)))
		} else {
			e.appendAction(resp, core.ActionQuarantine, core.ActionStatusSkipped,
				"source already blocked")
		}
	}

	// Step 4: DDoS. The detector observes every event so window counting
	// stays accurate; a positive detection or a declared ddos_attack forces
	// a block whatever the tier decision said.
	flooding := e.ddos.Observe(event.Source)
	if event.Type == core.ThreatTypeDDoS || flooding {
		e.store.Block(event.Source, e.cfg.BlockTTL, "ddos protection")
		detail := "traffic filtering engaged"
		if flooding {
			detail = "request flood over threshold; " + detail
		}
		e.appendAction(resp, core.ActionDDoSProtection, core.ActionStatusCompleted, detail)
	}

	// Step 5: rate limiting is advisory and never blocks by itself.
	if e.limiter.Exceeded(event.Source) {
		e.appendAction(resp, core.ActionRateLimit, core.ActionStatusCompleted,
			"request throttling enforced")
	}

	// Step 6: type-specific mitigation.
	e.mitigate(event, resp)

	// Step 7: aggregate.
	if len(resp.Actions) == 0 {
		e.appendAction(resp, core.ActionMonitor, core.ActionStatusCompleted,
			"below containment thresholds")
	}
	resp.Success = true
	resp.Action = primaryAction(resp.Actions)
	resp.BlockingActive = e.store.IsBlocked(event.Source)
	resp.QuarantineActive = e.store.IsQuarantined(event.Source)
	resp.Details = fmt.Sprintf("%s from %s scored %d; %d action(s) taken",
		event.Type, event.Source, score, len(resp.Actions))

	incident.Status = core.IncidentStatusMitigated
	incident.Actions = resp.Actions
	incident.UpdatedAt = time.Now().UTC()
	resp.IncidentID = incident.ID

	elapsed := time.Since(start)
	resp.ResponseTimeMs = durationMs(elapsed)
	metrics.ResponseDuration.Observe(elapsed.Seconds())
	if elapsed > e.cfg.ResponseSLO {
		metrics.ResponseSLOBreaches.Inc()
		e.logger.Warnw("Response latency objective exceeded",
			"elapsed_ms", resp.ResponseTimeMs,
			"slo_ms", e.cfg.ResponseSLO.Milliseconds(),
			"source", event.Source,
			"type", event.Type)
	}

	span.SetAttributes(
		attribute.Int("threat.score", score),
		attribute.String("response.action", string(resp.Action)),
	)

	// Step 8: persistence and fan-out are best-effort and never fail the
	// response.
	e.recorder.RecordIncident(incident)
	e.recorder.RecordAudit(core.NewAuditEntry(
		incident.ID, resp.Action, "engine", event.Source, resp.Details, time.Now().UTC()))
	e.publish(event, resp)

	e.logger.Infow("Threat handled",
		"incident_id", incident.ID,
		"source", event.Source,
		"type", event.Type,
		"severity", event.Severity,
		"score", score,
		"action", resp.Action,
		"blocking", resp.BlockingActive,
		"quarantine", resp.QuarantineActive,
		"elapsed_ms", resp.ResponseTimeMs)

	return resp
}

// mitigate runs the handler for the event's threat type. Each handler
// appends its own action; malware additionally forces a quarantine.
func (e *Engine) mitigate(event *core.ThreatEvent, resp *core.SecurityResponse) {
	switch event.Type {
	case core.ThreatTypeBruteForce:
		detail := "credential endpoints locked"
		if event.UserID != "" {
			detail = fmt.Sprintf("credential endpoints locked for user %s", event.UserID)
		}
		e.appendAction(resp, core.ActionBruteForceLockout, core.ActionStatusCompleted, detail)

	case core.ThreatTypeSQLInjection:
		e.appendAction(resp, core.ActionSQLInjectionFilter, core.ActionStatusCompleted,
			withMatches("query filtering enabled", e.signatures.MatchIndicators(event.Indicators)))

	case core.ThreatTypeXSS:
		e.appendAction(resp, core.ActionXSSFilter, core.ActionStatusCompleted,
			withMatches("output encoding enforced", e.signatures.MatchIndicators(event.Indicators)))

	case core.ThreatTypeMalware:
		if entry, ok := e.store.Quarantine(event.Source, e.cfg.QuarantineTTL, "malware containment"); ok {
			e.appendAction(resp, core.ActionMalwareQuarantine, core.ActionStatusCompleted,
				withMatches(fmt.Sprintf("source isolated until %s", entry.ExpiresAt.UTC().Format(time.RFC3339)),
					e.signatures.MatchIndicators(event.Indicators)))
		} else {
			e.appendAction(resp, core.ActionMalwareQuarantine, core.ActionStatusSkipped,
				"source already blocked")
		}
	}
}

// ManualBlock applies an operator-issued block with the manual TTL and
// records an incident and audit entry attributed to the actor.
func (e *Engine) ManualBlock(source, reason, actor string) containment.Entry {
	if actor == "" {
		actor = "manual"
	}
	if reason == "" {
		reason = "manual block"
	}
	now := time.Now().UTC()
	entry := e.store.Block(source, e.cfg.ManualBlockTTL, reason)

	incident := core.NewIncident(&core.ThreatEvent{
		Type:        core.ThreatTypeOther,
		Source:      source,
		Severity:    core.SeverityHigh,
		Description: reason,
	}, now)
	incident.Score = e.scorer.PeekScore(source)
	incident.Status = core.IncidentStatusMitigated
	incident.Actions = []core.ActionResult{{
		Type:   core.ActionManualBlock,
		Status: core.ActionStatusCompleted,
		Detail: fmt.Sprintf("blocked until %s by %s", entry.ExpiresAt.UTC().Format(time.RFC3339), actor),
		At:     now,
	}}
	metrics.ActionsExecuted.WithLabelValues(string(core.ActionManualBlock)).Inc()

	e.recorder.RecordIncident(incident)
	e.recorder.RecordAudit(core.NewAuditEntry(
		incident.ID, core.ActionManualBlock, actor, source, reason, now))

	e.logger.Infow("Manual block applied",
		"source", source,
		"actor", actor,
		"reason", reason,
		"expires_at", entry.ExpiresAt)
	return entry
}

// Unblock lifts a block. Safe to call when no block exists; the attempt is
// audited either way.
func (e *Engine) Unblock(source, actor string) bool {
	if actor == "" {
		actor = "manual"
	}
	removed := e.store.Unblock(source)
	detail := "block lifted"
	if !removed {
		detail = "no active block"
	}
	metrics.ActionsExecuted.WithLabelValues(string(core.ActionUnblock)).Inc()
	e.recorder.RecordAudit(core.NewAuditEntry(
		"", core.ActionUnblock, actor, source, detail, time.Now().UTC()))
	e.logger.Infow("Unblock requested", "source", source, "actor", actor, "removed", removed)
	return removed
}

// Unquarantine lifts a quarantine. Safe to call when no quarantine exists;
// the attempt is audited either way.
func (e *Engine) Unquarantine(source, actor string) bool {
	if actor == "" {
		actor = "manual"
	}
	removed := e.store.Unquarantine(source)
	detail := "quarantine lifted"
	if !removed {
		detail = "no active quarantine"
	}
	metrics.ActionsExecuted.WithLabelValues(string(core.ActionUnquarantine)).Inc()
	e.recorder.RecordAudit(core.NewAuditEntry(
		"", core.ActionUnquarantine, actor, source, detail, time.Now().UTC()))
	e.logger.Infow("Unquarantine requested", "source", source, "actor", actor, "removed", removed)
	return removed
}

// GetThreatScore returns the source's current historical score without
// mutating it.
func (e *Engine) GetThreatScore(source string) int {
	return e.scorer.PeekScore(source)
}

// IsBlocked reports whether the source has an active block.
func (e *Engine) IsBlocked(source string) bool {
	return e.store.IsBlocked(source)
}

// IsQuarantined reports whether the source has an active quarantine.
func (e *Engine) IsQuarantined(source string) bool {
	return e.store.IsQuarantined(source)
}

// GetStats snapshots the engine's operational counters.
func (e *Engine) GetStats() core.EngineStats {
	blocked, quarantined := e.store.Counts()
	return core.EngineStats{
		BlockedCount:     blocked,
		QuarantinedCount: quarantined,
		SuspiciousCount:  e.scorer.TrackedSources(),
		ActiveRateLimits: e.limiter.ActiveWindows(),
		DDoSDetections:   e.ddos.Detections(),
	}
}

func (e *Engine) appendAction(resp *core.SecurityResponse, action core.ActionType, status core.ActionStatus, detail string) {
	resp.Actions = append(resp.Actions, core.ActionResult{
		Type:   action,
		Status: status,
		Detail: detail,
		At:     time.Now().UTC(),
	})
	if status == core.ActionStatusCompleted {
		metrics.ActionsExecuted.WithLabelValues(string(action)).Inc()
	}
}

func (e *Engine) publish(event *core.ThreatEvent, resp *core.SecurityResponse) {
	e.hub.Publish(core.ResponseEvent{
		IncidentID:       resp.IncidentID,
		Source:           event.Source,
		Type:             event.Type,
		Severity:         event.Severity,
		Action:           resp.Action,
		Score:            resp.Score,
		Success:          resp.Success,
		BlockingActive:   resp.BlockingActive,
		QuarantineActive: resp.QuarantineActive,
		ResponseTimeMs:   resp.ResponseTimeMs,
		At:               time.Now().UTC(),
	})
}

func containReason(event *core.ThreatEvent, score int) string {
	return fmt.Sprintf("%s severity %s scored %d", event.Type, event.Severity, score)
}

func withMatches(detail string, matches []string) string {
	if len(matches) == 0 {
		return detail
	}
	return detail + "; matched " + strings.Join(matches, ", ")
}

func durationMs(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / 1e6
}

// actionPriority orders actions from strongest containment to weakest; the
// response's headline Action is the highest-priority completed action.
var actionPriority = map[core.ActionType]int{
	core.ActionBlockIP:            0,
	core.ActionDDoSProtection:     1,
	core.ActionManualBlock:        2,
	core.ActionQuarantine:         3,
	core.ActionMalwareQuarantine:  4,
	core.ActionBruteForceLockout:  5,
	core.ActionSQLInjectionFilter: 6,
	core.ActionXSSFilter:          7,
	core.ActionRateLimit:          8,
	core.ActionMonitor:            9,
}

func primaryAction(results []core.ActionResult) core.ActionType {
	best := core.ActionMonitor
	bestRank := len(actionPriority)
	for _, r := range results {
		if r.Status != core.ActionStatusCompleted {
			continue
		}
		rank, ok := actionPriority[r.Type]
		if !ok {
			continue
		}
		if rank < bestRank {
			best = r.Type
			bestRank = rank
		}
	}
	return best
}
