// Package metrics defines the engine's Prometheus collectors. All metrics
// are registered automatically on import and served from /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ThreatsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_threats_processed_total",
			Help: "Total number of threat events handled",
		},
		[]string{"type", "severity"},
	)

	ThreatsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_threats_rejected_total",
			Help: "Total number of threat events rejected by validation",
		},
	)

	ActionsExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_actions_executed_total",
			Help: "Total number of response actions executed",
		},
		[]string{"type"},
	)

	// ResponseDuration tracks HandleThreat latency. The 100ms service-level
	// objective is reported, never enforced; bucket edges straddle it so
	// breaches are visible from the histogram alone.
	ResponseDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "warden_response_duration_seconds",
			Help: "Wall-clock time spent handling a threat event",
			Buckets: []float64{
				0.0005, 0.001, 0.0025, 0.005, 0.01,
				0.025, 0.05, 0.1, 0.25, 0.5, 1.0,
			},
		},
	)

	ResponseSLOBreaches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_response_slo_breaches_total",
			Help: "Responses that exceeded the 100ms latency objective",
		},
	)

	ThreatScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_threat_scores",
			Help:    "Distribution of computed threat scores",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	ActiveBlocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_active_blocks",
			Help: "Currently active block entries",
		},
	)

	ActiveQuarantines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_active_quarantines",
			Help: "Currently active quarantine entries",
		},
	)

	ContainmentExpiries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_containment_expiries_total",
			Help: "Containment entries removed by TTL expiry",
		},
		[]string{"kind"},
	)

	DDoSDetections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_ddos_detections_total",
			Help: "Positive DDoS window detections",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_rate_limit_hits_total",
			Help: "Rate-limit windows observed in the exceeded state",
		},
	)

	PersistFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_persist_failures_total",
			Help: "Failed incident or audit writes per store",
		},
		[]string{"store"},
	)

	MirrorOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_mirror_ops_total",
			Help: "Containment operations propagated to the mirror",
		},
		[]string{"op"},
	)

	MirrorFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_mirror_failures_total",
			Help: "Mirror propagation failures",
		},
	)

	NotifyDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_notify_dropped_total",
			Help: "Response events dropped by the hub under backpressure",
		},
	)

	NotifySent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_notify_sent_total",
			Help: "Notifications delivered per channel",
		},
		[]string{"channel"},
	)

	NotifyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_notify_failures_total",
			Help: "Notification delivery failures per channel",
		},
		[]string{"channel"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warden_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	GateRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_gate_rejections_total",
			Help: "Requests refused by the containment gate",
		},
		[]string{"kind"},
	)

	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_worker_pool_active_workers",
			Help: "Workers configured per pool; -1 after a failed shutdown",
		},
		[]string{"pool_type"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warden_worker_pool_queue_size",
			Help: "Tasks waiting per pool at last submit",
		},
		[]string{"pool_type"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_worker_pool_tasks_processed_total",
			Help: "Tasks completed per pool",
		},
		[]string{"pool_type"},
	)

	GoroutinePanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_goroutine_panics_total",
			Help: "Panics recovered in background goroutines",
		},
		[]string{"goroutine"},
	)
)
