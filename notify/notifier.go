package notify

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"warden/core"
	"warden/metrics"
	"warden/util/goroutine"

	"go.uber.org/zap"
)

// ChannelType represents the type of notification channel
type ChannelType string

const (
	// ChannelWebhook represents a generic JSON webhook channel
	ChannelWebhook ChannelType = "webhook"
	// ChannelSlack represents a Slack incoming-webhook channel
	ChannelSlack ChannelType = "slack"
)

// httpClientTimeout bounds every outbound notification request.
const httpClientTimeout = 10 * time.Second

// ChannelConfig holds configuration for one notification channel.
type ChannelConfig struct {
	Enabled bool        `json:"enabled"`
	Type    ChannelType `json:"type"`
	Name    string      `json:"name"`

	WebhookURL     string            `json:"webhook_url"`
	WebhookMethod  string            `json:"webhook_method"`
	WebhookHeaders map[string]string `json:"webhook_headers"`

	// MinSeverity filters events below the given severity (low, medium,
	// high, critical, emergency). Empty means no filtering.
	MinSeverity string `json:"min_severity"`
}

func (c ChannelConfig) label() string {
	if c.Name != "" {
		return c.Name
	}
	return string(c.Type)
}

// Notifier forwards response events to configured channels. Each channel
// sits behind its own circuit breaker so one dead webhook endpoint cannot
// slow down or starve the others.
type Notifier struct {
	channels []ChannelConfig
	client   *http.Client
	logger   *zap.SugaredLogger

	breakers map[string]*core.Breaker
	cbMu     sync.RWMutex

	unsubscribe func()
	wg          sync.WaitGroup
}

// NewNotifier creates a notifier for the given channels.
func NewNotifier(channels []ChannelConfig, logger *zap.SugaredLogger) *Notifier {
	return &Notifier{
		channels: channels,
		client: &http.Client{
			Timeout: httpClientTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
		logger:   logger,
		breakers: make(map[string]*core.Breaker),
	}
}

// Start subscribes to the hub and forwards events until Stop is called or
// the hub closes.
func (n *Notifier) Start(hub *Hub) {
	events, unsubscribe := hub.Subscribe()
	n.unsubscribe = unsubscribe

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer goroutine.Recover("notifier", n.logger)
		for event := range events {
			n.Notify(event)
		}
	}()
}

// Stop unsubscribes from the hub and waits for the forwarding goroutine.
func (n *Notifier) Stop() {
	if n.unsubscribe != nil {
		n.unsubscribe()
	}
	n.wg.Wait()
}

// Notify sends the event through every enabled channel that passes the
// severity filter. Delivery failures are logged and counted, never returned:
// notifications are best-effort by contract.
func (n *Notifier) Notify(event core.ResponseEvent) {
	for _, config := range n.channels {
		if !config.Enabled {
			continue
		}
		if !n.shouldNotify(event, config) {
			continue
		}

		key := fmt.Sprintf("%s:%s", config.Type, config.WebhookURL)
		cb := n.getOrCreateBreaker(key)
		if err := cb.Allow(); err != nil {
			n.logger.Warnw("Circuit breaker open for notification channel",
				"channel", config.label(),
				"error", err)
			continue
		}

		var err error
		switch config.Type {
		case ChannelWebhook:
			err = n.sendWebhook(event, config)
		case ChannelSlack:
			err = n.sendSlack(event, config)
		default:
			n.logger.Warnw("Unknown notification channel type", "type", config.Type)
			continue
		}

		if err != nil {
			cb.RecordFailure()
			metrics.NotifyFailures.WithLabelValues(config.label()).Inc()
			n.logger.Errorw("Failed to send notification",
				"channel", config.label(),
				"source", event.Source,
				"error", err)
			continue
		}
		cb.RecordSuccess()
		metrics.NotifySent.WithLabelValues(config.label()).Inc()
	}
}

// shouldNotify applies the channel's severity filter.
func (n *Notifier) shouldNotify(event core.ResponseEvent, config ChannelConfig) bool {
	if config.MinSeverity == "" {
		return true
	}
	return event.Severity.Rank() >= core.Severity(config.MinSeverity).Rank()
}

// getOrCreateBreaker returns the channel's circuit breaker, creating it on
// first use.
func (n *Notifier) getOrCreateBreaker(key string) *core.Breaker {
	n.cbMu.RLock()
	cb, exists := n.breakers[key]
	n.cbMu.RUnlock()
	if exists {
		return cb
	}

	n.cbMu.Lock()
	defer n.cbMu.Unlock()
	if cb, exists := n.breakers[key]; exists {
		return cb
	}

	// Hardcoded and known valid, so MustNewBreaker.
	cb = core.MustNewBreaker(core.BreakerConfig{
		MaxFailures: 3,
		Cooldown:    60 * time.Second,
		MaxProbes:   1,
	})
	n.breakers[key] = cb
	n.logger.Infof("Created circuit breaker for notification channel: %s", key)
	return cb
}

// sendWebhook posts the event as JSON to a generic webhook endpoint.
func (n *Notifier) sendWebhook(event core.ResponseEvent, config ChannelConfig) error {
	payload := map[string]interface{}{
		"incident_id":       event.IncidentID,
		"source":            event.Source,
		"type":              event.Type,
		"severity":          event.Severity,
		"action":            event.Action,
		"score":             event.Score,
		"success":           event.Success,
		"blocking_active":   event.BlockingActive,
		"quarantine_active": event.QuarantineActive,
		"response_time_ms":  event.ResponseTimeMs,
		"at":                event.At.Format(time.RFC3339Nano),
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	method := config.WebhookMethod
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequest(method, config.WebhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Warden/1.0")
	for key, value := range config.WebhookHeaders {
		req.Header.Set(key, value)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			n.logger.Debugf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

// severityColors maps severities to Slack attachment colors.
var severityColors = map[core.Severity]string{
	core.SeverityLow:       "#2196f3",
	core.SeverityMedium:    "#ff9800",
	core.SeverityHigh:      "#f44336",
	core.SeverityCritical:  "#d32f2f",
	core.SeverityEmergency: "#b71c1c",
}

// sendSlack posts the event to a Slack incoming webhook.
func (n *Notifier) sendSlack(event core.ResponseEvent, config ChannelConfig) error {
	color := severityColors[event.Severity]
	if color == "" {
		color = "#757575"
	}

	payload := map[string]interface{}{
		"text": fmt.Sprintf("*%s threat contained: %s*", event.Severity, event.Action),
		"attachments": []map[string]interface{}{
			{
				"color": color,
				"fields": []map[string]interface{}{
					{
						"title": "Source",
						"value": fmt.Sprintf("`%s`", event.Source),
						"short": true,
					},
					{
						"title": "Type",
						"value": string(event.Type),
						"short": true,
					},
					{
						"title": "Score",
						"value": fmt.Sprintf("%d", event.Score),
						"short": true,
					},
					{
						"title": "Incident",
						"value": fmt.Sprintf("`%s`", event.IncidentID),
						"short": true,
					},
				},
				"footer": "Warden",
				"ts":     event.At.Unix(),
			},
		},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack payload: %w", err)
	}

	resp, err := n.client.Post(config.WebhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send Slack notification: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			n.logger.Debugf("Failed to close response body: %v", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned non-OK status: %d", resp.StatusCode)
	}
	return nil
}
