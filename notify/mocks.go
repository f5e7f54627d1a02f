package notify

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// CapturedWebhook represents one request captured by the mock webhook server.
type CapturedWebhook struct {
	Method     string
	Headers    map[string]string
	Body       string
	CapturedAt time.Time
}

// MockWebhookServer captures webhook deliveries for notifier tests and can
// simulate failures and slow endpoints.
type MockWebhookServer struct {
	server *httptest.Server

	mu         sync.RWMutex
	requests   []CapturedWebhook
	shouldFail bool
	failStatus int
	delay      time.Duration
}

// NewMockWebhookServer starts a capturing webhook server. Callers must Close
// it.
func NewMockWebhookServer() *MockWebhookServer {
	m := &MockWebhookServer{failStatus: http.StatusInternalServerError}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *MockWebhookServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	delay := m.delay
	fail := m.shouldFail
	status := m.failStatus
	m.mu.RUnlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		body = nil
	}

	headers := make(map[string]string)
	for key, values := range r.Header {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	m.mu.Lock()
	m.requests = append(m.requests, CapturedWebhook{
		Method:     r.Method,
		Headers:    headers,
		Body:       string(body),
		CapturedAt: time.Now(),
	})
	m.mu.Unlock()

	if fail {
		w.WriteHeader(status)
		_, _ = w.Write([]byte("simulated error"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Requests returns a copy of all captured requests.
func (m *MockWebhookServer) Requests() []CapturedWebhook {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CapturedWebhook, len(m.requests))
	copy(out, m.requests)
	return out
}

// RequestCount returns the number of captured requests.
func (m *MockWebhookServer) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// SetShouldFail makes the server answer with the given status code.
func (m *MockWebhookServer) SetShouldFail(shouldFail bool, statusCode int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFail = shouldFail
	if statusCode > 0 {
		m.failStatus = statusCode
	}
}

// SetDelay makes the server sleep before answering, to simulate slow
// endpoints.
func (m *MockWebhookServer) SetDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
}

// URL returns the server URL.
func (m *MockWebhookServer) URL() string {
	return m.server.URL
}

// Close stops the server.
func (m *MockWebhookServer) Close() {
	m.server.Close()
}
