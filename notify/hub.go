package notify

import (
	"sync"

	"warden/core"
	"warden/metrics"

	"go.uber.org/zap"
)

// defaultHubBuffer is the per-subscriber buffer used when the configured
// size is not positive.
const defaultHubBuffer = 64

// Hub fans ResponseEvents out to subscribers over buffered channels. When a
// subscriber's buffer is full the oldest buffered event is dropped in favor
// of the new one, so a slow WebSocket client or webhook consumer can never
// stall the response path.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int]chan core.ResponseEvent
	nextID      int
	bufferSize  int
	closed      bool
	logger      *zap.SugaredLogger
}

// NewHub creates a hub whose subscribers each buffer bufferSize events.
func NewHub(bufferSize int, logger *zap.SugaredLogger) *Hub {
	if bufferSize <= 0 {
		bufferSize = defaultHubBuffer
	}
	return &Hub{
		subscribers: make(map[int]chan core.ResponseEvent),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe registers a new subscriber and returns its event channel plus an
// unsubscribe function. The channel is closed on unsubscribe and on hub
// close.
func (h *Hub) Subscribe() (<-chan core.ResponseEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		ch := make(chan core.ResponseEvent)
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	ch := make(chan core.ResponseEvent, h.bufferSize)
	h.subscribers[id] = ch

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subscribers[id]; ok {
				delete(h.subscribers, id)
				close(ch)
			}
		})
	}
	return ch, unsubscribe
}

// Publish delivers the event to every subscriber without ever blocking.
// A full subscriber buffer loses its oldest event to make room.
func (h *Hub) Publish(event core.ResponseEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	for _, ch := range h.subscribers {
		select {
		case ch <- event:
			continue
		default:
		}

		// Buffer full: evict the oldest queued event and retry once. The
		// retry can still lose to a concurrent consumer, in which case the
		// new event is dropped instead.
		select {
		case <-ch:
			metrics.NotifyDropped.Inc()
		default:
		}
		select {
		case ch <- event:
		default:
			metrics.NotifyDropped.Inc()
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close closes every subscriber channel. Publish and Subscribe become no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subscribers {
		delete(h.subscribers, id)
		close(ch)
	}
}
