package api

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"vitalsdash/app"
	"vitalsdash/internal"

	"github.com/gin-gonic/gin"
)

// RefreshEvent is pushed to stream clients after each refresh
type RefreshEvent struct {
	EventType string             `json:"event_type"`
	Metrics   []app.MetricStatus `json:"metrics"`
	Timestamp time.Time          `json:"timestamp"`
}

// SSEHub fans refresh events out to Server-Sent Events clients
type SSEHub struct {
	clients   map[chan RefreshEvent]struct{}
	clientsMu sync.RWMutex
	keepAlive time.Duration
	logger    *internal.Logger
}

// NewSSEHub creates a hub that pings idle clients every keepAlive
func NewSSEHub(keepAlive time.Duration, logger *internal.Logger) *SSEHub {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &SSEHub{
		clients:   make(map[chan RefreshEvent]struct{}),
		keepAlive: keepAlive,
		logger:    logger.WithField("component", "sse"),
	}
}

// PublishRefresh broadcasts a refresh report; it is an app.RefreshListener
func (h *SSEHub) PublishRefresh(report *app.RefreshReport) {
	if report == nil {
		return
	}
	h.Broadcast(RefreshEvent{
		EventType: "refresh",
		Metrics:   report.Metrics,
		Timestamp: report.StartedAt.Add(report.Duration),
	})
}

// Broadcast sends event to every client without blocking. Clients whose
// buffer is full miss the event.
func (h *SSEHub) Broadcast(event RefreshEvent) {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- event:
		default:
			h.logger.Warn("client channel full, skipping %s event", event.EventType)
		}
	}
}

// Subscribe registers a client channel; call the returned func to unregister
func (h *SSEHub) Subscribe() (<-chan RefreshEvent, func()) {
	ch := make(chan RefreshEvent, 10)

	h.clientsMu.Lock()
	h.clients[ch] = struct{}{}
	total := len(h.clients)
	h.clientsMu.Unlock()
	h.logger.Debug("client registered (total clients: %d)", total)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.clientsMu.Lock()
			delete(h.clients, ch)
			close(ch)
			total := len(h.clients)
			h.clientsMu.Unlock()
			h.logger.Debug("client unregistered (remaining clients: %d)", total)
		})
	}
}

// HandleSSE streams refresh events until the client disconnects
func (h *SSEHub) HandleSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	events, unsubscribe := h.Subscribe()
	defer unsubscribe()

	ctx := c.Request.Context()
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			payload, err := json.Marshal(event)
			if err != nil {
				h.logger.WithError(err).Warn("failed to marshal event")
				return true
			}
			c.SSEvent(event.EventType, string(payload))
			return true

		case <-time.After(h.keepAlive):
			c.SSEvent("ping", `{"status":"alive","timestamp":"`+time.Now().UTC().Format(time.RFC3339)+`"}`)
			return true

		case <-ctx.Done():
			return false
		}
	})
}

// ClientCount returns the number of connected clients
func (h *SSEHub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}
