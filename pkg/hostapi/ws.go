package hostapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/fleetlab/fleetlab/pkg/capture"
	"github.com/fleetlab/fleetlab/pkg/util"
)

// CaptureEvent is one push notification on the websocket capture channel:
// a new keyframe or segment landed for a device. Subscribers use it to
// avoid polling latest-json.
type CaptureEvent struct {
	Type      string    `json:"type"` // "frame" or "segment"
	DeviceID  string    `json:"device_id"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
}

// Hub fans capture events out to websocket subscribers, keyed by device.
// It implements capture.FrameSink so a Producer can notify it directly
// alongside the analyzer queue.
type Hub struct {
	mu       sync.Mutex
	conns    map[string]map[*websocket.Conn]bool
	upgrader websocket.Upgrader
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			// The orchestrator is the only expected subscriber and hosts sit
			// on a trusted network segment; origin checking adds nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handle upgrades GET /ws/capture/:device_id and registers the subscriber
// until it disconnects.
func (h *Hub) Handle(c *gin.Context) {
	deviceID := c.Param("device_id")
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		util.Warnf("hostapi: websocket upgrade for %s: %v", deviceID, err)
		return
	}

	h.mu.Lock()
	if h.conns[deviceID] == nil {
		h.conns[deviceID] = make(map[*websocket.Conn]bool)
	}
	h.conns[deviceID][conn] = true
	h.mu.Unlock()

	// Drain control frames until the peer closes, then unregister.
	go func() {
		defer h.drop(deviceID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) drop(deviceID string, conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns[deviceID], conn)
	h.mu.Unlock()
	conn.Close()
}

// Submit implements capture.FrameSink: every new keyframe becomes a
// "frame" event for that device's subscribers.
func (h *Hub) Submit(host, deviceID string, frame capture.Frame) error {
	h.broadcast(CaptureEvent{Type: "frame", DeviceID: deviceID, Sequence: frame.Sequence, Timestamp: frame.Timestamp})
	return nil
}

// NotifySegment publishes a "segment" event for a device.
func (h *Hub) NotifySegment(deviceID string, sequence int) {
	h.broadcast(CaptureEvent{Type: "segment", DeviceID: deviceID, Sequence: sequence, Timestamp: time.Now()})
}

func (h *Hub) broadcast(event CaptureEvent) {
	h.mu.Lock()
	subscribers := make([]*websocket.Conn, 0, len(h.conns[event.DeviceID]))
	for conn := range h.conns[event.DeviceID] {
		subscribers = append(subscribers, conn)
	}
	h.mu.Unlock()

	for _, conn := range subscribers {
		if err := conn.WriteJSON(event); err != nil {
			h.drop(event.DeviceID, conn)
		}
	}
}

// Close drops every subscriber, used at daemon shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for deviceID, conns := range h.conns {
		for conn := range conns {
			conn.Close()
		}
		delete(h.conns, deviceID)
	}
}
