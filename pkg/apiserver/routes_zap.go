package apiserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type zapObserveRequest struct {
	Host          string    `json:"host" binding:"required"`
	DeviceID      string    `json:"device_id" binding:"required"`
	SessionID     string    `json:"session_id" binding:"required"`
	ActionCommand string    `json:"action_command"`
	KeyReleaseTS  time.Time `json:"key_release_ts" binding:"required"`
}

// zapObserve proxies a single zap-detection event to the host owning the
// device (§4.11). The Script Executor calls this right after the channel-
// change action's key release; the host's detector resolves the event
// against its frame ring and reports back.
func (s *server) zapObserve(c *gin.Context) {
	if s.deps.Host == nil {
		unavailable(c, "host proxy")
		return
	}
	var req zapObserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	event, err := s.deps.Host.ObserveZap(c.Request.Context(), req.Host, req.DeviceID, req.SessionID, req.ActionCommand, req.KeyReleaseTS)
	if err != nil {
		writeAPIError(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "event": event})
}
