package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fleetlab/fleetlab/pkg/audit"
)

// TakeControlFailure is the error shape lock.Manager.TakeControl's wrapper
// returns on failure (§4.7): a typed error plus, for device_locked only,
// the current owner's user_id — never their session id.
type TakeControlFailure interface {
	error
	ErrorType() string
	OwnerUserID() string
}

type takeControlRequest struct {
	HostName  string `json:"host_name" binding:"required"`
	DeviceID  string `json:"device_id" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
	UserID    string `json:"user_id" binding:"required"`
	TreeID    string `json:"tree_id"`
}

func (s *server) takeControl(c *gin.Context) {
	if s.deps.Lock == nil {
		unavailable(c, "lock manager")
		return
	}
	var req takeControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	err := s.deps.Lock.TakeControl(c.Request.Context(), req.HostName, req.DeviceID, req.SessionID, req.UserID, req.TreeID)
	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveTakeControl("error")
		}
		_ = audit.Log(audit.NewEvent(req.UserID, req.DeviceID, string(audit.EventTypeTakeControl)).
			WithHost(req.HostName).WithTree(req.TreeID).WithSessionID(req.SessionID).WithError(err))
		if tcf, ok := err.(TakeControlFailure); ok {
			body := gin.H{"error_type": tcf.ErrorType(), "error": tcf.Error()}
			if tcf.ErrorType() == "device_locked" && tcf.OwnerUserID() != "" {
				body["user_id"] = tcf.OwnerUserID()
			}
			c.JSON(http.StatusConflict, body)
			return
		}
		writeAPIError(c, http.StatusInternalServerError, err)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.ObserveTakeControl("ok")
	}
	_ = audit.Log(audit.NewEvent(req.UserID, req.DeviceID, string(audit.EventTypeTakeControl)).
		WithHost(req.HostName).WithTree(req.TreeID).WithSessionID(req.SessionID).WithSuccess())
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type releaseControlRequest struct {
	HostName  string `json:"host_name" binding:"required"`
	DeviceID  string `json:"device_id" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
}

func (s *server) releaseControl(c *gin.Context) {
	if s.deps.Lock == nil {
		unavailable(c, "lock manager")
		return
	}
	var req releaseControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err := s.deps.Lock.ReleaseControl(c.Request.Context(), req.HostName, req.DeviceID, req.SessionID); err != nil {
		writeAPIError(c, http.StatusInternalServerError, err)
		return
	}
	_ = audit.Log(audit.NewEvent("", req.DeviceID, string(audit.EventTypeReleaseControl)).
		WithHost(req.HostName).WithSessionID(req.SessionID).WithSuccess())
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// heartbeat renews a session's lease TTL (§3: expiry is renewed by
// heartbeat). A session whose lease has expired or been re-acquired gets
// lease_expired back and must stop issuing commands.
func (s *server) heartbeat(c *gin.Context) {
	if s.deps.Lock == nil {
		unavailable(c, "lock manager")
		return
	}
	var req releaseControlRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err := s.deps.Lock.Heartbeat(c.Request.Context(), req.HostName, req.DeviceID, req.SessionID); err != nil {
		writeAPIError(c, http.StatusConflict, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type registerHostRequest struct {
	HostName string `json:"host_name" binding:"required"`
	BaseURL  string `json:"base_url" binding:"required"`
}

// registerHost lets a fleethost daemon announce itself on startup, so the
// Host Proxy's resolver can route action/av RPCs to it without a
// statically-configured host map (§4.8 [EXPANSION]).
func (s *server) registerHost(c *gin.Context) {
	if s.deps.Hosts == nil {
		unavailable(c, "host registry")
		return
	}
	var req registerHostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	s.deps.Hosts.Register(req.HostName, req.BaseURL)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// lockStatus is a read-only lease status lookup (§6 [EXPANSION]): it
// mirrors the device_locked contract and never exposes a session id.
func (s *server) lockStatus(c *gin.Context) {
	if s.deps.Lock == nil {
		unavailable(c, "lock manager")
		return
	}
	hostName := c.Param("host_name")
	deviceID := c.Param("device_id")

	lease, err := s.deps.Lock.Get(c.Request.Context(), hostName, deviceID)
	if err != nil {
		writeAPIError(c, http.StatusInternalServerError, err)
		return
	}
	if lease == nil {
		c.JSON(http.StatusOK, gin.H{"locked": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"locked": true, "user_id": lease.UserID})
}
