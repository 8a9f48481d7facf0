package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type executeCommandRequest struct {
	HostName  string         `json:"host_name" binding:"required"`
	Command   string         `json:"command" binding:"required"`
	Params    map[string]any `json:"params"`
	DeviceID  string         `json:"device_id"`
	SessionID string         `json:"session_id"`
}

// executeCommand forwards a single remote-control command (§6
// executeCommand) to the Host Proxy.
func (s *server) executeCommand(c *gin.Context) {
	if s.deps.Host == nil {
		unavailable(c, "host proxy")
		return
	}
	var req executeCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	result, err := s.deps.Host.ExecuteAction(c.Request.Context(), req.HostName, req.DeviceID, req.SessionID, ActionRequest{
		Command: req.Command, Params: req.Params,
	})
	if err != nil {
		writeAPIError(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": result.Success, "result": result, "error": result.Error})
}

type executeBatchRequest struct {
	Host         string          `json:"host" binding:"required"`
	DeviceID     string          `json:"device_id" binding:"required"`
	SessionID    string          `json:"session_id"`
	Actions      []ActionRequest `json:"actions"`
	RetryActions []ActionRequest `json:"retry_actions"`
}

// executeBatch forwards a batch of actions (§6 executeBatch). Partial
// failures return per-action results rather than failing the whole batch
// (§4.8, §7).
func (s *server) executeBatch(c *gin.Context) {
	if s.deps.Host == nil {
		unavailable(c, "host proxy")
		return
	}
	var req executeBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	result, err := s.deps.Host.ExecuteBatch(c.Request.Context(), req.Host, req.DeviceID, req.SessionID, req.Actions, req.RetryActions)
	if err != nil {
		writeAPIError(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type executeVerificationRequest struct {
	Host          string          `json:"host" binding:"required"`
	DeviceID      string          `json:"device_id" binding:"required"`
	SessionID     string          `json:"session_id"`
	Verifications []ActionRequest `json:"verifications"`
}

// executeVerification forwards a verification batch (§6 verification/execute).
func (s *server) executeVerification(c *gin.Context) {
	if s.deps.Host == nil {
		unavailable(c, "host proxy")
		return
	}
	var req executeVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	result, err := s.deps.Host.ExecuteVerification(c.Request.Context(), req.Host, req.DeviceID, req.SessionID, req.Verifications)
	if err != nil {
		writeAPIError(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
