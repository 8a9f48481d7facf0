package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type screenshotRequest struct {
	Host     string `json:"host" binding:"required"`
	DeviceID string `json:"device_id" binding:"required"`
}

// takeScreenshot serves §6's av/takeScreenshot RPC.
func (s *server) takeScreenshot(c *gin.Context) {
	if s.deps.Host == nil {
		unavailable(c, "host proxy")
		return
	}
	var req screenshotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	url, err := s.deps.Host.TakeScreenshot(c.Request.Context(), req.Host, req.DeviceID)
	if err != nil {
		writeAPIError(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "screenshot_url": url})
}

type latestJSONRequest struct {
	Host     string `json:"host" binding:"required"`
	DeviceID string `json:"device_id" binding:"required"`
}

// latestJSON serves §6's av/monitoring/latest-json RPC.
func (s *server) latestJSON(c *gin.Context) {
	if s.deps.Host == nil {
		unavailable(c, "host proxy")
		return
	}
	var req latestJSONRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	url, sequence, timestamp, err := s.deps.Host.LatestJSON(c.Request.Context(), req.Host, req.DeviceID)
	if err != nil {
		writeAPIError(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"latest_json_url": url,
		"sequence":        sequence,
		"timestamp":       timestamp,
	})
}
