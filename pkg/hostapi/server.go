// Package hostapi is the fleethost daemon's RPC surface: the /host/*
// routes the orchestrator's Host Proxy (pkg/hostproxy) forwards to, plus
// the websocket capture push channel. Same gin router shape as
// pkg/apiserver; the two surfaces stay separate packages because they
// run in different processes and trust different callers.
package hostapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetlab/fleetlab/pkg/util"
	"github.com/fleetlab/fleetlab/pkg/zapdetect"
)

// ActionRequest mirrors pkg/hostproxy's wire shape for one action.
type ActionRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

// ActionResult is one action's outcome.
type ActionResult struct {
	Command string `json:"command"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// VerificationResult is one verification's outcome.
type VerificationResult struct {
	Command string `json:"command"`
	Passed  bool   `json:"passed"`
	Detail  string `json:"detail,omitempty"`
}

// Driver executes a single action or verification against a physical
// device this host owns. Implementations live with the binary (adb,
// IR blaster, browser automation); the routes only sequence them.
type Driver interface {
	ExecuteAction(ctx context.Context, deviceID string, action ActionRequest) ActionResult
	ExecuteVerification(ctx context.Context, deviceID string, verification ActionRequest) VerificationResult
}

// AV is the subset of pkg/capture.Ingestor the av routes need.
type AV interface {
	LatestJSON(host, deviceID string) (jsonURL string, sequence int, timestamp time.Time, err error)
	TakeScreenshot(host, deviceID string) (string, error)
}

// ZapObserver resolves one zap event for a device (pkg/zapdetect).
type ZapObserver interface {
	Observe(deviceID, actionCommand string, keyReleaseTS time.Time) (zapdetect.ZapEvent, error)
	Reset(deviceID string)
}

// Deps bundles the collaborators the routes dispatch to. HostName is this
// daemon's identity within the capture filesystem layout.
type Deps struct {
	HostName string
	Driver   Driver
	AV       AV
	Zap      ZapObserver
	Hub      *Hub

	// CaptureRoot, when set, is served read-only at /capture so the
	// keyframe and sidecar URLs the av routes return resolve against this
	// daemon.
	CaptureRoot string
}

// New builds the gin.Engine serving the /host/* routes over deps.
func New(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &server{deps: deps}

	host := r.Group("/host")
	host.POST("/action/execute", s.executeAction)
	host.POST("/action/executeBatch", s.executeBatch)
	host.POST("/verification/execute", s.executeVerification)
	host.POST("/av/takeScreenshot", s.takeScreenshot)
	host.POST("/av/monitoring/latest-json", s.latestJSON)
	host.POST("/zap/observe", s.zapObserve)
	host.POST("/zap/reset", s.zapReset)

	if deps.Hub != nil {
		r.GET("/ws/capture/:device_id", deps.Hub.Handle)
	}
	if deps.CaptureRoot != "" {
		r.Static("/capture", deps.CaptureRoot)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

type server struct {
	deps Deps
}

type executeActionRequest struct {
	DeviceID  string        `json:"device_id" binding:"required"`
	SessionID string        `json:"session_id"`
	Action    ActionRequest `json:"action" binding:"required"`
}

func (s *server) executeAction(c *gin.Context) {
	if s.deps.Driver == nil {
		unavailable(c, "device driver")
		return
	}
	var req executeActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	result := s.runAction(c.Request.Context(), req.DeviceID, req.Action)
	c.JSON(http.StatusOK, result)
}

type executeBatchRequest struct {
	DeviceID     string          `json:"device_id" binding:"required"`
	SessionID    string          `json:"session_id"`
	Actions      []ActionRequest `json:"actions" binding:"required"`
	RetryActions []ActionRequest `json:"retry_actions"`
}

// executeBatch runs actions in order. A failed action triggers the retry
// sequence followed by one re-attempt; partial failures return per-action
// results rather than failing the whole batch (§4.8, §7).
func (s *server) executeBatch(c *gin.Context) {
	if s.deps.Driver == nil {
		unavailable(c, "device driver")
		return
	}
	var req executeBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	results := make([]ActionResult, 0, len(req.Actions))
	passed := 0
	for _, action := range req.Actions {
		result := s.runAction(ctx, req.DeviceID, action)
		if !result.Success && len(req.RetryActions) > 0 {
			for _, retry := range req.RetryActions {
				s.runAction(ctx, req.DeviceID, retry)
			}
			result = s.runAction(ctx, req.DeviceID, action)
		}
		results = append(results, result)
		if result.Success {
			passed++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      passed == len(req.Actions),
		"results":      results,
		"passed_count": passed,
		"total_count":  len(req.Actions),
	})
}

// runAction executes one action and honors its wait_time_ms, which rides
// inside params on the wire (§3).
func (s *server) runAction(ctx context.Context, deviceID string, action ActionRequest) ActionResult {
	result := s.deps.Driver.ExecuteAction(ctx, deviceID, action)
	if wait, ok := action.Params["wait_time_ms"].(float64); ok && wait > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(time.Duration(wait) * time.Millisecond):
		}
	}
	return result
}

type executeVerificationRequest struct {
	DeviceID      string          `json:"device_id" binding:"required"`
	SessionID     string          `json:"session_id"`
	Verifications []ActionRequest `json:"verifications" binding:"required"`
}

func (s *server) executeVerification(c *gin.Context) {
	if s.deps.Driver == nil {
		unavailable(c, "device driver")
		return
	}
	var req executeVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	results := make([]VerificationResult, 0, len(req.Verifications))
	passed := 0
	for _, v := range req.Verifications {
		result := s.deps.Driver.ExecuteVerification(ctx, req.DeviceID, v)
		results = append(results, result)
		if result.Passed {
			passed++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      passed == len(req.Verifications),
		"results":      results,
		"passed_count": passed,
		"total_count":  len(req.Verifications),
	})
}

type deviceRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
}

func (s *server) takeScreenshot(c *gin.Context) {
	if s.deps.AV == nil {
		unavailable(c, "capture ingestor")
		return
	}
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	url, err := s.deps.AV.TakeScreenshot(s.deps.HostName, req.DeviceID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "screenshot_url": url})
}

func (s *server) latestJSON(c *gin.Context) {
	if s.deps.AV == nil {
		unavailable(c, "capture ingestor")
		return
	}
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	url, sequence, timestamp, err := s.deps.AV.LatestJSON(s.deps.HostName, req.DeviceID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"latest_json_url": url,
		"sequence":        sequence,
		"timestamp":       timestamp,
	})
}

type zapObserveRequest struct {
	DeviceID      string    `json:"device_id" binding:"required"`
	SessionID     string    `json:"session_id"`
	ActionCommand string    `json:"action_command"`
	KeyReleaseTS  time.Time `json:"key_release_ts" binding:"required"`
}

func (s *server) zapObserve(c *gin.Context) {
	if s.deps.Zap == nil {
		unavailable(c, "zap detector")
		return
	}
	var req zapObserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	event, err := s.deps.Zap.Observe(req.DeviceID, req.ActionCommand, req.KeyReleaseTS)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "event": event})
}

func (s *server) zapReset(c *gin.Context) {
	if s.deps.Zap == nil {
		unavailable(c, "zap detector")
		return
	}
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	s.deps.Zap.Reset(req.DeviceID)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if err == util.ErrNotFound {
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"success": false, "error": err.Error()})
}

func unavailable(c *gin.Context, component string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": component + " not configured"})
}
