// Package hostproxy is the Host Proxy (C8): it accepts higher-level RPCs
// addressed by (host_name, device_id) and forwards them to the host
// process that owns the physical device, attaching session identity,
// enforcing lease ownership, and applying bounded retry/backoff to
// transport errors (§7). Every operation goes through the host daemon's
// HTTP surface (pkg/hostapi); direct file access to capture appliances
// lives host-side in pkg/capture, never here, so the lease check cannot
// be bypassed.
package hostproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fleetlab/fleetlab/pkg/util"
)

// HostResolver maps a host_name to the base URL of its fleethost daemon.
type HostResolver interface {
	Resolve(hostName string) (baseURL string, err error)
}

// LeaseChecker confirms the caller holds the lease for a device before the
// proxy forwards a command (§4.8 "enforces that the caller holds the lease").
type LeaseChecker interface {
	Owns(ctx context.Context, hostName, deviceID, sessionID string) (bool, error)
}

// Proxy is the Host Proxy (C8).
type Proxy struct {
	resolver HostResolver
	leases   LeaseChecker
	client   *http.Client
	retries  int
	onRetry  func(hostName string)
}

// SetRetryHook registers a callback invoked once per retry attempt,
// labeled by host. Used for the retry counter metric.
func (p *Proxy) SetRetryHook(fn func(hostName string)) {
	p.onRetry = fn
}

// New creates a Proxy. retries is the bounded-backoff retry count applied
// to transport errors before surfacing (§7 default: 2).
func New(resolver HostResolver, leases LeaseChecker, retries int, timeout time.Duration) *Proxy {
	if retries < 0 {
		retries = 2
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Proxy{resolver: resolver, leases: leases, client: &http.Client{Timeout: timeout}, retries: retries}
}

// ActionResult is one action's outcome within a batch (§4.8/§6).
type ActionResult struct {
	Command string `json:"command"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BatchResult is the §6 executeBatch response shape.
type BatchResult struct {
	Success     bool           `json:"success"`
	Results     []ActionResult `json:"results"`
	PassedCount int            `json:"passed_count"`
	TotalCount  int            `json:"total_count"`
}

// VerificationResult is one verification's outcome.
type VerificationResult struct {
	Command string `json:"command"`
	Passed  bool   `json:"passed"`
	Detail  string `json:"detail,omitempty"`
}

// VerificationBatchResult is the §6 verification/execute response shape.
type VerificationBatchResult struct {
	Success     bool                  `json:"success"`
	Results     []VerificationResult  `json:"results"`
	PassedCount int                   `json:"passed_count"`
	TotalCount  int                   `json:"total_count"`
}

// ActionRequest is one action to execute on a device.
type ActionRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

// ExecuteAction forwards a single action RPC to the owning host.
func (p *Proxy) ExecuteAction(ctx context.Context, hostName, deviceID, sessionID string, action ActionRequest) (*ActionResult, error) {
	if err := p.checkLease(ctx, hostName, deviceID, sessionID); err != nil {
		return nil, err
	}
	var result ActionResult
	if err := p.call(ctx, hostName, "POST", "/host/action/execute", map[string]any{
		"device_id": deviceID, "session_id": sessionID, "action": action,
	}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ExecuteBatch forwards a batch of actions. Partial failures return
// per-action results rather than failing the whole batch (§4.8/§7).
func (p *Proxy) ExecuteBatch(ctx context.Context, hostName, deviceID, sessionID string, actions, retryActions []ActionRequest) (*BatchResult, error) {
	if err := p.checkLease(ctx, hostName, deviceID, sessionID); err != nil {
		return nil, err
	}
	var result BatchResult
	if err := p.call(ctx, hostName, "POST", "/host/action/executeBatch", map[string]any{
		"device_id": deviceID, "session_id": sessionID,
		"actions": actions, "retry_actions": retryActions,
	}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ExecuteVerification forwards a verification batch RPC.
func (p *Proxy) ExecuteVerification(ctx context.Context, hostName, deviceID, sessionID string, verifications []ActionRequest) (*VerificationBatchResult, error) {
	if err := p.checkLease(ctx, hostName, deviceID, sessionID); err != nil {
		return nil, err
	}
	var result VerificationBatchResult
	if err := p.call(ctx, hostName, "POST", "/host/verification/execute", map[string]any{
		"device_id": deviceID, "session_id": sessionID, "verifications": verifications,
	}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// TakeScreenshot requests the next keyframe's image URL from the host.
func (p *Proxy) TakeScreenshot(ctx context.Context, hostName, deviceID string) (string, error) {
	var result struct {
		Success       bool   `json:"success"`
		ScreenshotURL string `json:"screenshot_url"`
	}
	if err := p.call(ctx, hostName, "POST", "/host/av/takeScreenshot", map[string]any{"device_id": deviceID}, &result); err != nil {
		return "", err
	}
	return result.ScreenshotURL, nil
}

// LatestJSON requests the most recent completed analysis sidecar (§4.9).
func (p *Proxy) LatestJSON(ctx context.Context, hostName, deviceID string) (jsonURL string, sequence int, timestamp time.Time, err error) {
	var result struct {
		Success     bool      `json:"success"`
		LatestJSON  string    `json:"latest_json_url"`
		Sequence    int       `json:"sequence"`
		Timestamp   time.Time `json:"timestamp"`
	}
	if err := p.call(ctx, hostName, "POST", "/host/av/monitoring/latest-json", map[string]any{"device_id": deviceID}, &result); err != nil {
		return "", 0, time.Time{}, err
	}
	return result.LatestJSON, result.Sequence, result.Timestamp, nil
}

// ZapEventView is the host's zap-detection result for a single event.
type ZapEventView struct {
	Detected    bool           `json:"detected"`
	Method      string         `json:"method,omitempty"`
	DurationS   float64        `json:"duration_s"`
	ChannelInfo map[string]any `json:"channel_info,omitempty"`
}

// ObserveZap asks the host's zap detector to resolve a single channel-
// change event anchored at keyReleaseTS (§4.11). The caller must hold the
// device's lease, like any other command forwarded on its behalf.
func (p *Proxy) ObserveZap(ctx context.Context, hostName, deviceID, sessionID, actionCommand string, keyReleaseTS time.Time) (*ZapEventView, error) {
	if err := p.checkLease(ctx, hostName, deviceID, sessionID); err != nil {
		return nil, err
	}
	var result struct {
		Success bool         `json:"success"`
		Event   ZapEventView `json:"event"`
	}
	if err := p.call(ctx, hostName, "POST", "/host/zap/observe", map[string]any{
		"device_id": deviceID, "session_id": sessionID,
		"action_command": actionCommand, "key_release_ts": keyReleaseTS,
	}, &result); err != nil {
		return nil, err
	}
	return &result.Event, nil
}

func (p *Proxy) checkLease(ctx context.Context, hostName, deviceID, sessionID string) error {
	if p.leases == nil {
		return nil
	}
	owns, err := p.leases.Owns(ctx, hostName, deviceID, sessionID)
	if err != nil {
		return err
	}
	if !owns {
		return util.NewAPIError("contention", "caller does not hold the lease for this device", util.ErrLeaseExpired)
	}
	return nil
}

// call performs the HTTP RPC with bounded-backoff retry on transport
// errors (§7): default 2 retries, exponential backoff starting at 100ms.
func (p *Proxy) call(ctx context.Context, hostName, method, path string, body any, out any) error {
	base, err := p.resolver.Resolve(hostName)
	if err != nil {
		return fmt.Errorf("hostproxy: resolving host %q: %w", hostName, err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt <= p.retries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, base+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.client.Do(req)
		if err != nil {
			lastErr = &util.APIError{Type: "transport", Message: err.Error()}
			if attempt < p.retries {
				if p.onRetry != nil {
					p.onRetry(hostName)
				}
				time.Sleep(backoff)
				backoff *= 2
				continue
			}
			return fmt.Errorf("hostproxy: host %q unreachable after %d attempts: %w", hostName, attempt+1, util.ErrHostUnreachable)
		}
		func() {
			defer resp.Body.Close()
			data, _ := io.ReadAll(resp.Body)
			if resp.StatusCode >= 500 {
				lastErr = fmt.Errorf("hostproxy: host %q returned %d: %s", hostName, resp.StatusCode, string(data))
				return
			}
			lastErr = nil
			if out != nil && len(data) > 0 {
				lastErr = json.Unmarshal(data, out)
			}
		}()
		if lastErr == nil {
			return nil
		}
		if attempt < p.retries {
			if p.onRetry != nil {
				p.onRetry(hostName)
			}
			time.Sleep(backoff)
			backoff *= 2
			continue
		}
	}
	return lastErr
}
