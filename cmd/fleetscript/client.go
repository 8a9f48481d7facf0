package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fleetlab/fleetlab/pkg/scriptexec"
	"github.com/fleetlab/fleetlab/pkg/util"
)

// orchestratorClient is fleetscript's HTTP client against fleetd's §6
// surface. It satisfies every collaborator interface the Executor needs
// (lease control, path resolution, action dispatch, zap observation,
// phrase resolution), so the binary wires a single value everywhere.
type orchestratorClient struct {
	baseURL string
	team    string
	ui      string
	client  *http.Client

	session string
	host    string
	device  string

	mu            sync.Mutex
	plans         map[string]verificationPlan // terminal node id → verifications
	stopHeartbeat chan struct{}
}

// heartbeatInterval keeps the lease alive well inside its base TTL, so a
// scenario longer than the TTL never loses its device mid-run.
const heartbeatInterval = 10 * time.Second

// verificationPlan is the terminal-node verification set captured during
// path resolution, replayed by RunVerifications on arrival.
type verificationPlan struct {
	verifications []map[string]any
	passCondition string
}

func newOrchestratorClient(baseURL, team, ui string) *orchestratorClient {
	return &orchestratorClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		team:    team,
		ui:      ui,
		client:  &http.Client{Timeout: 60 * time.Second},
		plans:   make(map[string]verificationPlan),
	}
}

// bind records the run's session identity so action/zap calls carry it.
func (c *orchestratorClient) bind(host, device, session string) {
	c.host = host
	c.device = device
	c.session = session
}

func (c *orchestratorClient) post(path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := c.client.Post(c.baseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		if isConnRefused(err) {
			return fmt.Errorf("orchestrator unreachable at %s: %w", c.baseURL, util.ErrHostUnreachable)
		}
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			ErrorType string `json:"error_type"`
			Error     string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.ErrorType != "" {
				return fmt.Errorf("%s: %s", apiErr.ErrorType, apiErr.Error)
			}
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("orchestrator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	return nil
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

// TakeControl implements scriptexec.LeaseController.
func (c *orchestratorClient) TakeControl(hostName, deviceID, sessionID, userID string) error {
	var resp struct {
		OK        bool   `json:"ok"`
		ErrorType string `json:"error_type"`
		Error     string `json:"error"`
	}
	err := c.post("/server/control/takeControl", map[string]any{
		"host_name": hostName, "device_id": deviceID,
		"session_id": sessionID, "user_id": userID,
	}, &resp)
	if err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%s: %s", resp.ErrorType, resp.Error)
	}
	c.startHeartbeat(hostName, deviceID, sessionID)
	return nil
}

// startHeartbeat renews the lease in the background until ReleaseControl.
func (c *orchestratorClient) startHeartbeat(hostName, deviceID, sessionID string) {
	c.stopHeartbeat = make(chan struct{})
	stop := c.stopHeartbeat
	go func() {
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				err := c.post("/server/control/heartbeat", map[string]any{
					"host_name": hostName, "device_id": deviceID, "session_id": sessionID,
				}, nil)
				if err != nil {
					util.WithSession(sessionID).Warnf("heartbeat failed: %v", err)
				}
			}
		}
	}()
}

// ReleaseControl implements scriptexec.LeaseController.
func (c *orchestratorClient) ReleaseControl(hostName, deviceID, sessionID string) error {
	if c.stopHeartbeat != nil {
		close(c.stopHeartbeat)
		c.stopHeartbeat = nil
	}
	return c.post("/server/control/releaseControl", map[string]any{
		"host_name": hostName, "device_id": deviceID, "session_id": sessionID,
	}, nil)
}

// Resolve implements scriptexec.PathResolver: the orchestrator computes
// the full path and this client flattens its hops into one dispatchable
// action sequence (each action keeps its own wait_time_ms, so ordering
// alone preserves per-hop pacing).
func (c *orchestratorClient) Resolve(treeID, from, to string) (scriptexec.Hop, error) {
	var resp struct {
		Success bool `json:"success"`
		Path    struct {
			Hops []struct {
				EdgeID      string           `json:"edge_id"`
				ActionSetID string           `json:"action_set_id"`
				Actions     []map[string]any `json:"actions"`
			} `json:"hops"`
			TerminalNode          string           `json:"terminal_node_id"`
			TerminalVerifications []map[string]any `json:"terminal_verifications"`
			PassCondition         string           `json:"pass_condition"`
		} `json:"path"`
	}
	err := c.post("/server/navigation/findPath", map[string]any{
		"tree_id": treeID, "from_node_id": from, "to_node_id": to,
	}, &resp)
	if err != nil {
		return scriptexec.Hop{}, err
	}

	var hop scriptexec.Hop
	var edgeIDs []string
	for _, h := range resp.Path.Hops {
		edgeIDs = append(edgeIDs, h.EdgeID)
		if hop.ActionSetID == "" {
			hop.ActionSetID = h.ActionSetID
		}
		for _, a := range h.Actions {
			command, _ := a["command"].(string)
			params, _ := a["params"].(map[string]any)
			hop.Actions = append(hop.Actions, scriptexec.Action{Command: command, Params: params})
		}
	}
	hop.EdgeID = strings.Join(edgeIDs, "+")

	c.mu.Lock()
	c.plans[resp.Path.TerminalNode] = verificationPlan{
		verifications: resp.Path.TerminalVerifications,
		passCondition: resp.Path.PassCondition,
	}
	c.mu.Unlock()
	return hop, nil
}

// SendActions implements scriptexec.ActionSender.
func (c *orchestratorClient) SendActions(hostName, deviceID string, actions []scriptexec.Action) (time.Time, error) {
	wire := make([]map[string]any, len(actions))
	for i, a := range actions {
		wire[i] = map[string]any{"command": a.Command, "params": a.Params}
	}
	var resp struct {
		Success     bool `json:"success"`
		PassedCount int  `json:"passed_count"`
		TotalCount  int  `json:"total_count"`
	}
	err := c.post("/server/action/executeBatch", map[string]any{
		"host": hostName, "device_id": deviceID, "session_id": c.session,
		"actions": wire,
	}, &resp)
	keyRelease := time.Now()
	if err != nil {
		return keyRelease, err
	}
	if !resp.Success {
		return keyRelease, fmt.Errorf("batch passed %d/%d actions", resp.PassedCount, resp.TotalCount)
	}
	return keyRelease, nil
}

// RunVerifications implements scriptexec.ActionSender: it replays the
// terminal verifications captured at Resolve time and applies the node's
// pass condition (§4.12: "pass condition honored").
func (c *orchestratorClient) RunVerifications(hostName, deviceID, nodeID string) (bool, error) {
	c.mu.Lock()
	plan, ok := c.plans[nodeID]
	c.mu.Unlock()
	if !ok || len(plan.verifications) == 0 {
		return true, nil
	}

	var resp struct {
		Success     bool `json:"success"`
		PassedCount int  `json:"passed_count"`
		TotalCount  int  `json:"total_count"`
	}
	err := c.post("/server/verification/execute", map[string]any{
		"host": hostName, "device_id": deviceID, "session_id": c.session,
		"verifications": plan.verifications,
	}, &resp)
	if err != nil {
		return false, err
	}
	if plan.passCondition == "any" {
		return resp.PassedCount > 0, nil
	}
	return resp.PassedCount == resp.TotalCount, nil
}

// Observe implements scriptexec.ZapObserver.
func (c *orchestratorClient) Observe(actionCommand string, keyReleaseTS time.Time) (bool, error) {
	var resp struct {
		Success bool `json:"success"`
		Event   struct {
			Detected  bool    `json:"detected"`
			Method    string  `json:"method"`
			DurationS float64 `json:"duration_s"`
		} `json:"event"`
	}
	err := c.post("/server/zap/observe", map[string]any{
		"host": c.host, "device_id": c.device, "session_id": c.session,
		"action_command": actionCommand, "key_release_ts": keyReleaseTS,
	}, &resp)
	if err != nil {
		return false, err
	}
	if resp.Event.Detected {
		util.WithDevice(c.device).Infof("zap detected via %s in %.1fs", resp.Event.Method, resp.Event.DurationS)
	}
	return resp.Event.Detected, nil
}

// ResolvePhrase implements scriptexec.PhraseResolver over the
// disambiguation mappings.
func (c *orchestratorClient) ResolvePhrase(phrase string) (string, error) {
	var resp struct {
		Success bool `json:"success"`
		Target  struct {
			NodeID string `json:"node_id"`
		} `json:"target"`
	}
	err := c.post("/server/navigation/resolvePhrase", map[string]any{
		"team": c.team, "userinterface": c.ui, "phrase": phrase,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Target.NodeID == "" {
		return "", fmt.Errorf("no mapping for phrase %q", phrase)
	}
	return resp.Target.NodeID, nil
}
