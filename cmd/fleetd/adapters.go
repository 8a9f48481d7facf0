// Package main wires fleetd, the orchestrator binary: it constructs every
// §4 component and bridges their package-local return types onto the
// narrow collaborator interfaces pkg/apiserver depends on. Grounded on
// cklxx-elephant.ai's Deps-struct bootstrap style (internal/delivery/*/
// bootstrap) for the wiring shape, kept in the teacher's adapter-free
// composition wherever two packages already agree on a type.
package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fleetlab/fleetlab/pkg/apiserver"
	"github.com/fleetlab/fleetlab/pkg/cmdregistry"
	"github.com/fleetlab/fleetlab/pkg/hostproxy"
	"github.com/fleetlab/fleetlab/pkg/lock"
	"github.com/fleetlab/fleetlab/pkg/metrics"
	"github.com/fleetlab/fleetlab/pkg/navtree"
	"github.com/fleetlab/fleetlab/pkg/navvalidate"
	"github.com/fleetlab/fleetlab/pkg/pathfind"
	"github.com/fleetlab/fleetlab/pkg/reference"
	"github.com/fleetlab/fleetlab/pkg/translate"
	"github.com/fleetlab/fleetlab/pkg/util"
)

// takeControlFailure adapts *lock.TakeControlError onto
// apiserver.TakeControlFailure: the lock package returns a plain struct
// with exported fields since it has no HTTP-shape opinions of its own,
// apiserver wants accessor methods so it never has to import lock.
type takeControlFailure struct {
	*lock.TakeControlError
}

func (f takeControlFailure) ErrorType() string   { return string(f.Type) }
func (f takeControlFailure) OwnerUserID() string { return f.TakeControlError.OwnerUserID }

// lockAdapter satisfies apiserver.LockManager over a *lock.Manager.
type lockAdapter struct {
	m *lock.Manager
}

func (a *lockAdapter) TakeControl(ctx context.Context, hostName, deviceID, sessionID, userID, treeID string) error {
	err := a.m.TakeControl(ctx, hostName, deviceID, sessionID, userID, treeID)
	if tce, ok := err.(*lock.TakeControlError); ok {
		return takeControlFailure{tce}
	}
	return err
}

func (a *lockAdapter) ReleaseControl(ctx context.Context, hostName, deviceID, sessionID string) error {
	return a.m.ReleaseControl(ctx, hostName, deviceID, sessionID)
}

func (a *lockAdapter) Heartbeat(ctx context.Context, hostName, deviceID, sessionID string) error {
	return a.m.Heartbeat(ctx, hostName, deviceID, sessionID)
}

func (a *lockAdapter) Get(ctx context.Context, hostName, deviceID string) (*apiserver.LeaseView, error) {
	lease, err := a.m.Get(ctx, hostName, deviceID)
	if err != nil || lease == nil {
		return nil, err
	}
	return &apiserver.LeaseView{UserID: lease.UserID}, nil
}

// hostProxyAdapter satisfies apiserver.HostProxy over a *hostproxy.Proxy,
// copying field-identical wire shapes across the package boundary so
// neither package has to import the other's types.
type hostProxyAdapter struct {
	p *hostproxy.Proxy
}

func toAPIActions(in []apiserver.ActionRequest) []hostproxy.ActionRequest {
	out := make([]hostproxy.ActionRequest, len(in))
	for i, a := range in {
		out[i] = hostproxy.ActionRequest{Command: a.Command, Params: a.Params}
	}
	return out
}

func (a *hostProxyAdapter) ExecuteAction(ctx context.Context, hostName, deviceID, sessionID string, action apiserver.ActionRequest) (*apiserver.ActionResult, error) {
	res, err := a.p.ExecuteAction(ctx, hostName, deviceID, sessionID, hostproxy.ActionRequest{Command: action.Command, Params: action.Params})
	if err != nil {
		return nil, err
	}
	return &apiserver.ActionResult{Command: res.Command, Success: res.Success, Error: res.Error}, nil
}

func (a *hostProxyAdapter) ExecuteBatch(ctx context.Context, hostName, deviceID, sessionID string, actions, retryActions []apiserver.ActionRequest) (*apiserver.BatchResult, error) {
	res, err := a.p.ExecuteBatch(ctx, hostName, deviceID, sessionID, toAPIActions(actions), toAPIActions(retryActions))
	if err != nil {
		return nil, err
	}
	out := &apiserver.BatchResult{Success: res.Success, PassedCount: res.PassedCount, TotalCount: res.TotalCount}
	for _, r := range res.Results {
		out.Results = append(out.Results, apiserver.ActionResult{Command: r.Command, Success: r.Success, Error: r.Error})
	}
	return out, nil
}

func (a *hostProxyAdapter) ExecuteVerification(ctx context.Context, hostName, deviceID, sessionID string, verifications []apiserver.ActionRequest) (*apiserver.VerificationBatchResult, error) {
	res, err := a.p.ExecuteVerification(ctx, hostName, deviceID, sessionID, toAPIActions(verifications))
	if err != nil {
		return nil, err
	}
	out := &apiserver.VerificationBatchResult{Success: res.Success, PassedCount: res.PassedCount, TotalCount: res.TotalCount}
	for _, r := range res.Results {
		out.Results = append(out.Results, apiserver.VerificationResult{Command: r.Command, Passed: r.Passed, Detail: r.Detail})
	}
	return out, nil
}

func (a *hostProxyAdapter) TakeScreenshot(ctx context.Context, hostName, deviceID string) (string, error) {
	return a.p.TakeScreenshot(ctx, hostName, deviceID)
}

func (a *hostProxyAdapter) LatestJSON(ctx context.Context, hostName, deviceID string) (string, int, time.Time, error) {
	return a.p.LatestJSON(ctx, hostName, deviceID)
}

func (a *hostProxyAdapter) ObserveZap(ctx context.Context, hostName, deviceID, sessionID, actionCommand string, keyReleaseTS time.Time) (*apiserver.ZapEventView, error) {
	ev, err := a.p.ObserveZap(ctx, hostName, deviceID, sessionID, actionCommand, keyReleaseTS)
	if err != nil {
		return nil, err
	}
	return &apiserver.ZapEventView{Detected: ev.Detected, Method: ev.Method, DurationS: ev.DurationS, ChannelInfo: ev.ChannelInfo}, nil
}

// writeValidator adapts navvalidate.Validator onto navtree.WriteValidator:
// blocking errors (including a missing required param) propagate, and any
// warnings are logged and never block the write (§4.6).
type writeValidator struct {
	v *navvalidate.Validator
}

func (a *writeValidator) ValidateNode(deviceModel string, node navtree.Node) error {
	warnings, err := a.v.ValidateNode(deviceModel, node)
	logWarnings(node.NodeID, warnings)
	return err
}

func (a *writeValidator) ValidateEdge(deviceModel string, edge navtree.Edge) error {
	warnings, err := a.v.ValidateEdge(deviceModel, edge)
	logWarnings(edge.EdgeID, warnings)
	return err
}

func logWarnings(id string, warnings []navvalidate.Warning) {
	for _, w := range warnings {
		util.Warnf("fleetd: %s: %s: %s", id, w.Command, w.Message)
	}
}

// leaseGauge implements lock.Binder to keep the active-lease gauge
// current: Bind fires only on a real acquire and Unbind only on a real
// release, so the count tracks held leases exactly. Stream/input binding
// proper happens host-side when the session's first command arrives.
type leaseGauge struct {
	reg *metrics.Registry
}

func (g *leaseGauge) Bind(ctx context.Context, hostName, deviceID, sessionID string) error {
	g.reg.ActiveLeases.Inc()
	return nil
}

func (g *leaseGauge) Unbind(ctx context.Context, hostName, deviceID, sessionID string) error {
	g.reg.ActiveLeases.Dec()
	return nil
}

// pathAdapter satisfies apiserver.Pathfinder over a *pathfind.Finder.
type pathAdapter struct {
	f   *pathfind.Finder
	reg *metrics.Registry
}

func (a *pathAdapter) Find(treeID, fromNodeID, toNodeID string) (*apiserver.PathView, error) {
	start := time.Now()
	path, err := a.f.Find(treeID, fromNodeID, toNodeID)
	if a.reg != nil {
		a.reg.PathfindSeconds.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}
	out := &apiserver.PathView{
		TerminalNode:  path.TerminalNode.NodeID,
		PassCondition: string(path.TerminalNode.VerificationPass),
	}
	for _, v := range path.TerminalVerifications {
		params := make(map[string]any, len(v.Params)+1)
		for k, val := range v.Params {
			params[k] = val
		}
		params["verification_type"] = string(v.VerificationType)
		out.TerminalVerifications = append(out.TerminalVerifications, apiserver.ActionRequest{Command: v.Command, Params: params})
	}
	for _, hop := range path.Hops {
		view := apiserver.PathHop{
			EdgeID:      hop.Edge.EdgeID,
			ActionSetID: hop.ActionSet.ID,
			FinalWaitMS: hop.Edge.FinalWaitMS,
		}
		for _, act := range hop.ActionSet.Actions {
			params := make(map[string]any, len(act.Params)+1)
			for k, val := range act.Params {
				params[k] = val
			}
			if _, set := params["wait_time_ms"]; !set && act.WaitTimeMS() > 0 {
				params["wait_time_ms"] = act.WaitTimeMS()
			}
			view.Actions = append(view.Actions, apiserver.ActionRequest{Command: act.Command, Params: params})
		}
		out.Hops = append(out.Hops, view)
	}
	return out, nil
}

// registryAdapter satisfies apiserver.CommandRegistry over a
// *cmdregistry.Registry.
type registryAdapter struct {
	r *cmdregistry.Registry
}

func (a *registryAdapter) List(deviceModel string) ([]apiserver.CommandSpecView, error) {
	specs, err := a.r.List(deviceModel)
	if err != nil {
		return nil, err
	}
	out := make([]apiserver.CommandSpecView, len(specs))
	for i, s := range specs {
		out[i] = apiserver.CommandSpecView{
			CommandName: s.CommandName,
			Kind:        string(s.Kind),
			Category:    s.Category,
			Description: s.Description,
			Required:    s.Schema.Required,
			Optional:    s.Schema.Optional,
		}
	}
	return out, nil
}

// referenceAdapter satisfies apiserver.ReferenceStore over a *reference.Store.
type referenceAdapter struct {
	s *reference.Store
}

func (a *referenceAdapter) List(team, interfaceName string) ([]apiserver.ReferenceView, error) {
	refs, err := a.s.List(team, interfaceName)
	if err != nil {
		return nil, err
	}
	out := make([]apiserver.ReferenceView, len(refs))
	for i, r := range refs {
		out[i] = apiserver.ReferenceView{Name: r.Name, Type: string(r.Type), ImageURL: r.ImageURL, Text: r.Text}
	}
	return out, nil
}

func (a *referenceAdapter) SaveText(team, interfaceName, name string, area apiserver.ReferenceArea, text, language string) (*apiserver.ReferenceView, error) {
	ref, err := a.s.SaveText(team, interfaceName, name, reference.Area{X: area.X, Y: area.Y, Width: area.Width, Height: area.Height}, text, language)
	if err != nil {
		return nil, err
	}
	return &apiserver.ReferenceView{Name: ref.Name, Type: string(ref.Type), ImageURL: ref.ImageURL, Text: ref.Text}, nil
}

// translatorAdapter satisfies apiserver.Translator over a *translate.Client,
// round-tripping the wire-shape map[string]any through translate.ContentBlocks
// via JSON rather than hand-copying every field.
type translatorAdapter struct {
	c *translate.Client
}

func (a *translatorAdapter) RestartBatch(ctx context.Context, hostName string, blocks map[string]any, targetLanguage string) (map[string]any, error) {
	raw, err := json.Marshal(blocks)
	if err != nil {
		return nil, err
	}
	var cb translate.ContentBlocks
	if err := json.Unmarshal(raw, &cb); err != nil {
		return nil, err
	}
	out, err := translate.RestartBatch(ctx, a.c, cb, targetLanguage)
	if err != nil {
		return nil, err
	}
	raw, err = json.Marshal(out)
	if err != nil {
		return nil, err
	}
	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, err
	}
	return result, nil
}
