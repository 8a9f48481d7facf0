// Package navtree is the persistent navigation graph store (C3): trees,
// nodes, edges, subtree links and the parent-node sync rule. Writes
// invalidate the Navigation Cache (pkg/navcache) entry for the owning tree.
package navtree

import (
	"sort"

	"github.com/fleetlab/fleetlab/pkg/cmdregistry"
)

// NodeType enumerates the kinds of navigation node.
type NodeType string

const (
	NodeEntry       NodeType = "entry"
	NodeScreen      NodeType = "screen"
	NodeMenu        NodeType = "menu"
	NodeAction      NodeType = "action"
	NodeSubtreeRoot NodeType = "subtree-root"
)

// PassCondition governs how a node's verifications combine.
type PassCondition string

const (
	PassAll PassCondition = "all"
	PassAny PassCondition = "any"
)

// Position is rendering-only and carries no traversal semantics.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// VerificationType enumerates the kinds of verification a node may carry.
type VerificationType string

const (
	VerifyImage VerificationType = "image"
	VerifyText  VerificationType = "text"
	VerifyWeb   VerificationType = "web"
	VerifyADB   VerificationType = "adb"
	VerifyVideo VerificationType = "video"
	VerifyAudio VerificationType = "audio"
)

// Verification is one check run against a node after navigation.
type Verification struct {
	Command          string            `json:"command"`
	VerificationType VerificationType  `json:"verification_type"`
	Params           map[string]any    `json:"params"`
	PassCondition    PassCondition     `json:"pass_condition,omitempty"`
}

// SubtreeRef points a node at the root of a nested tree.
type SubtreeRef struct {
	TreeID string `json:"tree_id"`
}

// Node is a navigation node, identified by node_id scoped to a tree.
type Node struct {
	TreeID              string            `json:"tree_id"`
	NodeID              string            `json:"node_id"`
	Label               string            `json:"label"`
	Type                NodeType          `json:"type"`
	Position            Position          `json:"position"`
	Verifications       []Verification    `json:"verifications,omitempty"`
	ScreenshotURL        string            `json:"screenshot_url,omitempty"`
	SubtreeRef          *SubtreeRef       `json:"subtree_ref,omitempty"`
	VerificationPass    PassCondition     `json:"verification_pass_condition"`
	IsRoot              bool              `json:"is_root"`
	Data                map[string]any    `json:"data,omitempty"`
	Style               map[string]any    `json:"style,omitempty"`
}

// Action is one step of an action set.
type Action struct {
	Command  string         `json:"command"`
	Params   map[string]any `json:"params"`
	WaitTime int            `json:"wait_time_ms"`
}

// WaitTimeMS returns the action's wait time, reading a negative value as 0.
// In the tree's own JSON, wait_time_ms is a sibling field of params, not a
// key inside it; fleetd copies it into params["wait_time_ms"] when it
// serves a path, and the host reads it from there.
func (a Action) WaitTimeMS() int {
	if a.WaitTime < 0 {
		return 0
	}
	return a.WaitTime
}

// ActionSet is a named bundle of actions for one direction/variant of an edge.
type ActionSet struct {
	ID             string   `json:"id"`
	Label          string   `json:"label"`
	Actions        []Action `json:"actions"`
	RetryActions   []Action `json:"retry_actions,omitempty"`
	FailureActions []Action `json:"failure_actions,omitempty"`
}

// Weight is the edge-weight contribution of this action set, per §4.5:
// len(actions) + len(retry_actions)*0.5.
func (a ActionSet) Weight() float64 {
	return float64(len(a.Actions)) + float64(len(a.RetryActions))*0.5
}

// Edge is a directed navigation edge, identified by (tree_id, edge_id).
type Edge struct {
	TreeID            string      `json:"tree_id"`
	EdgeID            string      `json:"edge_id"`
	SourceNodeID      string      `json:"source_node_id"`
	TargetNodeID      string      `json:"target_node_id"`
	ActionSets        []ActionSet `json:"action_sets"`
	DefaultActionSet  string      `json:"default_action_set_id"`
	FinalWaitMS       int         `json:"final_wait_ms"`
}

// DefaultSet resolves the edge's default_action_set_id to an ActionSet.
// Returns false if the edge carries no action set with that id — a write
// with a dangling default is rejected by the validator before persistence.
func (e Edge) DefaultSet() (ActionSet, bool) {
	for _, as := range e.ActionSets {
		if as.ID == e.DefaultActionSet {
			return as, true
		}
	}
	return ActionSet{}, false
}

// Weight returns the edge's total traversal weight for the default action
// set, per §4.5: len(actions) + len(retry_actions)*0.5 + final_wait_ms/1000.
func (e Edge) Weight() float64 {
	as, ok := e.DefaultSet()
	if !ok && len(e.ActionSets) > 0 {
		as = e.ActionSets[0]
	}
	return as.Weight() + float64(e.FinalWaitMS)/1000.0
}

// Tree is a full resolved navigation tree: every node, edge, and the
// device model it is scoped to (for Command Registry lookups).
type Tree struct {
	TreeID            string            `json:"tree_id"`
	UserInterfaceID   string            `json:"userinterface_id"`
	UserInterfaceName string            `json:"userinterface_name"`
	Name              string            `json:"name"`
	DeviceModel       string            `json:"device_model"`
	Nodes             map[string]Node   `json:"nodes"`
	Edges             map[string]Edge   `json:"edges"`
}

// Root returns the tree's single root node, or false if none is marked.
func (t Tree) Root() (Node, bool) {
	for _, n := range t.Nodes {
		if n.IsRoot {
			return n, true
		}
	}
	return Node{}, false
}

// EdgesFrom returns every outgoing edge from a node, in stable edge_id
// order. Edges is a map, whose iteration order Go intentionally
// randomizes, so this sorts explicitly rather than just ranging — the
// pathfinder's Dijkstra relaxation depends on a deterministic enumeration
// order to make its tie-break reproducible (§4.5, Testable Property 5).
func (t Tree) EdgesFrom(nodeID string) []Edge {
	var out []Edge
	for _, e := range t.Edges {
		if e.SourceNodeID == nodeID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EdgeID < out[j].EdgeID })
	return out
}

// ModificationType distinguishes a create from an incremental patch, mirrored
// on the saveTree RPC (§6).
type ModificationType string

const (
	ModCreate ModificationType = "create"
	ModUpdate ModificationType = "update"
	ModDelete ModificationType = "delete"
)

// CommandLookup is the subset of cmdregistry.Registry the validator and
// store need: resolving whether a command is registered for a device model.
type CommandLookup interface {
	List(deviceModel string) ([]cmdregistry.CommandSpec, error)
}
