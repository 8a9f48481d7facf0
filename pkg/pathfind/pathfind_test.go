package pathfind

import (
	"errors"
	"testing"

	"github.com/fleetlab/fleetlab/pkg/navtree"
	"github.com/fleetlab/fleetlab/pkg/util"
)

type staticLoader map[string]*navtree.Tree

func (s staticLoader) Get(treeID string) (*navtree.Tree, error) {
	t, ok := s[treeID]
	if !ok {
		return nil, nil
	}
	return t, nil
}

func mkEdge(id, src, dst string, actions int, waitMS int) navtree.Edge {
	return navtree.Edge{
		EdgeID:           id,
		SourceNodeID:     src,
		TargetNodeID:     dst,
		DefaultActionSet: "fwd",
		FinalWaitMS:      waitMS,
		ActionSets: []navtree.ActionSet{
			{ID: "fwd", Label: "forward", Actions: make([]navtree.Action, actions)},
		},
	}
}

func TestSearchFindsShortestPath(t *testing.T) {
	tree := &navtree.Tree{
		TreeID: "t1",
		Nodes: map[string]navtree.Node{
			"home":     {NodeID: "home", IsRoot: true},
			"settings": {NodeID: "settings"},
		},
		Edges: map[string]navtree.Edge{
			"e1": mkEdge("e1", "home", "settings", 1, 2000),
		},
	}
	f := New(staticLoader{"t1": tree})
	path, err := f.Find("t1", "home", "settings")
	if err != nil {
		t.Fatal(err)
	}
	if len(path.Hops) != 1 || path.Hops[0].Edge.EdgeID != "e1" {
		t.Errorf("unexpected path: %+v", path)
	}
}

func TestFindNoPath(t *testing.T) {
	tree := &navtree.Tree{
		TreeID: "t1",
		Nodes: map[string]navtree.Node{
			"home":   {NodeID: "home"},
			"island": {NodeID: "island"},
		},
		Edges: map[string]navtree.Edge{},
	}
	f := New(staticLoader{"t1": tree})
	_, err := f.Find("t1", "home", "island")
	if !errors.Is(err, util.ErrNoPath) {
		t.Errorf("expected ErrNoPath, got %v", err)
	}
}

// TestSubtreeTraversal mirrors spec §8 scenario S3: home->settings enters a
// subtree whose root duplicates "settings", then settings'->privacy.
func TestSubtreeTraversal(t *testing.T) {
	outer := &navtree.Tree{
		TreeID: "outer",
		Nodes: map[string]navtree.Node{
			"home": {NodeID: "home", IsRoot: true},
			"settings": {
				NodeID:     "settings",
				SubtreeRef: &navtree.SubtreeRef{TreeID: "inner"},
			},
		},
		Edges: map[string]navtree.Edge{
			"e1": mkEdge("e1", "home", "settings", 1, 2000),
		},
	}
	inner := &navtree.Tree{
		TreeID: "inner",
		Nodes: map[string]navtree.Node{
			"settings": {NodeID: "settings", IsRoot: true},
			"privacy":  {NodeID: "privacy"},
		},
		Edges: map[string]navtree.Edge{
			"e2": mkEdge("e2", "settings", "privacy", 1, 500),
		},
	}
	f := New(staticLoader{"outer": outer, "inner": inner})
	path, err := f.Find("outer", "home", "privacy")
	if err != nil {
		t.Fatal(err)
	}
	if len(path.Hops) != 2 {
		t.Fatalf("expected 2 hops (outer entry + inner descent), got %d", len(path.Hops))
	}
	if path.Hops[0].Edge.EdgeID != "e1" || path.Hops[1].Edge.EdgeID != "e2" {
		t.Errorf("unexpected hop order: %+v", path.Hops)
	}
	if path.TerminalNode.NodeID != "privacy" {
		t.Errorf("unexpected terminal node: %+v", path.TerminalNode)
	}
}

func TestEdgeWeightTieBreakByDefaultActionSet(t *testing.T) {
	e := navtree.Edge{
		DefaultActionSet: "b",
		ActionSets: []navtree.ActionSet{
			{ID: "a", Actions: []navtree.Action{{Command: "x"}}},
			{ID: "b", Actions: []navtree.Action{{Command: "x"}}},
		},
	}
	as, ok := e.DefaultSet()
	if !ok || as.ID != "b" {
		t.Errorf("expected default action set 'b', got %+v ok=%v", as, ok)
	}
}

// mkEdgeWithDefault builds a two-action-set edge whose only non-default
// action set is unused by Weight(), so two such edges between the same
// pair of nodes carry identical weight and differ only in
// default_action_set_id — the exact situation §4.5's tie-break rule
// exists for.
func mkEdgeWithDefault(id, src, dst, defaultSetID string, actions int, waitMS int) navtree.Edge {
	return navtree.Edge{
		EdgeID:           id,
		SourceNodeID:     src,
		TargetNodeID:     dst,
		DefaultActionSet: defaultSetID,
		FinalWaitMS:      waitMS,
		ActionSets: []navtree.ActionSet{
			{ID: defaultSetID, Label: defaultSetID, Actions: make([]navtree.Action, actions)},
		},
	}
}

// TestSearchBreaksPathWeightTieByDefaultActionSet mirrors Testable
// Property 5: two parallel edges between the same pair of nodes with
// identical weight must resolve deterministically by comparing
// default_action_set_id, never by map iteration order. The edge IDs are
// chosen so sorted-by-edge-id order visits the edges in the opposite
// order from sorted-by-default-action-set-id, so a tie-break that
// silently falls back to "first one seen" would pick the wrong winner.
func TestSearchBreaksPathWeightTieByDefaultActionSet(t *testing.T) {
	tree := &navtree.Tree{
		TreeID: "t1",
		Nodes: map[string]navtree.Node{
			"home":     {NodeID: "home", IsRoot: true},
			"settings": {NodeID: "settings"},
		},
		Edges: map[string]navtree.Edge{
			// edge_id "e_zz" sorts after "e_aa", but its default_action_set_id
			// "a1" sorts before "e_aa"'s "b1" — so the edge_id-ordered scan
			// visits "b1" first and must still end up choosing "a1".
			"e_aa": mkEdgeWithDefault("e_aa", "home", "settings", "b1", 2, 1000),
			"e_zz": mkEdgeWithDefault("e_zz", "home", "settings", "a1", 2, 1000),
		},
	}
	f := New(staticLoader{"t1": tree})
	path, err := f.Find("t1", "home", "settings")
	if err != nil {
		t.Fatal(err)
	}
	if len(path.Hops) != 1 {
		t.Fatalf("expected 1 hop, got %d", len(path.Hops))
	}
	if got := path.Hops[0].ActionSet.ID; got != "a1" {
		t.Errorf("expected tie broken toward default_action_set_id %q, got %q (edge %q)", "a1", got, path.Hops[0].Edge.EdgeID)
	}
}
