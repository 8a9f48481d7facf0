package navtree

import "testing"

func TestParentNodeSyncPropagatesFieldsNotPosition(t *testing.T) {
	store := NewMemStore()
	parent := Tree{
		TreeID: "t-parent",
		Nodes: map[string]Node{
			"settings": {TreeID: "t-parent", NodeID: "settings", Label: "Settings", Type: NodeScreen, Position: Position{X: 10, Y: 20}},
		},
		Edges: map[string]Edge{},
	}
	child := Tree{
		TreeID: "t-child",
		Nodes: map[string]Node{
			"settings": {TreeID: "t-child", NodeID: "settings", Label: "Settings", Type: NodeSubtreeRoot, Position: Position{X: 99, Y: 99}, IsRoot: true},
		},
		Edges: map[string]Edge{},
	}
	if err := store.SaveTree(parent); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveTree(child); err != nil {
		t.Fatal(err)
	}
	if err := store.LinkSubtree("t-parent", "settings", "t-child", "settings"); err != nil {
		t.Fatal(err)
	}

	gs := New(store, nil)
	updated := parent.Nodes["settings"]
	updated.Label = "Settings (v2)"
	updated.Data = map[string]any{"icon": "gear"}
	updated.Position = Position{X: 500, Y: 500} // must NOT propagate

	if err := gs.SaveNode("t-parent", updated); err != nil {
		t.Fatal(err)
	}

	got, err := gs.LoadTree("t-child")
	if err != nil {
		t.Fatal(err)
	}
	childNode := got.Nodes["settings"]
	if childNode.Label != "Settings (v2)" {
		t.Errorf("label not synced: got %q", childNode.Label)
	}
	if childNode.Data["icon"] != "gear" {
		t.Errorf("data not synced: got %v", childNode.Data)
	}
	if childNode.Position.X != 99 || childNode.Position.Y != 99 {
		t.Errorf("position must not propagate, got %+v", childNode.Position)
	}
}

func TestSaveNodeIdempotentSync(t *testing.T) {
	store := NewMemStore()
	parent := Tree{TreeID: "t1", Nodes: map[string]Node{
		"n": {TreeID: "t1", NodeID: "n", Label: "A"},
	}, Edges: map[string]Edge{}}
	child := Tree{TreeID: "t2", Nodes: map[string]Node{
		"n": {TreeID: "t2", NodeID: "n", Label: "A", IsRoot: true},
	}, Edges: map[string]Edge{}}
	store.SaveTree(parent)
	store.SaveTree(child)
	store.LinkSubtree("t1", "n", "t2", "n")

	gs := New(store, nil)
	node := parent.Nodes["n"]
	// Saving an unchanged node twice must not error and must remain a no-op write.
	if err := gs.SaveNode("t1", node); err != nil {
		t.Fatal(err)
	}
	if err := gs.SaveNode("t1", node); err != nil {
		t.Fatal(err)
	}
}

func TestEdgeWeightFormula(t *testing.T) {
	e := Edge{
		DefaultActionSet: "fwd",
		FinalWaitMS:      2000,
		ActionSets: []ActionSet{
			{ID: "fwd", Actions: []Action{{Command: "click"}, {Command: "click"}}, RetryActions: []Action{{Command: "back"}}},
		},
	}
	got := e.Weight()
	want := 2.0 + 0.5 + 2.0
	if got != want {
		t.Errorf("Weight() = %v, want %v", got, want)
	}
}
