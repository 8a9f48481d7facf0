package navcache

import (
	"testing"

	"github.com/fleetlab/fleetlab/pkg/navtree"
)

type fakeLoader struct {
	tree  *navtree.Tree
	calls int
}

func (f *fakeLoader) LoadTree(treeID string) (*navtree.Tree, error) {
	f.calls++
	return f.tree, nil
}

func TestGetCachesAcrossCalls(t *testing.T) {
	loader := &fakeLoader{tree: &navtree.Tree{
		TreeID: "t1",
		Nodes:  map[string]navtree.Node{"a": {NodeID: "a", Label: "A"}},
		Edges:  map[string]navtree.Edge{},
	}}
	c := New(loader, nil)

	if _, err := c.Get("t1"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get("t1"); err != nil {
		t.Fatal(err)
	}
	if loader.calls != 1 {
		t.Errorf("expected a single load on cache hit, got %d", loader.calls)
	}
}

func TestInvalidateForcesReload(t *testing.T) {
	loader := &fakeLoader{tree: &navtree.Tree{TreeID: "t1", Nodes: map[string]navtree.Node{}, Edges: map[string]navtree.Edge{}}}
	c := New(loader, nil)
	c.Get("t1")
	c.Invalidate("t1")
	c.Get("t1")
	if loader.calls != 2 {
		t.Errorf("expected reload after invalidate, got %d loads", loader.calls)
	}
}

func TestPatchNodeDoesNotTriggerFullReload(t *testing.T) {
	loader := &fakeLoader{tree: &navtree.Tree{
		TreeID: "t1",
		Nodes:  map[string]navtree.Node{"a": {NodeID: "a", Label: "A"}},
		Edges:  map[string]navtree.Edge{},
	}}
	c := New(loader, nil)
	c.Get("t1")
	c.PatchNode("t1", navtree.Node{NodeID: "a", Label: "A-patched"})

	got, err := c.Get("t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Nodes["a"].Label != "A-patched" {
		t.Errorf("patch not applied: %+v", got.Nodes["a"])
	}
	if loader.calls != 1 {
		t.Errorf("expected no reload from a patch, got %d loads", loader.calls)
	}
}
