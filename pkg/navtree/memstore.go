package navtree

import (
	"fmt"
	"sync"
)

// MemStore is an in-memory Store, used by tests and as a fallback when no
// Postgres DSN is configured.
type MemStore struct {
	mu    sync.RWMutex
	trees map[string]Tree
	uiIdx map[string]string // userinterface_id -> tree_id
	links map[string][]SubtreeLink
}

// NewMemStore creates an empty in-memory navigation graph store.
func NewMemStore() *MemStore {
	return &MemStore{
		trees: make(map[string]Tree),
		uiIdx: make(map[string]string),
		links: make(map[string][]SubtreeLink),
	}
}

func cloneTree(t Tree) *Tree {
	out := t
	out.Nodes = make(map[string]Node, len(t.Nodes))
	for k, v := range t.Nodes {
		out.Nodes[k] = v
	}
	out.Edges = make(map[string]Edge, len(t.Edges))
	for k, v := range t.Edges {
		out.Edges[k] = v
	}
	return &out
}

func (m *MemStore) LoadTree(treeID string) (*Tree, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trees[treeID]
	if !ok {
		return nil, nil
	}
	return cloneTree(t), nil
}

func (m *MemStore) GetTreeByUserInterfaceID(uiID string) (*Tree, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	treeID, ok := m.uiIdx[uiID]
	if !ok {
		return nil, nil
	}
	t := m.trees[treeID]
	return cloneTree(t), nil
}

func (m *MemStore) SaveTree(tree Tree) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tree.Nodes == nil {
		tree.Nodes = make(map[string]Node)
	}
	if tree.Edges == nil {
		tree.Edges = make(map[string]Edge)
	}
	m.trees[tree.TreeID] = *cloneTree(tree)
	if tree.UserInterfaceID != "" {
		m.uiIdx[tree.UserInterfaceID] = tree.TreeID
	}
	return nil
}

func (m *MemStore) SaveNode(treeID string, node Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trees[treeID]
	if !ok {
		return fmt.Errorf("navtree: tree %q not found", treeID)
	}
	if t.Nodes == nil {
		t.Nodes = make(map[string]Node)
	}
	t.Nodes[node.NodeID] = node
	m.trees[treeID] = t
	return nil
}

func (m *MemStore) SaveEdge(treeID string, edge Edge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trees[treeID]
	if !ok {
		return fmt.Errorf("navtree: tree %q not found", treeID)
	}
	if t.Edges == nil {
		t.Edges = make(map[string]Edge)
	}
	t.Edges[edge.EdgeID] = edge
	m.trees[treeID] = t
	return nil
}

func (m *MemStore) DeleteNode(treeID, nodeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trees[treeID]
	if !ok {
		return fmt.Errorf("navtree: tree %q not found", treeID)
	}
	delete(t.Nodes, nodeID)
	for id, e := range t.Edges {
		if e.SourceNodeID == nodeID || e.TargetNodeID == nodeID {
			delete(t.Edges, id)
		}
	}
	m.trees[treeID] = t
	return nil
}

func (m *MemStore) DeleteEdge(treeID, edgeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trees[treeID]
	if !ok {
		return fmt.Errorf("navtree: tree %q not found", treeID)
	}
	delete(t.Edges, edgeID)
	m.trees[treeID] = t
	return nil
}

func (m *MemStore) LinkSubtree(treeID, parentNodeID, childTreeID, childRootID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := treeID + "/" + parentNodeID
	for _, l := range m.links[key] {
		if l.ChildTreeID == childTreeID {
			return nil
		}
	}
	m.links[key] = append(m.links[key], SubtreeLink{
		ParentTreeID: treeID,
		ParentNodeID: parentNodeID,
		ChildTreeID:  childTreeID,
		ChildRootID:  childRootID,
	})
	return nil
}

func (m *MemStore) ChildSubtreesOf(treeID, parentNodeID string) ([]SubtreeLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	key := treeID + "/" + parentNodeID
	out := make([]SubtreeLink, len(m.links[key]))
	copy(out, m.links[key])
	return out, nil
}
