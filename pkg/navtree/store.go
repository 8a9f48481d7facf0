package navtree

// Invalidator is the Navigation Cache's write-side hook (C4, §4.4): the
// graph store calls Invalidate/PatchNode/PatchEdge atomically with every
// write so the cache never serves a stale tree. pkg/navcache.Cache
// implements this.
type Invalidator interface {
	Invalidate(treeID string)
	PatchNode(treeID string, node Node)
	PatchEdge(treeID string, edge Edge)
}

// noopInvalidator is used when a GraphStore is constructed without a cache,
// e.g. in tests that exercise persistence in isolation.
type noopInvalidator struct{}

func (noopInvalidator) Invalidate(string)      {}
func (noopInvalidator) PatchNode(string, Node) {}
func (noopInvalidator) PatchEdge(string, Edge) {}

// Store is the raw persistence contract (C3): plain CRUD with no cache or
// sync side effects. MemStore (tests) and PGStore (production) implement
// it; GraphStore wraps it with parent-node sync and cache invalidation.
type Store interface {
	// LoadTree returns the full resolved tree, or nil if it does not exist.
	LoadTree(treeID string) (*Tree, error)
	// GetTreeByUserInterfaceID resolves the tree for a userinterface id (§6).
	GetTreeByUserInterfaceID(uiID string) (*Tree, error)
	// SaveTree replaces a tree wholesale (bulk editor save, §6 saveTree).
	SaveTree(tree Tree) error
	// SaveNode upserts a single node with no sync side effects.
	SaveNode(treeID string, node Node) error
	// SaveEdge upserts a single edge.
	SaveEdge(treeID string, edge Edge) error
	// DeleteNode removes a node (and any edges touching it).
	DeleteNode(treeID, nodeID string) error
	// DeleteEdge removes a single edge.
	DeleteEdge(treeID, edgeID string) error
	// LinkSubtree records that node parentNodeID in treeID is the parent of
	// childTreeID's root, for parent-node sync resolution.
	LinkSubtree(treeID, parentNodeID, childTreeID, childRootID string) error
	// ChildSubtreesOf returns every (tree, root node) pair of child subtrees
	// whose duplicate parent node is parentNodeID in treeID.
	ChildSubtreesOf(treeID, parentNodeID string) ([]SubtreeLink, error)
}

// SubtreeLink is a (tree_id, parent_node_id) -> child tree back-reference,
// stored as a tuple rather than an embedded pointer per the Design Notes'
// "cyclic subtree references" re-architecture (§9).
type SubtreeLink struct {
	ParentTreeID string
	ParentNodeID string
	ChildTreeID  string
	ChildRootID  string
}

// WriteValidator rejects malformed verifications/action_sets before they
// reach persistence (C6, §4.6). pkg/navvalidate implements the checks;
// the binary adapts it onto this interface (warnings are logged there,
// never blocking).
type WriteValidator interface {
	ValidateNode(deviceModel string, node Node) error
	ValidateEdge(deviceModel string, edge Edge) error
}

// GraphStore is the Navigation Graph Store (C3): a Store plus the
// parent-node sync rule (§4.3), write validation (§4.6) and cache
// invalidation (§4.4), wired together so callers never have to remember
// to invalidate by hand.
type GraphStore struct {
	store     Store
	cache     Invalidator
	validator WriteValidator
}

// New creates a GraphStore over the given persistence backend. cache may be
// nil, in which case invalidation is a no-op (tests that don't exercise C4).
func New(store Store, cache Invalidator) *GraphStore {
	if cache == nil {
		cache = noopInvalidator{}
	}
	return &GraphStore{store: store, cache: cache}
}

// SetValidator installs the write-time validator. nil (the default)
// skips validation, for tests that exercise persistence alone.
func (g *GraphStore) SetValidator(v WriteValidator) {
	g.validator = v
}

// deviceModel resolves the device model a tree's commands are validated
// against.
func (g *GraphStore) deviceModel(treeID string) (string, error) {
	tree, err := g.store.LoadTree(treeID)
	if err != nil {
		return "", err
	}
	if tree == nil {
		return "", nil
	}
	return tree.DeviceModel, nil
}

// LoadTree loads a tree directly from the store (a cache miss path; C4's
// Cache.Get is the one that should be called by hot-path readers).
func (g *GraphStore) LoadTree(treeID string) (*Tree, error) {
	return g.store.LoadTree(treeID)
}

// GetTreeByUserInterfaceID resolves a tree for the §6 getTreeByUserInterfaceId RPC.
func (g *GraphStore) GetTreeByUserInterfaceID(uiID string) (*Tree, error) {
	return g.store.GetTreeByUserInterfaceID(uiID)
}

// SaveTree replaces a tree wholesale and invalidates its cache entry.
func (g *GraphStore) SaveTree(tree Tree) error {
	if g.validator != nil {
		for _, node := range tree.Nodes {
			if err := g.validator.ValidateNode(tree.DeviceModel, node); err != nil {
				return err
			}
		}
		for _, edge := range tree.Edges {
			if err := g.validator.ValidateEdge(tree.DeviceModel, edge); err != nil {
				return err
			}
		}
	}
	if err := g.store.SaveTree(tree); err != nil {
		return err
	}
	g.cache.Invalidate(tree.TreeID)
	return nil
}

// SaveNode upserts a node, propagates the parent-node sync rule to any
// child subtrees, and incrementally patches the cache (§4.4b) rather than
// forcing a full rebuild.
func (g *GraphStore) SaveNode(treeID string, node Node) error {
	if g.validator != nil {
		model, err := g.deviceModel(treeID)
		if err != nil {
			return err
		}
		if err := g.validator.ValidateNode(model, node); err != nil {
			return err
		}
	}
	if err := g.store.SaveNode(treeID, node); err != nil {
		return err
	}
	g.cache.PatchNode(treeID, node)
	if err := syncParentNode(g.store, g.cache, treeID, node); err != nil {
		return err
	}
	return nil
}

// SaveEdge upserts an edge and incrementally patches the cache.
func (g *GraphStore) SaveEdge(treeID string, edge Edge) error {
	if g.validator != nil {
		model, err := g.deviceModel(treeID)
		if err != nil {
			return err
		}
		if err := g.validator.ValidateEdge(model, edge); err != nil {
			return err
		}
	}
	if err := g.store.SaveEdge(treeID, edge); err != nil {
		return err
	}
	g.cache.PatchEdge(treeID, edge)
	return nil
}

// DeleteNode removes a node and invalidates the tree's cache entry (a
// removal is not a simple patch, so a full reload is forced on next read).
func (g *GraphStore) DeleteNode(treeID, nodeID string) error {
	if err := g.store.DeleteNode(treeID, nodeID); err != nil {
		return err
	}
	g.cache.Invalidate(treeID)
	return nil
}

// DeleteEdge removes an edge and invalidates the tree's cache entry.
func (g *GraphStore) DeleteEdge(treeID, edgeID string) error {
	if err := g.store.DeleteEdge(treeID, edgeID); err != nil {
		return err
	}
	g.cache.Invalidate(treeID)
	return nil
}

// LinkSubtree records a parent-node back-reference for sync resolution.
func (g *GraphStore) LinkSubtree(treeID, parentNodeID, childTreeID, childRootID string) error {
	return g.store.LinkSubtree(treeID, parentNodeID, childTreeID, childRootID)
}
