// Package navcache is the Navigation Cache (C4): a process-wide,
// tree_id-keyed cache of fully-resolved navigation trees with a 24h TTL,
// incremental node/edge patching, and a Redis-backed mirror for
// cross-process sharing — the same keyed-hash idiom the teacher uses for
// SONiC's APPL_DB/CONFIG_DB Redis access, generalized from per-field HSET
// to a whole-tree JSON blob per key.
package navcache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fleetlab/fleetlab/pkg/navtree"
	"github.com/fleetlab/fleetlab/pkg/util"
)

// DefaultTTL is the cache entry lifetime per §4.4.
const DefaultTTL = 24 * time.Hour

// Loader loads a tree from the Navigation Graph Store on a cache miss.
type Loader interface {
	LoadTree(treeID string) (*navtree.Tree, error)
}

type entry struct {
	tree    *navtree.Tree
	loadsAt time.Time
	mu      sync.Mutex // serializes writers for this tree; readers use the map's RWMutex
}

// Cache is the Navigation Cache. It implements navtree.Invalidator so the
// GraphStore can call it directly on every write.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	loader  Loader
	redis   *redis.Client
	ttl     time.Duration
}

// New creates a Cache over loader (the Navigation Graph Store) with an
// optional Redis mirror. redisClient may be nil for single-process tests.
func New(loader Loader, redisClient *redis.Client) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		loader:  loader,
		redis:   redisClient,
		ttl:     DefaultTTL,
	}
}

func redisKey(treeID string) string { return "navcache:tree:" + treeID }

// Get returns the fully-resolved tree for treeID, loading it from the
// store on a miss. references and command specs are expected to already be
// inlined into the Node/Edge structs by the loader, so downstream
// consumers (Pathfinder, Script Executor) perform no joins.
func (c *Cache) Get(treeID string) (*navtree.Tree, error) {
	c.mu.RLock()
	e, ok := c.entries[treeID]
	c.mu.RUnlock()

	if ok {
		e.mu.Lock()
		fresh := e.tree != nil && time.Since(e.loadsAt) < c.ttl
		var tree *navtree.Tree
		if fresh {
			tree = e.tree
		}
		e.mu.Unlock()
		if fresh {
			return tree, nil
		}
	}
	return c.load(treeID)
}

// load performs a full reload from Redis (if configured) or the store,
// serialized per tree so concurrent misses don't race on the write.
func (c *Cache) load(treeID string) (*navtree.Tree, error) {
	c.mu.Lock()
	e, ok := c.entries[treeID]
	if !ok {
		e = &entry{}
		c.entries[treeID] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tree != nil && time.Since(e.loadsAt) < c.ttl {
		return e.tree, nil
	}

	if tree := c.getFromRedis(treeID); tree != nil {
		e.tree = tree
		e.loadsAt = time.Now()
		return tree, nil
	}

	tree, err := c.loader.LoadTree(treeID)
	if err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, util.ErrNotFound
	}
	e.tree = tree
	e.loadsAt = time.Now()
	c.setRedis(treeID, tree)
	return tree, nil
}

func (c *Cache) getFromRedis(treeID string) *navtree.Tree {
	if c.redis == nil {
		return nil
	}
	data, err := c.redis.Get(context.Background(), redisKey(treeID)).Bytes()
	if err != nil {
		return nil
	}
	var tree navtree.Tree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil
	}
	return &tree
}

func (c *Cache) setRedis(treeID string, tree *navtree.Tree) {
	if c.redis == nil {
		return
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return
	}
	c.redis.Set(context.Background(), redisKey(treeID), data, c.ttl)
}

// Invalidate clears treeID's entry (path a: full write invalidation). The
// next Get triggers a full reload from the store.
func (c *Cache) Invalidate(treeID string) {
	c.mu.Lock()
	delete(c.entries, treeID)
	c.mu.Unlock()
	if c.redis != nil {
		c.redis.Del(context.Background(), redisKey(treeID))
	}
}

// PatchNode performs an incremental patch of a single node (path b, §4.4):
// no full rebuild. If the tree isn't cached yet, this is a no-op — the
// next Get will load it fresh, which already reflects the write.
func (c *Cache) PatchNode(treeID string, node navtree.Node) {
	c.mu.RLock()
	e, ok := c.entries[treeID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tree == nil {
		return
	}
	clone := *e.tree
	clone.Nodes = cloneNodes(e.tree.Nodes)
	clone.Nodes[node.NodeID] = node
	e.tree = &clone
	c.setRedis(treeID, e.tree)
}

// PatchEdge performs an incremental patch of a single edge.
func (c *Cache) PatchEdge(treeID string, edge navtree.Edge) {
	c.mu.RLock()
	e, ok := c.entries[treeID]
	c.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tree == nil {
		return
	}
	clone := *e.tree
	clone.Edges = cloneEdges(e.tree.Edges)
	clone.Edges[edge.EdgeID] = edge
	e.tree = &clone
	c.setRedis(treeID, e.tree)
}

// Flush clears every cached entry (manual flush, path c).
func (c *Cache) Flush() {
	c.mu.Lock()
	c.entries = make(map[string]*entry)
	c.mu.Unlock()
}

func cloneNodes(m map[string]navtree.Node) map[string]navtree.Node {
	out := make(map[string]navtree.Node, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneEdges(m map[string]navtree.Edge) map[string]navtree.Edge {
	out := make(map[string]navtree.Edge, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
