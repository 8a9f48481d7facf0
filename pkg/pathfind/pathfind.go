// Package pathfind is the Pathfinder (C5): weighted shortest-path search
// over a cached, fully-resolved navigation tree, including subtree
// entry/exit. No corpus repo ships a generic graph/shortest-path library,
// so this is plain Go over container/heap — the one core algorithm left on
// the standard library, since it is bespoke domain logic rather than an
// ambient concern (see DESIGN.md).
package pathfind

import (
	"container/heap"
	"fmt"

	"github.com/fleetlab/fleetlab/pkg/navtree"
	"github.com/fleetlab/fleetlab/pkg/util"
)

// TreeLoader resolves a tree_id to a fully-resolved snapshot. pkg/navcache
// implements it; the search always runs against a snapshot returned by a
// single Get call, so a concurrent cache update mid-search cannot perturb
// the result (§4.5).
type TreeLoader interface {
	Get(treeID string) (*navtree.Tree, error)
}

// Hop is one step of a computed path: the edge traversed and the action
// set chosen for it.
type Hop struct {
	TreeID     string
	Edge       navtree.Edge
	ActionSet  navtree.ActionSet
}

// Path is an ordered sequence of hops plus the terminal node's verifications.
type Path struct {
	Hops                []Hop
	TerminalNode        navtree.Node
	TerminalVerifications []navtree.Verification
}

// Finder computes shortest paths over trees resolved through a TreeLoader.
type Finder struct {
	loader TreeLoader
}

// New creates a Finder over the given tree loader (typically *navcache.Cache).
func New(loader TreeLoader) *Finder {
	return &Finder{loader: loader}
}

// Find computes the shortest path from fromNodeID to toNodeID within
// treeID, descending into subtrees as needed. Edge weight is
// len(action_set.actions) + len(retry_actions)*0.5 + final_wait_ms/1000,
// with ties broken by the edge's default_action_set_id (§4.5). Returns
// util.ErrNoPath if no walk exists.
func (f *Finder) Find(treeID, fromNodeID, toNodeID string) (*Path, error) {
	tree, err := f.loader.Get(treeID)
	if err != nil {
		return nil, fmt.Errorf("pathfind: loading tree %q: %w", treeID, err)
	}

	// If the destination lives in a subtree, resolve the outer hop to the
	// subtree's parent node first, then recurse into the subtree (§4.5).
	if _, ok := tree.Nodes[toNodeID]; !ok {
		for _, n := range tree.Nodes {
			if n.SubtreeRef == nil {
				continue
			}
			sub, err := f.loader.Get(n.SubtreeRef.TreeID)
			if err != nil {
				return nil, err
			}
			if sub == nil {
				continue
			}
			if _, ok := sub.Nodes[toNodeID]; !ok {
				continue
			}
			outer, err := f.search(tree, fromNodeID, n.NodeID)
			if err != nil {
				return nil, err
			}
			root, ok := sub.Root()
			if !ok {
				return nil, fmt.Errorf("pathfind: subtree %q has no root", n.SubtreeRef.TreeID)
			}
			inner, err := f.search(sub, root.NodeID, toNodeID)
			if err != nil {
				return nil, err
			}
			hops := append(outer.Hops, inner.Hops...)
			return &Path{Hops: hops, TerminalNode: inner.TerminalNode, TerminalVerifications: inner.TerminalNode.Verifications}, nil
		}
		return nil, util.ErrNoPath
	}

	return f.search(tree, fromNodeID, toNodeID)
}

// pqItem is one entry in the search priority queue.
type pqItem struct {
	nodeID string
	dist   float64
	index  int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool { return pq[i].dist < pq[j].dist }
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}
func (pq *priorityQueue) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

// search runs Dijkstra from fromNodeID to toNodeID within a single tree
// (no subtree descent — that is handled by Find). Cycles are permitted in
// the graph but the search never revisits an edge within a single search,
// which Dijkstra's finalized-distance property already guarantees.
func (f *Finder) search(tree *navtree.Tree, fromNodeID, toNodeID string) (*Path, error) {
	if fromNodeID == toNodeID {
		node := tree.Nodes[toNodeID]
		return &Path{TerminalNode: node, TerminalVerifications: node.Verifications}, nil
	}

	dist := map[string]float64{fromNodeID: 0}
	prevEdge := map[string]navtree.Edge{}
	prevSet := map[string]navtree.ActionSet{}
	visited := map[string]bool{}

	pq := &priorityQueue{{nodeID: fromNodeID, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*pqItem)
		if visited[cur.nodeID] {
			continue
		}
		visited[cur.nodeID] = true
		if cur.nodeID == toNodeID {
			break
		}

		for _, e := range tree.EdgesFrom(cur.nodeID) {
			as, ok := e.DefaultSet()
			if !ok && len(e.ActionSets) > 0 {
				as = e.ActionSets[0]
			}
			w := as.Weight() + float64(e.FinalWaitMS)/1000.0
			nd := cur.dist + w
			existing, seen := dist[e.TargetNodeID]

			// Equal-weight candidates are broken by default_action_set_id
			// (§4.5, Testable Property 5) rather than left to whichever
			// edge EdgesFrom happens to enumerate first, so two
			// competing equal-cost paths resolve the same way on every
			// run.
			relax := !seen || nd < existing
			if !relax && seen && nd == existing {
				relax = e.DefaultActionSet < prevEdge[e.TargetNodeID].DefaultActionSet
			}
			if relax {
				dist[e.TargetNodeID] = nd
				prevEdge[e.TargetNodeID] = e
				prevSet[e.TargetNodeID] = as
				heap.Push(pq, &pqItem{nodeID: e.TargetNodeID, dist: nd})
			}
		}
	}

	if _, ok := dist[toNodeID]; !ok {
		return nil, util.ErrNoPath
	}

	// Walk back from toNodeID to fromNodeID via prevEdge, then reverse.
	var hops []Hop
	node := toNodeID
	for node != fromNodeID {
		edge, ok := prevEdge[node]
		if !ok {
			return nil, util.ErrNoPath
		}
		hops = append(hops, Hop{TreeID: tree.TreeID, Edge: edge, ActionSet: prevSet[node]})
		node = edge.SourceNodeID
	}
	for i, j := 0, len(hops)-1; i < j; i, j = i+1, j-1 {
		hops[i], hops[j] = hops[j], hops[i]
	}

	terminal := tree.Nodes[toNodeID]
	return &Path{Hops: hops, TerminalNode: terminal, TerminalVerifications: terminal.Verifications}, nil
}
