package navtree

import "reflect"

// applySyncedFields returns dst with the fields propagated by the
// parent-node sync rule (§4.3) overwritten from src. Position is
// deliberately excluded — it is rendering-only and must never propagate.
func applySyncedFields(dst Node, src Node) Node {
	dst.Label = src.Label
	dst.Data = src.Data
	dst.Verifications = src.Verifications
	dst.Type = src.Type
	dst.Style = src.Style
	return dst
}

// syncParentNode propagates node's synced fields to the root node of every
// child subtree linked to it, per §4.3. Propagation is single-hop only
// (Open Question #2 — resolved against recursion): it updates immediate
// child subtree roots and does not cascade into grandchild subtrees. It is
// at-least-once and idempotent, since re-applying identical fields to an
// already-synced child is a no-op write.
func syncParentNode(store Store, cache Invalidator, treeID string, node Node) error {
	links, err := store.ChildSubtreesOf(treeID, node.NodeID)
	if err != nil {
		return err
	}
	for _, link := range links {
		child, err := store.LoadTree(link.ChildTreeID)
		if err != nil {
			return err
		}
		if child == nil {
			continue
		}
		root, ok := child.Nodes[link.ChildRootID]
		if !ok {
			continue
		}
		synced := applySyncedFields(root, node)
		if reflect.DeepEqual(synced, root) {
			continue
		}
		if err := store.SaveNode(link.ChildTreeID, synced); err != nil {
			return err
		}
		cache.PatchNode(link.ChildTreeID, synced)
		// TODO(subtree-recursion): grandchild subtrees are not updated here;
		// the spec's single-hop resolution leaves that to a future revision.
	}
	return nil
}
