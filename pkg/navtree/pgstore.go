package navtree

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

// PGStore is the production Store backend: Postgres, per §6's "unique
// (tree_id, node_id) on nodes; unique (tree_id, edge_id) on edges"
// database invariants. Nodes and edges are stored with their variable
// substructure (verifications, action_sets, params) as jsonb columns —
// the relational schema enforces identity and scoping, the jsonb payload
// carries the rest, mirroring how the teacher's CONFIG_DB/STATE_DB tables
// keep a typed key and an opaque value blob.
type PGStore struct {
	db *sql.DB
}

// OpenPG opens (and migrates) a Postgres-backed navigation graph store.
func OpenPG(dsn string) (*PGStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("navtree: opening postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("navtree: pinging postgres: %w", err)
	}
	s := &PGStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PGStore) migrate() error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("navtree: migrate: %w", err)
		}
	}
	return nil
}

func (s *PGStore) LoadTree(treeID string) (*Tree, error) {
	var t Tree
	row := s.db.QueryRow(`SELECT tree_id, userinterface_id, userinterface_name, name, device_model FROM trees WHERE tree_id = $1`, treeID)
	if err := row.Scan(&t.TreeID, &t.UserInterfaceID, &t.UserInterfaceName, &t.Name, &t.DeviceModel); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("navtree: load tree %q: %w", treeID, err)
	}
	t.Nodes = make(map[string]Node)
	t.Edges = make(map[string]Edge)

	nodeRows, err := s.db.Query(`SELECT node_id, payload FROM nodes WHERE tree_id = $1`, treeID)
	if err != nil {
		return nil, fmt.Errorf("navtree: load nodes: %w", err)
	}
	defer nodeRows.Close()
	for nodeRows.Next() {
		var id string
		var payload []byte
		if err := nodeRows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var n Node
		if err := json.Unmarshal(payload, &n); err != nil {
			return nil, fmt.Errorf("navtree: decode node %q: %w", id, err)
		}
		t.Nodes[id] = n
	}

	edgeRows, err := s.db.Query(`SELECT edge_id, payload FROM edges WHERE tree_id = $1`, treeID)
	if err != nil {
		return nil, fmt.Errorf("navtree: load edges: %w", err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var id string
		var payload []byte
		if err := edgeRows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var e Edge
		if err := json.Unmarshal(payload, &e); err != nil {
			return nil, fmt.Errorf("navtree: decode edge %q: %w", id, err)
		}
		t.Edges[id] = e
	}
	return &t, nil
}

func (s *PGStore) GetTreeByUserInterfaceID(uiID string) (*Tree, error) {
	var treeID string
	row := s.db.QueryRow(`SELECT tree_id FROM trees WHERE userinterface_id = $1`, uiID)
	if err := row.Scan(&treeID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("navtree: lookup by userinterface %q: %w", uiID, err)
	}
	return s.LoadTree(treeID)
}

func (s *PGStore) SaveTree(tree Tree) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO trees (tree_id, userinterface_id, userinterface_name, name, device_model)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (tree_id) DO UPDATE SET
			userinterface_id=$2, userinterface_name=$3, name=$4, device_model=$5
	`, tree.TreeID, tree.UserInterfaceID, tree.UserInterfaceName, tree.Name, tree.DeviceModel); err != nil {
		return fmt.Errorf("navtree: save tree row: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM nodes WHERE tree_id = $1`, tree.TreeID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM edges WHERE tree_id = $1`, tree.TreeID); err != nil {
		return err
	}
	for id, n := range tree.Nodes {
		payload, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO nodes (tree_id, node_id, payload) VALUES ($1,$2,$3)`, tree.TreeID, id, payload); err != nil {
			return fmt.Errorf("navtree: save node %q: %w", id, err)
		}
	}
	for id, e := range tree.Edges {
		payload, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO edges (tree_id, edge_id, payload) VALUES ($1,$2,$3)`, tree.TreeID, id, payload); err != nil {
			return fmt.Errorf("navtree: save edge %q: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *PGStore) SaveNode(treeID string, node Node) error {
	payload, err := json.Marshal(node)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO nodes (tree_id, node_id, payload) VALUES ($1,$2,$3)
		ON CONFLICT (tree_id, node_id) DO UPDATE SET payload = $3
	`, treeID, node.NodeID, payload)
	if err != nil {
		return fmt.Errorf("navtree: save node %q: %w", node.NodeID, err)
	}
	return nil
}

func (s *PGStore) SaveEdge(treeID string, edge Edge) error {
	payload, err := json.Marshal(edge)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO edges (tree_id, edge_id, payload) VALUES ($1,$2,$3)
		ON CONFLICT (tree_id, edge_id) DO UPDATE SET payload = $3
	`, treeID, edge.EdgeID, payload)
	if err != nil {
		return fmt.Errorf("navtree: save edge %q: %w", edge.EdgeID, err)
	}
	return nil
}

func (s *PGStore) DeleteNode(treeID, nodeID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM nodes WHERE tree_id=$1 AND node_id=$2`, treeID, nodeID); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		DELETE FROM edges WHERE tree_id=$1 AND payload->>'source_node_id'=$2
	`, treeID, nodeID); err != nil {
		return err
	}
	if _, err := tx.Exec(`
		DELETE FROM edges WHERE tree_id=$1 AND payload->>'target_node_id'=$2
	`, treeID, nodeID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PGStore) DeleteEdge(treeID, edgeID string) error {
	_, err := s.db.Exec(`DELETE FROM edges WHERE tree_id=$1 AND edge_id=$2`, treeID, edgeID)
	return err
}

func (s *PGStore) LinkSubtree(treeID, parentNodeID, childTreeID, childRootID string) error {
	_, err := s.db.Exec(`
		INSERT INTO subtree_links (parent_tree_id, parent_node_id, child_tree_id, child_root_id)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (parent_tree_id, parent_node_id, child_tree_id) DO UPDATE SET child_root_id=$4
	`, treeID, parentNodeID, childTreeID, childRootID)
	return err
}

func (s *PGStore) ChildSubtreesOf(treeID, parentNodeID string) ([]SubtreeLink, error) {
	rows, err := s.db.Query(`
		SELECT child_tree_id, child_root_id FROM subtree_links
		WHERE parent_tree_id=$1 AND parent_node_id=$2
	`, treeID, parentNodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SubtreeLink
	for rows.Next() {
		var link SubtreeLink
		link.ParentTreeID = treeID
		link.ParentNodeID = parentNodeID
		if err := rows.Scan(&link.ChildTreeID, &link.ChildRootID); err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, nil
}

func (s *PGStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection so cmd/fleetd can build a
// PGPhraseStore (or other Postgres-backed collaborators) against the same
// pool rather than opening a second one.
func (s *PGStore) DB() *sql.DB {
	return s.db
}
