package apiserver

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fleetlab/fleetlab/pkg/audit"
	"github.com/fleetlab/fleetlab/pkg/navtree"
	"github.com/fleetlab/fleetlab/pkg/util"
)

// getTreeByUserInterfaceID serves §6's getTreeByUserInterfaceId RPC.
func (s *server) getTreeByUserInterfaceID(c *gin.Context) {
	if s.deps.Trees == nil {
		unavailable(c, "navigation graph store")
		return
	}
	uiID := c.Param("ui_id")
	tree, err := s.deps.Trees.GetTreeByUserInterfaceID(uiID)
	if err != nil {
		writeAPIError(c, http.StatusInternalServerError, err)
		return
	}
	if tree == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "tree not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "tree": tree})
}

type saveTreeRequest struct {
	Name              string         `json:"name"`
	UserInterfaceID   string         `json:"userinterface_id" binding:"required"`
	TreeData          navtree.Tree   `json:"tree_data" binding:"required"`
	ModificationType  string         `json:"modification_type"`
	ChangesSummary    string         `json:"changes_summary"`
}

// saveTree serves §6's saveTree RPC: a wholesale tree replacement.
func (s *server) saveTree(c *gin.Context) {
	if s.deps.Trees == nil {
		unavailable(c, "navigation graph store")
		return
	}
	var req saveTreeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	tree := req.TreeData
	tree.UserInterfaceID = req.UserInterfaceID
	if req.Name != "" {
		tree.Name = req.Name
	}
	if err := s.deps.Trees.SaveTree(tree); err != nil {
		// Validator rejections are the caller's fault (§7 Validation class).
		status := http.StatusInternalServerError
		var vErr *util.ValidationError
		var aErr *util.APIError
		if errors.As(err, &vErr) || errors.As(err, &aErr) {
			status = http.StatusBadRequest
		}
		writeAPIError(c, status, err)
		return
	}
	_ = audit.Log(audit.NewEvent("", "", string(audit.EventTypeSaveTree)).WithTree(tree.TreeID).WithSuccess())
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type updateNodeCacheRequest struct {
	TreeID string       `json:"tree_id" binding:"required"`
	Node   navtree.Node `json:"node" binding:"required"`
}

// updateNodeCache serves §6's cache/update-node RPC: an incremental patch
// of a single node, never a full rebuild (§4.4).
func (s *server) updateNodeCache(c *gin.Context) {
	if s.deps.Cache == nil {
		unavailable(c, "navigation cache")
		return
	}
	var req updateNodeCacheRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	s.deps.Cache.PatchNode(req.TreeID, req.Node)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type resolvePhraseRequest struct {
	Team          string `json:"team" binding:"required"`
	UserInterface string `json:"userinterface" binding:"required"`
	Phrase        string `json:"phrase" binding:"required"`
}

// resolvePhrase serves the §6 [EXPANSION] resolvePhrase RPC, letting a
// script step name a screen by free-text phrase instead of node_id.
func (s *server) resolvePhrase(c *gin.Context) {
	if s.deps.Phrases == nil {
		unavailable(c, "phrase resolver")
		return
	}
	var req resolvePhraseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	target, err := s.deps.Phrases.ResolvePhrase(req.Team, req.UserInterface, req.Phrase)
	if err != nil {
		writeAPIError(c, http.StatusInternalServerError, err)
		return
	}
	if target == nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no mapping for phrase"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "target": target})
}

type findPathRequest struct {
	TreeID     string `json:"tree_id" binding:"required"`
	FromNodeID string `json:"from_node_id" binding:"required"`
	ToNodeID   string `json:"to_node_id" binding:"required"`
}

// findPath resolves a planned (from, to) hop into the ordered edge /
// action-set sequence fleetscript should dispatch (§4.5). no_path is a
// semantic error surfaced without retry (§7).
func (s *server) findPath(c *gin.Context) {
	if s.deps.Paths == nil {
		unavailable(c, "pathfinder")
		return
	}
	var req findPathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	path, err := s.deps.Paths.Find(req.TreeID, req.FromNodeID, req.ToNodeID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, util.ErrNoPath) || errors.Is(err, util.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeAPIError(c, status, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "path": path})
}

// listCommands serves the Command Registry catalog for a device model, the
// same list the validator embeds into rejection errors (§4.6).
func (s *server) listCommands(c *gin.Context) {
	if s.deps.Commands == nil {
		unavailable(c, "command registry")
		return
	}
	specs, err := s.deps.Commands.List(c.Param("device_model"))
	if err != nil {
		writeAPIError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "commands": specs})
}
