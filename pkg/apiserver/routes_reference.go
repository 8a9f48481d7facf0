package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type saveReferenceRequest struct {
	InterfaceName  string        `json:"interface_name" binding:"required"`
	Name           string        `json:"name" binding:"required"`
	Type           string        `json:"type" binding:"required"`
	Area           ReferenceArea `json:"area"`
	Text           string        `json:"text"`
	SourceImageURL string        `json:"source_image_url"`
	Team           string        `json:"team"`
	Language       string        `json:"language"`
}

// saveReference serves the §6 [EXPANSION] reference/save RPC. Every
// request is saved synchronously through SaveText as a text reference:
// the type and source_image_url fields are not consulted, so this route
// never creates an image reference (saveImage is exposed through
// pkg/reference directly by the tree editor's own write path, not proxied
// here).
func (s *server) saveReference(c *gin.Context) {
	if s.deps.References == nil {
		unavailable(c, "reference store")
		return
	}
	var req saveReferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	ref, err := s.deps.References.SaveText(req.Team, req.InterfaceName, req.Name, req.Area, req.Text, req.Language)
	if err != nil {
		writeAPIError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "reference": ref})
}

// listReferences serves the §6 [EXPANSION] reference/list RPC.
func (s *server) listReferences(c *gin.Context) {
	if s.deps.References == nil {
		unavailable(c, "reference store")
		return
	}
	interfaceName := c.Param("interface_name")
	team := c.Query("team")
	refs, err := s.deps.References.List(team, interfaceName)
	if err != nil {
		writeAPIError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "references": refs})
}
