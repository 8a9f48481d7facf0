package apiserver

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type restartBatchRequest struct {
	HostName       string         `json:"host_name"`
	ContentBlocks  map[string]any `json:"content_blocks" binding:"required"`
	TargetLanguage string         `json:"target_language" binding:"required"`
}

// restartBatch serves §6's translate/restart-batch RPC.
func (s *server) restartBatch(c *gin.Context) {
	if s.deps.Translator == nil {
		unavailable(c, "translator")
		return
	}
	var req restartBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	translations, err := s.deps.Translator.RestartBatch(c.Request.Context(), req.HostName, req.ContentBlocks, req.TargetLanguage)
	if err != nil {
		writeAPIError(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "translations": translations})
}
