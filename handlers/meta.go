package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/johnwmail/quickbin/internal/idgen"
	"github.com/johnwmail/quickbin/internal/services"
)

// MetaHandler handles metadata operations
type MetaHandler struct {
	service *services.SnippetService
}

// NewMetaHandler creates a new metadata handler
func NewMetaHandler(service *services.SnippetService) *MetaHandler {
	return &MetaHandler{
		service: service,
	}
}

// GetMetadata handles metadata retrieval via GET /api/v1/meta/:id.
// The content itself is never included.
func (h *MetaHandler) GetMetadata(c *gin.Context) {
	id := c.Param("id")
	if !idgen.IsValid(id) {
		respondFail(c, http.StatusNotFound, MsgSnippetNotFound)
		return
	}

	meta, err := h.service.Metadata(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, meta)
}
