package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/johnwmail/quickbin/internal/idgen"
	"github.com/johnwmail/quickbin/internal/services"
	"github.com/johnwmail/quickbin/models"
)

// DefaultMaxBodyBytes caps POST /snippets bodies when no limit is configured.
// A maximal snippet written entirely as escaped surrogate pairs takes
// 12 bytes per character, about 600 KB.
const DefaultMaxBodyBytes = 1 << 20

// SnippetHandler serves the snippet create and read endpoints.
type SnippetHandler struct {
	service      *services.SnippetService
	maxBodyBytes int64
}

// NewSnippetHandler creates a new snippet handler
func NewSnippetHandler(service *services.SnippetService, maxBodyBytes int64) *SnippetHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &SnippetHandler{
		service:      service,
		maxBodyBytes: maxBodyBytes,
	}
}

// Create handles POST /snippets
func (h *SnippetHandler) Create(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)

	var req models.CreateSnippetRequest
	if err := decodeStrict(c.Request.Body, &req); err != nil {
		respondFail(c, http.StatusBadRequest, MsgInvalidBody)
		return
	}

	snippet, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, snippet)
}

// decodeStrict decodes exactly one JSON value; anything after it is an error.
func decodeStrict(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// Get handles GET /snippets/:id
func (h *SnippetHandler) Get(c *gin.Context) {
	id := c.Param("id")
	// malformed ids can never exist, so they get the same answer as unknown ones
	if !idgen.IsValid(id) {
		respondFail(c, http.StatusNotFound, MsgSnippetNotFound)
		return
	}

	snippet, err := h.service.Read(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, snippet)
}
