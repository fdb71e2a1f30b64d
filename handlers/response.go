package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/johnwmail/quickbin/internal/services"
	"github.com/johnwmail/quickbin/models"
)

// Client-facing error messages.
const (
	MsgInvalidBody      = "Invalid request body"
	MsgSnippetNotFound  = "Snippet not found"
	MsgUnavailable      = "Service temporarily unavailable"
	MsgInternal         = "Internal server error"
	MsgTooManyRequests  = "Too many requests"
	MsgResourceNotFound = "Resource not found"
)

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, models.OK(http.StatusOK, data))
}

// respondFail writes the error envelope and aborts the handler chain.
func respondFail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, models.Fail(msg))
}

// respondError maps service errors onto HTTP statuses. Only validation
// messages reach the client verbatim.
func respondError(c *gin.Context, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		respondFail(c, http.StatusBadRequest, verr.Message)
	case errors.Is(err, services.ErrNotFound):
		respondFail(c, http.StatusNotFound, MsgSnippetNotFound)
	case errors.Is(err, services.ErrUnavailable):
		c.Header("Retry-After", "1")
		respondFail(c, http.StatusServiceUnavailable, MsgUnavailable)
	default:
		_ = c.Error(err)
		respondFail(c, http.StatusInternalServerError, MsgInternal)
	}
}
