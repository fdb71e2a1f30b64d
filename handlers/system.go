package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/johnwmail/quickbin/internal/expiry"
)

const serviceName = "quickbin"

// healthTimeout bounds the store probe behind /health.
const healthTimeout = 2 * time.Second

// Counter is the part of a store the health check probes.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// SystemHandler handles system endpoints
type SystemHandler struct {
	store       Counter
	storageType string
	version     string
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(store Counter, storageType, version string) *SystemHandler {
	return &SystemHandler{
		store:       store,
		storageType: storageType,
		version:     version,
	}
}

// Health handles health check via GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	body := gin.H{
		"status":  "ok",
		"service": serviceName,
		"storage": h.storageType,
	}
	if _, err := h.store.Count(ctx); err != nil {
		_ = c.Error(err)
		body["status"] = "unavailable"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}

// Index handles GET /
func (h *SystemHandler) Index(c *gin.Context) {
	respondOK(c, gin.H{
		"name":    serviceName,
		"version": h.version,
	})
}

// ExpiryOptions handles GET /api/v1/expiry-options
func (h *SystemHandler) ExpiryOptions(c *gin.Context) {
	respondOK(c, gin.H{
		"default": expiry.DefaultToken,
		"options": expiry.Options(),
	})
}
