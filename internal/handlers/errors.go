package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/auth"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
)

// handleError is the single place service errors become HTTP responses.
// Unexpected errors are logged and reported without detail.
func (h *Handlers) handleError(c *gin.Context, err error) {
	if ve, ok := apperrors.AsValidation(err); ok {
		body := gin.H{"error": ve.Message}
		if ve.Field != "" {
			body["field"] = ve.Field
		}
		if len(ve.Details) > 0 {
			body["details"] = ve.Details
		}
		c.JSON(http.StatusBadRequest, body)
		return
	}

	var nf *apperrors.NotFoundError
	switch {
	case errors.As(err, &nf):
		c.JSON(http.StatusNotFound, gin.H{"error": nf.Error()})
	case errors.Is(err, apperrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, apperrors.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	case errors.Is(err, apperrors.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, apperrors.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "resource was modified concurrently"})
	default:
		if ee, ok := apperrors.AsExternal(err); ok {
			h.logger.Error("Dependency failure", logging.Fields{
				"dependency": ee.Dependency,
				"error":      ee.Err.Error(),
				"path":       c.FullPath(),
			})
			c.JSON(http.StatusBadGateway, gin.H{"error": ee.Dependency + " unavailable"})
			return
		}
		h.logger.Error("Unhandled error", logging.Fields{
			"error":      err.Error(),
			"path":       c.FullPath(),
			"request_id": logging.RequestID(c.Request.Context()),
		})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// bindJSON decodes the body and writes a 400 on failure.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return false
	}
	return true
}

// identity returns the caller set by auth.Middleware.
func identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := auth.FromGin(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	}
	return id, ok
}

// pageParams reads limit and offset, writing a 400 when either is not an
// integer.
func pageParams(c *gin.Context) (int, int, bool) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})
		return 0, 0, false
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset parameter"})
		return 0, 0, false
	}
	return limit, offset, true
}
