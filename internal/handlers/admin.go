package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
)

// ListPendingProducts handles GET /api/v1/admin/products/pending
func (h *Handlers) ListPendingProducts(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}
	products, err := h.catalog.ListPending(c.Request.Context(), id, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"products": products,
		"limit":    limit,
		"offset":   offset,
	})
}

// ApproveProduct handles POST /api/v1/admin/products/:id/approve
func (h *Handlers) ApproveProduct(c *gin.Context) {
	h.moderate(c, models.ModerationApprove)
}

// RejectProduct handles POST /api/v1/admin/products/:id/reject
func (h *Handlers) RejectProduct(c *gin.Context) {
	h.moderate(c, models.ModerationReject)
}

func (h *Handlers) moderate(c *gin.Context, action models.ModerationAction) {
	id, ok := identity(c)
	if !ok {
		return
	}

	req := models.ModerateProductRequest{Action: action}
	if action == models.ModerationReject && !bindJSON(c, &req) {
		return
	}
	req.Action = action

	product, err := h.catalog.ModerateProduct(c.Request.Context(), id, c.Param("id"), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, product)
}

// Stats handles GET /api/v1/admin/stats
func (h *Handlers) Stats(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	stats, err := h.admin.Stats(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, stats)
}
