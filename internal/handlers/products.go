package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
)

// ListProducts handles GET /api/v1/products. Only approved listings.
func (h *Handlers) ListProducts(c *gin.Context) {
	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}
	products, err := h.catalog.ListApproved(c.Request.Context(), limit, offset)
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

// ListMyProducts handles GET /api/v1/products/mine
func (h *Handlers) ListMyProducts(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}
	products, err := h.catalog.ListMine(c.Request.Context(), id, limit, offset)
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

// GetProduct handles GET /api/v1/products/:id
func (h *Handlers) GetProduct(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id, c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, product)
}

// SubmitProduct handles POST /api/v1/products
func (h *Handlers) SubmitProduct(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	var req models.SubmitProductRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.catalog.SubmitProduct(c.Request.Context(), id, &req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, product)
}

// EditProduct handles PATCH /api/v1/products/:id
func (h *Handlers) EditProduct(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	var req models.EditProductRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.catalog.EditOwnProduct(c.Request.Context(), id, c.Param("id"), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, product)
}
