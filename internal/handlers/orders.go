package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
)

// Checkout handles POST /api/v1/checkout
func (h *Handlers) Checkout(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	var req models.CheckoutRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.checkout.Checkout(c.Request.Context(), id, &req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// GetOrder handles GET /api/v1/orders/:id
func (h *Handlers) GetOrder(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), id, c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// ListOrders handles GET /api/v1/orders
func (h *Handlers) ListOrders(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	var status *models.OrderStatus
	if s := c.Query("status"); s != "" {
		st := models.OrderStatus(s)
		status = &st
	}

	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}
	orders, err := h.orders.ListOrders(c.Request.Context(), id, status, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"limit":  limit,
		"offset": offset,
	})
}

// CancelOrder handles POST /api/v1/orders/:id/cancel
func (h *Handlers) CancelOrder(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), id, c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}
