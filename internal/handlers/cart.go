package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
)

type cartItemResponse struct {
	models.CartItem
	Subtotal decimal.Decimal `json:"subtotal"`
}

type cartBody struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	Items     []cartItemResponse `json:"items"`
	Total     decimal.Decimal    `json:"total"`
	ItemCount int                `json:"item_count"`
}

// toCartBody adds the live totals the client renders.
func toCartBody(cart *models.Cart) cartBody {
	items := make([]cartItemResponse, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemResponse{CartItem: item, Subtotal: item.Subtotal()})
	}
	return cartBody{
		ID:        cart.ID,
		UserID:    cart.UserID,
		Items:     items,
		Total:     cart.Total(),
		ItemCount: cart.ItemCount(),
	}
}

// GetCart handles GET /api/v1/cart
func (h *Handlers) GetCart(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	cart, err := h.cart.GetCart(c.Request.Context(), id)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, toCartBody(cart))
}

// AddCartItem handles POST /api/v1/cart/items
func (h *Handlers) AddCartItem(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	var req models.AddCartItemRequest
	if !bindJSON(c, &req) {
		return
	}

	cart, err := h.cart.AddItem(c.Request.Context(), id, &req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toCartBody(cart))
}

// UpdateCartItem handles PATCH /api/v1/cart/items/:id
func (h *Handlers) UpdateCartItem(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	var req models.UpdateCartItemRequest
	if !bindJSON(c, &req) {
		return
	}

	cart, err := h.cart.UpdateItem(c.Request.Context(), id, c.Param("id"), &req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, toCartBody(cart))
}

// RemoveCartItem handles DELETE /api/v1/cart/items/:id
func (h *Handlers) RemoveCartItem(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	cart, err := h.cart.RemoveItem(c.Request.Context(), id, c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, toCartBody(cart))
}

// ClearCart handles DELETE /api/v1/cart
func (h *Handlers) ClearCart(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	if err := h.cart.Clear(c.Request.Context(), id); err != nil {
		h.handleError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
