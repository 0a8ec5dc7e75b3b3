package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/auth"
)

// RegisterRoutes mounts the API under r. Everything except the product
// catalog listing and the gateway callback requires a bearer token.
func (h *Handlers) RegisterRoutes(r gin.IRouter, verifier *auth.Verifier) {
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/live", h.Live)

	v1 := r.Group("/api/v1")
	v1.GET("/products", h.ListProducts)
	v1.POST("/payments/callback", h.PaymentCallback)

	authed := v1.Group("", auth.Middleware(verifier, h.logger))
	{
		authed.GET("/products/mine", h.ListMyProducts)
		authed.GET("/products/:id", h.GetProduct)
		authed.POST("/products", h.SubmitProduct)
		authed.PATCH("/products/:id", h.EditProduct)

		authed.GET("/cart", h.GetCart)
		authed.POST("/cart/items", h.AddCartItem)
		authed.PATCH("/cart/items/:id", h.UpdateCartItem)
		authed.DELETE("/cart/items/:id", h.RemoveCartItem)
		authed.DELETE("/cart", h.ClearCart)

		authed.POST("/checkout", h.Checkout)

		authed.GET("/orders", h.ListOrders)
		authed.GET("/orders/:id", h.GetOrder)
		authed.POST("/orders/:id/cancel", h.CancelOrder)

		authed.POST("/payments", h.InitiatePayment)
		authed.GET("/payments", h.ListPayments)
		authed.GET("/payments/:id", h.GetPayment)
	}

	admin := authed.Group("", auth.RequireAdmin())
	{
		admin.POST("/payments/:id/refund", h.RefundPayment)
		admin.GET("/admin/products/pending", h.ListPendingProducts)
		admin.POST("/admin/products/:id/approve", h.ApproveProduct)
		admin.POST("/admin/products/:id/reject", h.RejectProduct)
		admin.GET("/admin/stats", h.Stats)
	}
}
