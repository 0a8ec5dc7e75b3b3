package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/logging"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
)

// HeaderCallbackToken carries the gateway's shared secret.
const HeaderCallbackToken = "X-Callback-Token"

// InitiatePayment handles POST /api/v1/payments. A settled payment is 200,
// one awaiting confirmation is 202.
func (h *Handlers) InitiatePayment(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	var req models.InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Failed to bind payment request", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.payments.Initiate(c.Request.Context(), id, &req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == models.PaymentOutcomePending {
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}

// PaymentCallback handles POST /api/v1/payments/callback. It is reachable
// without a bearer token.
func (h *Handlers) PaymentCallback(c *gin.Context) {
	token := c.GetHeader(HeaderCallbackToken)

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("Failed to read callback payload", logging.Fields{"error": err.Error()})
		c.JSON(http.StatusBadRequest, models.CallbackAck{Accepted: false, Message: "failed to read request body"})
		return
	}

	var cb models.SettlementCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		c.JSON(http.StatusBadRequest, models.CallbackAck{Accepted: false, Message: "invalid callback payload"})
		return
	}

	ack := h.payments.HandleSettlementCallback(c.Request.Context(), token, &cb)
	if !ack.Accepted {
		c.JSON(http.StatusBadRequest, ack)
		return
	}
	c.JSON(http.StatusOK, ack)
}

// ListPayments handles GET /api/v1/payments
func (h *Handlers) ListPayments(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	limit, offset, ok := pageParams(c)
	if !ok {
		return
	}
	payments, err := h.payments.ListPayments(c.Request.Context(), id, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"payments": payments,
		"limit":    limit,
		"offset":   offset,
	})
}

// GetPayment handles GET /api/v1/payments/:id
func (h *Handlers) GetPayment(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	payment, err := h.payments.GetPayment(c.Request.Context(), id, c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}

// RefundPayment handles POST /api/v1/payments/:id/refund
func (h *Handlers) RefundPayment(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}

	payment, err := h.payments.Refund(c.Request.Context(), id, c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, payment)
}
