package api

import (
	"net/http"

	"order-engine/internal/service"

	"github.com/gin-gonic/gin"
)

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// createOrder places an order from the body's items, or from the cart when items are omitted
func (h *Handler) createOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	req.UserID = principalFrom(c).UserID
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	detail, err := h.orders.PlaceOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if detail.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, detail)
}

// listOrders returns the orders visible to the caller
func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), principalFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := idParam(c)
	if !ok {
		return
	}

	detail, err := h.orders.GetOrder(c.Request.Context(), principalFrom(c), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// updateOrderStatus handles administrative status changes
func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := idParam(c)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	detail, err := h.lifecycle.UpdateStatus(c.Request.Context(), principalFrom(c), orderID, req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// cancelOrder handles cancellation by the owner or an administrator
func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := idParam(c)
	if !ok {
		return
	}

	detail, err := h.lifecycle.Cancel(c.Request.Context(), principalFrom(c), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}
