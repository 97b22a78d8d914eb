package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type addCartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  *int  `json:"quantity"`
}

// quantity defaults to one unit when the field is omitted
func (r *addCartItemRequest) quantity() int {
	if r.Quantity == nil {
		return 1
	}
	return *r.Quantity
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

// getCart returns the caller's cart priced at current prices
func (h *Handler) getCart(c *gin.Context) {
	view, err := h.carts.GetCart(c.Request.Context(), principalFrom(c).UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// addCartItem handles adding a product to the caller's cart
func (h *Handler) addCartItem(c *gin.Context) {
	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	item, err := h.carts.AddItem(c.Request.Context(), principalFrom(c).UserID, req.ProductID, req.quantity())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

// updateCartItem handles setting the quantity of a cart line
func (h *Handler) updateCartItem(c *gin.Context) {
	itemID, ok := idParam(c)
	if !ok {
		return
	}

	var req updateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	item, err := h.carts.UpdateItem(c.Request.Context(), principalFrom(c).UserID, itemID, req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

// removeCartItem handles deleting a cart line
func (h *Handler) removeCartItem(c *gin.Context) {
	itemID, ok := idParam(c)
	if !ok {
		return
	}

	if err := h.carts.RemoveItem(c.Request.Context(), principalFrom(c).UserID, itemID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// clearCart handles emptying the caller's cart
func (h *Handler) clearCart(c *gin.Context) {
	if err := h.carts.Clear(c.Request.Context(), principalFrom(c).UserID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "INVALID_ARGUMENT",
		"message": "invalid request body: " + err.Error(),
	})
}
