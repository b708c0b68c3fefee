package api

import (
	"net/http"

	"fulfillment-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) getCart(c *gin.Context) {
	view, err := h.carts.Get(c.Request.Context(), actorFrom(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req service.AddToCartRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respondCart(c, func() error {
		_, err := h.carts.AddItem(c.Request.Context(), actorFrom(c), req)
		return err
	})
}

func (h *Handler) updateCartItem(c *gin.Context) {
	var req service.UpdateCartItemRequest
	if !bindJSON(c, &req) {
		return
	}
	h.respondCart(c, func() error {
		_, err := h.carts.UpdateItem(c.Request.Context(), actorFrom(c), c.Param("product_id"), req)
		return err
	})
}

func (h *Handler) removeCartItem(c *gin.Context) {
	h.respondCart(c, func() error {
		_, err := h.carts.RemoveItem(c.Request.Context(), actorFrom(c), c.Param("product_id"))
		return err
	})
}

func (h *Handler) clearCart(c *gin.Context) {
	if err := h.carts.Clear(c.Request.Context(), actorFrom(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// respondCart applies a cart mutation and answers with the refreshed cart view.
func (h *Handler) respondCart(c *gin.Context, mutate func() error) {
	if err := mutate(); err != nil {
		writeError(c, err)
		return
	}
	h.getCart(c)
}
