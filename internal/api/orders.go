package api

import (
	"net/http"

	"fulfillment-service/internal/service"

	"github.com/gin-gonic/gin"
)

func (h *Handler) checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if !bindJSON(c, &req) {
		return
	}

	orders, err := h.orders.Checkout(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"orders": orders})
}

func (h *Handler) listOrders(c *gin.Context) {
	var req service.ListOrdersRequest
	if !bindQuery(c, &req) {
		return
	}

	orders, err := h.orders.ListOrders(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) getOrder(c *gin.Context) {
	view, err := h.orders.GetOrder(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) getTracking(c *gin.Context) {
	updates, err := h.orders.GetTracking(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": c.Param("id"), "tracking_updates": updates})
}

func (h *Handler) confirmOrder(c *gin.Context) {
	order, err := h.orders.ConfirmOrder(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) assignTransporter(c *gin.Context) {
	var req service.AssignTransporterRequest
	if !bindJSON(c, &req) {
		return
	}

	view, err := h.orders.AssignTransporter(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *Handler) advanceDelivery(c *gin.Context) {
	var req service.AdvanceDeliveryRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.orders.AdvanceDelivery(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) completeOrder(c *gin.Context) {
	order, err := h.orders.CompleteOrder(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// cancelOrder accepts an empty body; the reason is optional.
func (h *Handler) cancelOrder(c *gin.Context) {
	var req service.CancelOrderRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	order, err := h.orders.CancelOrder(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) rateOrder(c *gin.Context) {
	var req service.RateOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.orders.RateOrder(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) rateBuyer(c *gin.Context) {
	var req service.RateOrderRequest
	if !bindJSON(c, &req) {
		return
	}

	order, err := h.orders.RateBuyer(c.Request.Context(), actorFrom(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// retryPayment re-initiates a failed gateway payment on the buyer's request.
func (h *Handler) retryPayment(c *gin.Context) {
	payment, err := h.orders.RetryPayment(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, payment)
}
