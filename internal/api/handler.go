package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"fulfillment-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deduper records processed webhook ids so replays become no-ops.
type Deduper interface {
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Options carries the optional collaborators of a Handler.
type Options struct {
	// WebhookSecret, when set, must match the X-Webhook-Secret header of gateway callbacks.
	WebhookSecret string
	Deduper       Deduper
	// Readiness checks are run by /ready, keyed by dependency name.
	Readiness map[string]func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders        *service.Orchestrator
	carts         *service.CartService
	resolver      ActorResolver
	webhookSecret string
	deduper       Deduper
	readiness     map[string]func(ctx context.Context) error
}

// NewHandler creates a new HTTP handler
func NewHandler(orders *service.Orchestrator, carts *service.CartService, resolver ActorResolver, opts Options) *Handler {
	registerValidators()
	return &Handler{
		orders:        orders,
		carts:         carts,
		resolver:      resolver,
		webhookSecret: opts.WebhookSecret,
		deduper:       opts.Deduper,
		readiness:     opts.Readiness,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/api/v1/webhooks/payments", h.paymentWebhook)

	v1 := router.Group("/api/v1", authMiddleware(h.resolver))
	{
		v1.GET("/cart", h.getCart)
		v1.DELETE("/cart", h.clearCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PUT("/cart/items/:product_id", h.updateCartItem)
		v1.DELETE("/cart/items/:product_id", h.removeCartItem)

		v1.POST("/checkout", h.checkout)

		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/tracking", h.getTracking)
		v1.POST("/orders/:id/confirm", h.confirmOrder)
		v1.POST("/orders/:id/transporter", h.assignTransporter)
		v1.POST("/orders/:id/delivery-updates", h.advanceDelivery)
		v1.POST("/orders/:id/complete", h.completeOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/orders/:id/rating", h.rateOrder)
		v1.POST("/orders/:id/buyer-rating", h.rateBuyer)
		v1.POST("/orders/:id/payment", h.retryPayment)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports every failing dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.readiness))
	for name := range h.readiness {
		names = append(names, name)
	}
	sort.Strings(names)

	failing := gin.H{}
	for _, name := range names {
		if err := h.readiness[name](ctx); err != nil {
			failing[name] = err.Error()
		}
	}

	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"failing": failing,
			"time":    time.Now().Unix(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}
