package api

import (
	"net/http"
	"strconv"
	"time"

	"fulfillment-service/internal/identity"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const actorKey = "actor"

// ActorResolver maps a bearer token to the calling actor.
type ActorResolver interface {
	Resolve(token string) (models.Actor, error)
}

// authMiddleware resolves the caller once per request.
func authMiddleware(resolver ActorResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := identity.FromAuthorizationHeader(c.GetHeader("Authorization"))
		actor, err := resolver.Resolve(token)
		if err != nil {
			util.GetLogger().Debug("Rejected bearer token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorEnvelope{Error: apiError{
				Code:    "UNAUTHENTICATED",
				Message: "a valid bearer token is required",
			}})
			return
		}
		c.Set(actorKey, actor)
		c.Next()
	}
}

func actorFrom(c *gin.Context) models.Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(models.Actor); ok {
			return actor
		}
	}
	return models.Actor{}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
		util.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
	}
}
