package api

import (
	"net/http"
	"strconv"
	"time"

	"storefront-api/internal/models"
	"storefront-api/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const identityKey = "identity"

// currentUser returns the identity attached by RequireAuth. Handlers behind
// the middleware can rely on it being present.
func currentUser(c *gin.Context) *models.User {
	return c.MustGet(identityKey).(*models.User)
}

// RequireAuth derives the caller identity from the session cookie and
// attaches it to the request context. A missing cookie and an invalid token
// both produce the same 401; the distinction lives in logs and metrics only.
func (h *Handler) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(SessionCookieName)
		if err != nil || token == "" {
			util.AuthFailuresTotal.WithLabelValues("no_token").Inc()
			h.logger.Debug("Request without session cookie",
				zap.String("path", c.FullPath()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Not authorized, no token",
			})
			return
		}

		user, err := h.userService.Authenticate(c.Request.Context(), token)
		if err != nil {
			h.logger.Debug("Session token rejected",
				zap.String("path", c.FullPath()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Not authorized, token failed",
			})
			return
		}

		c.Set(identityKey, user)
		c.Next()
	}
}

// RequireAdmin gates a handler on the admin role. Runs only behind
// RequireAuth.
func (h *Handler) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !currentUser(c).IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "Not authorized as an admin",
			})
			return
		}
		c.Next()
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
