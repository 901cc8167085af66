package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"paragon-service/internal/identity"
	"paragon-service/internal/util"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// authMiddleware resolves the optional bearer token into an Identity
// and keeps the user profile fresh. Requests without a token pass
// through anonymously; routes decide whether they require one.
func authMiddleware(idm *identity.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.Next()
			return
		}

		ident, err := idm.Verify(token)
		if err != nil {
			status := http.StatusUnauthorized
			msg := "Invalid credentials"
			if errors.Is(err, identity.ErrTokenExpired) {
				msg = "Session expired, please sign in again"
			}
			c.AbortWithStatusJSON(status, gin.H{"error": msg})
			return
		}

		idm.SyncProfile(c.Request.Context(), ident)
		c.Set(identityKey, ident)
		c.Next()
	}
}

// requireAuth aborts anonymous requests.
func requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if identityFrom(c) == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Sign in required"})
			return
		}
		c.Next()
	}
}

// requireAdmin aborts requests whose identity does not match the
// configured admin address. This is the authorization boundary: it
// fronts every admin write, not just the routing layer.
func requireAdmin(idm *identity.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := identityFrom(c)
		if ident == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Sign in required"})
			return
		}
		if !idm.IsAdmin(ident) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

func identityFrom(c *gin.Context) *identity.Identity {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	ident, _ := v.(*identity.Identity)
	return ident
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
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
