package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const tenantKey = "tenant_id"

// requireTenant rejects requests without a tenant header. Every sync
// resource is scoped to the caller's tenant.
func requireTenant(c *gin.Context) {
	tenantID := c.GetHeader(tenantHeader)
	if tenantID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": tenantHeader + " header is required"})
		return
	}
	c.Set(tenantKey, tenantID)
	c.Next()
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		// Scrapes and health checks would drown everything else
		if c.FullPath() == "/metrics" || c.FullPath() == "/health" {
			return
		}
		h.log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
			"took":   time.Since(started).String(),
		}).Debug("HTTP request")
	}
}
