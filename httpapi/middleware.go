package httpapi

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/carebridge/resetd"
)

// requestContext returns the request context enriched with the caller's
// IP and user agent so audit events can carry them.
func requestContext(c *gin.Context) context.Context {
	ctx := resetd.WithClientIP(c.Request.Context(), c.ClientIP())
	return resetd.WithUserAgent(ctx, c.Request.UserAgent())
}

// RequestLogger logs one line per request with method, path, and status.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
		)
	}
}
