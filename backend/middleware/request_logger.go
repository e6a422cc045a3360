package middleware

import (
	"time"

	"github.com/AnTengye/contractplaybook/backend/pkg/logger"
	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
)

// RequestLogger logs every request once it has been served
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"status", status,
			"method", c.Request.Method,
			"path", path,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if size := c.Writer.Size(); size > 0 {
			attrs = append(attrs, "size", humanize.Bytes(uint64(size)))
		}
		if query != "" {
			attrs = append(attrs, "query", query)
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}

		// Auth runs after this middleware, so the request context seen here
		// only carries the request id; tenant and user come from gin keys
		log := logger.WithContext(c.Request.Context())
		if tenant := GetTenant(c); tenant != "" {
			log = log.With(string(logger.TenantKey), tenant, string(logger.UsernameKey), GetUsername(c))
		}

		switch {
		case status >= 500:
			log.Error("request completed", attrs...)
		case status >= 400:
			log.Warn("request completed", attrs...)
		default:
			log.Info("request completed", attrs...)
		}
	}
}
