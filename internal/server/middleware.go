package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// loggerMiddleware logs one line per request; 4xx at warn, 5xx at error.
func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// other handlers can change c.Request.URL.Path
		path := c.Request.URL.Path
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		size := c.Writer.Size()
		if size < 0 {
			size = 0
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.Int("size", size),
		}
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.ByType(gin.ErrorTypePrivate).String(), fields...)
			return
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("HTTP request", fields...)
		case status >= http.StatusBadRequest:
			logger.Warn("HTTP request", fields...)
		default:
			logger.Debug("HTTP request", fields...)
		}
	}
}
