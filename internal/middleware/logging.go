package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/NikhilSetiya/helpdesk-relay/pkg/logging"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/metrics"
)

const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderRequestID     = "X-Request-ID"

	// RequestIDKey is the gin context key holding the request ID
	RequestIDKey = "request_id"
)

// LoggingMiddleware assigns correlation and request IDs, exposes them as
// response headers and logs every completed request.
func LoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = logging.NewCorrelationID()
		}

		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = logging.NewCorrelationID()
		}

		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		ctx = logging.WithRequestID(ctx, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Set(RequestIDKey, requestID)

		c.Header(HeaderCorrelationID, correlationID)
		c.Header(HeaderRequestID, requestID)

		c.Next()

		logger.LogRequest(
			ctx,
			c.Request.Method,
			c.Request.URL.Path,
			c.Request.UserAgent(),
			c.ClientIP(),
			c.Writer.Status(),
			time.Since(start),
		)
	}
}

// ErrorLoggingMiddleware logs errors attached to the gin context
func ErrorLoggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		for _, err := range c.Errors {
			logger.LogError(
				c.Request.Context(),
				err.Err,
				"Request processing error",
				logrus.Fields{
					"http_method": c.Request.Method,
					"http_path":   c.Request.URL.Path,
					"http_status": c.Writer.Status(),
				},
			)
		}
	}
}

// RecoveryMiddleware turns a handler panic into a 500 response. The panic is
// logged and counted; the process keeps serving.
func RecoveryMiddleware(logger *logging.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		ctx := c.Request.Context()
		logger.LogPanic(ctx, recovered, "Request panic recovered")
		m.RecordPanic()

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "Internal server error",
			},
			"request_id": logging.GetRequestID(ctx),
			"timestamp":  time.Now(),
		})
	})
}
