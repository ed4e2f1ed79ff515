package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/helpdesk-relay/internal/monitoring"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/logging"
)

// RequestObserver receives request lifecycle events. monitoring.Aggregator
// implements it.
type RequestObserver interface {
	OnRequestStart(ctx context.Context, info monitoring.RequestInfo)
	OnResponseFinish(ctx context.Context, info monitoring.RequestInfo, duration time.Duration)
	OnError(ctx context.Context, info monitoring.RequestInfo, err error)
	OnRateLimited(ctx context.Context, info monitoring.RequestInfo)
}

// ObserverMiddleware feeds every request into observer. A 429 counts as a
// rate limit breach; a 5xx or an error attached to the context counts as a
// failed request.
func ObserverMiddleware(observer RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := c.Request.Context()

		info := monitoring.RequestInfo{
			Method:    c.Request.Method,
			Path:      c.Request.URL.Path,
			ClientIP:  c.ClientIP(),
			RequestID: logging.GetRequestID(ctx),
		}
		observer.OnRequestStart(ctx, info)

		c.Next()

		duration := time.Since(start)
		info.StatusCode = c.Writer.Status()

		switch {
		case info.StatusCode == http.StatusTooManyRequests:
			observer.OnRateLimited(ctx, info)
		case info.StatusCode >= http.StatusInternalServerError || len(c.Errors) > 0:
			observer.OnError(ctx, info, requestError(c))
		}

		observer.OnResponseFinish(ctx, info, duration)
	}
}

func requestError(c *gin.Context) error {
	if last := c.Errors.Last(); last != nil {
		return last.Err
	}
	return fmt.Errorf("request failed with status %d", c.Writer.Status())
}
