package api

import (
	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/helpdesk-relay/internal/middleware"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/config"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/errors"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/health"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/logging"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/metrics"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/security"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/tracing"
)

// maxFormBodyBytes bounds a single form submission
const maxFormBodyBytes = 64 << 10

// Dependencies are the services the router wires into handlers and
// middleware. Observer, Metrics, Tracing and Health are optional.
type Dependencies struct {
	Config    *config.Config
	Logger    *logging.Logger
	Submitter Submitter
	Observer  middleware.RequestObserver
	Metrics   *metrics.Metrics
	Tracing   *tracing.TracingService
	Health    *health.Service
}

// NewRouter creates and configures the API router
func NewRouter(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	if gin.Mode() != gin.TestMode {
		if cfg.Logging.Level == "debug" {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.GetLogger()
	}

	router := gin.New()

	// ClientIP keys the form limiter; with no trusted proxies it is the peer address
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		logger.Error("Invalid trusted proxies, trusting none", "error", err)
		_ = router.SetTrustedProxies(nil)
	}

	// Recovery sits inside the observer so a panic is still counted as a 500
	router.Use(middleware.LoggingMiddleware(logger))
	if deps.Observer != nil {
		router.Use(middleware.ObserverMiddleware(deps.Observer))
	}
	router.Use(middleware.RecoveryMiddleware(logger, deps.Metrics))
	router.Use(middleware.ErrorLoggingMiddleware(logger))
	if deps.Tracing != nil {
		router.Use(deps.Tracing.TracingMiddleware())
	}
	if deps.Metrics != nil {
		router.Use(deps.Metrics.PrometheusMiddleware())
	}

	headers := security.DefaultSecurityHeadersConfig()
	headers.AllowedOrigins = cfg.Server.AllowedOrigins
	router.Use(security.CORSMiddleware(headers))
	router.Use(security.SecurityHeadersMiddleware(headers))

	if deps.Health != nil {
		router.GET("/health", deps.Health.Handler())
		router.GET("/health/live", deps.Health.LivenessHandler())
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	limiter := security.NewRateLimiter(security.RateLimitConfig{
		RequestsPerMinute: cfg.Server.FormRatePerMinute,
		Burst:             cfg.Server.FormBurst,
	}, logger)

	forms := NewFormHandler(deps.Submitter)

	api := router.Group("/api")
	api.Use(security.RequestSizeMiddleware(maxFormBodyBytes))
	api.Use(limiter.RateLimitMiddleware())
	{
		api.POST("/contact", forms.SubmitContact)
		api.POST("/jobs", forms.SubmitJobApplication)
		api.POST("/tickets", forms.SubmitSupportTicket)
	}

	router.NoRoute(func(c *gin.Context) {
		ErrorResponseFromError(c, errors.NewNotFoundError("endpoint"))
	})

	return router
}
