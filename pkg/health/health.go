package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/helpdesk-relay/pkg/logging"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	StatusUnknown   Status = "unknown"
)

// Check represents a health check
type Check struct {
	Name      string            `json:"name"`
	Status    Status            `json:"status"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
	Duration  time.Duration     `json:"duration"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status    Status            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Duration  time.Duration     `json:"duration"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]*Check `json:"checks"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Checker interface for health checks
type Checker interface {
	Check(ctx context.Context) *Check
}

// Service provides health checking functionality
type Service struct {
	checkers  map[string]Checker
	logger    *logging.Logger
	metadata  map[string]string
	timeout   time.Duration
	startedAt time.Time
	mutex     sync.RWMutex
}

// Config holds health check configuration
type Config struct {
	Timeout   time.Duration     `json:"timeout"`
	Metadata  map[string]string `json:"metadata"`
	StartedAt time.Time         `json:"started_at"`
}

// DefaultConfig returns default health check configuration
func DefaultConfig() *Config {
	return &Config{
		Timeout:  5 * time.Second,
		Metadata: make(map[string]string),
	}
}

// NewService creates a new health check service
func NewService(logger *logging.Logger, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	if config.StartedAt.IsZero() {
		config.StartedAt = time.Now()
	}

	return &Service{
		checkers:  make(map[string]Checker),
		logger:    logger,
		metadata:  config.Metadata,
		timeout:   config.Timeout,
		startedAt: config.StartedAt,
	}
}

// RegisterChecker registers a health checker
func (s *Service) RegisterChecker(name string, checker Checker) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.checkers[name] = checker
}

// CheckHealth runs all checks concurrently. Any unhealthy check makes the
// whole response unhealthy; any degraded check makes it degraded.
func (s *Service) CheckHealth(ctx context.Context) *HealthResponse {
	start := time.Now()

	s.mutex.RLock()
	checkers := make(map[string]Checker, len(s.checkers))
	for name, checker := range s.checkers {
		checkers[name] = checker
	}
	s.mutex.RUnlock()

	checks := make(map[string]*Check, len(checkers))
	overallStatus := StatusHealthy

	var wg sync.WaitGroup
	var mutex sync.Mutex

	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker Checker) {
			defer wg.Done()

			check := checker.Check(ctx)

			mutex.Lock()
			defer mutex.Unlock()
			checks[name] = check

			switch check.Status {
			case StatusUnhealthy:
				overallStatus = StatusUnhealthy
			case StatusDegraded:
				if overallStatus == StatusHealthy {
					overallStatus = StatusDegraded
				}
			}
		}(name, checker)
	}

	wg.Wait()

	if overallStatus == StatusUnhealthy {
		s.logger.Warn("Health check failed", "checks", len(checks))
	}

	return &HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Duration:  time.Since(start),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Checks:    checks,
		Metadata:  s.metadata,
	}
}

// Handler returns a Gin handler for health checks
func (s *Service) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), s.timeout)
		defer cancel()

		health := s.CheckHealth(ctx)

		statusCode := http.StatusOK
		if health.Status == StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		c.JSON(statusCode, health)
	}
}

// LivenessHandler returns a simple liveness check handler
func (s *Service) LivenessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "alive",
			"timestamp": time.Now(),
		})
	}
}

// TokenState is implemented by the credential cache
type TokenState interface {
	ExpiresAt() (time.Time, bool)
}

// TokenChecker reports on the cached helpdesk access token without
// triggering a refresh.
type TokenChecker struct {
	name   string
	tokens TokenState
	now    func() time.Time
}

// NewTokenChecker creates a checker for tokens
func NewTokenChecker(name string, tokens TokenState) *TokenChecker {
	return &TokenChecker{
		name:   name,
		tokens: tokens,
		now:    time.Now,
	}
}

// Check reports healthy while a valid token is cached and degraded when the
// next call will have to refresh.
func (tc *TokenChecker) Check(ctx context.Context) *Check {
	start := tc.now()
	check := &Check{
		Name:      tc.name,
		Timestamp: start,
	}

	expiresAt, ok := tc.tokens.ExpiresAt()
	switch {
	case !ok:
		check.Status = StatusDegraded
		check.Message = "no access token cached yet"
	case !start.Before(expiresAt):
		check.Status = StatusDegraded
		check.Message = "access token expired, next request refreshes it"
		check.Metadata = map[string]string{"expired_at": expiresAt.UTC().Format(time.RFC3339)}
	default:
		check.Status = StatusHealthy
		check.Message = "access token cached"
		check.Metadata = map[string]string{
			"expires_at": expiresAt.UTC().Format(time.RFC3339),
			"expires_in": expiresAt.Sub(start).Round(time.Second).String(),
		}
	}

	check.Duration = tc.now().Sub(start)
	return check
}

// CustomChecker allows for custom health checks
type CustomChecker struct {
	name    string
	checkFn func(ctx context.Context) (Status, string, map[string]string, error)
}

// NewCustomChecker creates a new custom health checker
func NewCustomChecker(name string, checkFn func(ctx context.Context) (Status, string, map[string]string, error)) *CustomChecker {
	return &CustomChecker{
		name:    name,
		checkFn: checkFn,
	}
}

// Check performs custom health check
func (cc *CustomChecker) Check(ctx context.Context) *Check {
	start := time.Now()
	check := &Check{
		Name:      cc.name,
		Timestamp: start,
	}

	status, message, metadata, err := cc.checkFn(ctx)
	check.Status = status
	check.Message = message
	check.Metadata = metadata
	check.Duration = time.Since(start)

	if err != nil {
		check.Error = err.Error()
		if check.Status == StatusHealthy {
			check.Status = StatusUnhealthy
		}
	}

	return check
}

// FormatRatio renders a 0..1 ratio as a percentage for check metadata
func FormatRatio(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}
