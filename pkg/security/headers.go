package security

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SecurityHeadersConfig holds configuration for security headers
type SecurityHeadersConfig struct {
	// Content Security Policy
	CSPDirectives map[string][]string

	// HSTS configuration
	HSTSMaxAge            int
	HSTSIncludeSubdomains bool

	// CORS configuration
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration

	ReferrerPolicy      string
	XFrameOptions       string
	XContentTypeOptions bool
}

// DefaultSecurityHeadersConfig returns the header set for a JSON API that is
// called cross-origin by the public website forms.
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		CSPDirectives: map[string][]string{
			"default-src":     {"'none'"},
			"frame-ancestors": {"'none'"},
		},
		HSTSMaxAge:            31536000, // 1 year
		HSTSIncludeSubdomains: true,
		AllowedOrigins: []string{
			"http://localhost:3000",
		},
		AllowedMethods: []string{
			"GET", "POST", "OPTIONS",
		},
		AllowedHeaders: []string{
			"Origin", "Content-Type", "Accept",
			"X-Requested-With", "X-Request-ID", "X-Correlation-ID",
		},
		ExposedHeaders: []string{
			"X-Request-ID", "X-Correlation-ID", "X-RateLimit-Remaining", "Retry-After",
		},
		MaxAge:              12 * time.Hour,
		ReferrerPolicy:      "strict-origin-when-cross-origin",
		XFrameOptions:       "DENY",
		XContentTypeOptions: true,
	}
}

// SecurityHeadersMiddleware returns a Gin middleware that sets security headers
func SecurityHeadersMiddleware(config SecurityHeadersConfig) gin.HandlerFunc {
	csp := buildCSP(config.CSPDirectives)
	hsts := ""
	if config.HSTSMaxAge > 0 {
		hsts = buildHSTS(config.HSTSMaxAge, config.HSTSIncludeSubdomains)
	}

	return func(c *gin.Context) {
		if csp != "" {
			c.Header("Content-Security-Policy", csp)
		}
		if hsts != "" {
			c.Header("Strict-Transport-Security", hsts)
		}
		if config.ReferrerPolicy != "" {
			c.Header("Referrer-Policy", config.ReferrerPolicy)
		}
		if config.XFrameOptions != "" {
			c.Header("X-Frame-Options", config.XFrameOptions)
		}
		if config.XContentTypeOptions {
			c.Header("X-Content-Type-Options", "nosniff")
		}

		c.Next()
	}
}

// CORSMiddleware returns a CORS middleware with the given configuration. An
// empty origin list or "*" allows every origin.
func CORSMiddleware(config SecurityHeadersConfig) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowOrigins:     config.AllowedOrigins,
		AllowMethods:     config.AllowedMethods,
		AllowHeaders:     config.AllowedHeaders,
		ExposeHeaders:    config.ExposedHeaders,
		AllowCredentials: config.AllowCredentials,
		MaxAge:           config.MaxAge,
	}

	switch {
	case len(config.AllowedOrigins) == 0 || (len(config.AllowedOrigins) == 1 && config.AllowedOrigins[0] == "*"):
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	case containsWildcard(config.AllowedOrigins):
		corsConfig.AllowOriginFunc = func(origin string) bool {
			return isOriginAllowed(origin, config.AllowedOrigins)
		}
		corsConfig.AllowOrigins = nil
	}

	return cors.New(corsConfig)
}

// RequestSizeMiddleware limits the size of request bodies
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "REQUEST_TOO_LARGE",
					"message": fmt.Sprintf("request body exceeds %d bytes", maxSize),
				},
				"timestamp": time.Now(),
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// buildCSP constructs a Content Security Policy header value
func buildCSP(directives map[string][]string) string {
	var parts []string
	for directive, sources := range directives {
		if len(sources) > 0 {
			parts = append(parts, directive+" "+strings.Join(sources, " "))
		}
	}
	return strings.Join(parts, "; ")
}

// buildHSTS constructs an HSTS header value
func buildHSTS(maxAge int, includeSubdomains bool) string {
	hsts := fmt.Sprintf("max-age=%d", maxAge)
	if includeSubdomains {
		hsts += "; includeSubDomains"
	}
	return hsts
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if strings.Contains(origin, "*") {
			return true
		}
	}
	return false
}

func isOriginAllowed(origin string, allowedOrigins []string) bool {
	for _, allowed := range allowedOrigins {
		if matchOrigin(origin, allowed) {
			return true
		}
	}
	return false
}

// matchOrigin checks if an origin matches a pattern. Patterns may use a
// leading subdomain wildcard, e.g. https://*.example.com.
func matchOrigin(origin, pattern string) bool {
	if pattern == "*" {
		return true
	}

	if !strings.Contains(pattern, "*") {
		return origin == pattern
	}

	for _, scheme := range []string{"https://", "http://"} {
		if strings.HasPrefix(pattern, scheme+"*.") {
			domain := strings.TrimPrefix(pattern, scheme+"*.")
			return strings.HasPrefix(origin, scheme) &&
				(strings.HasSuffix(origin, "."+domain) || origin == scheme+domain)
		}
	}

	return false
}
