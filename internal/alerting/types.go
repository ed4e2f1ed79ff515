package alerting

import (
	"time"
)

// Category identifies which threshold was breached. Each category has its
// own cooldown.
type Category string

const (
	CategoryError       Category = "error"
	CategoryPerformance Category = "performance"
	CategoryRateLimit   Category = "rateLimit"
	CategoryResource    Category = "resource"
)

// Categories lists every alert category
var Categories = []Category{CategoryError, CategoryPerformance, CategoryRateLimit, CategoryResource}

// Severity represents the severity level of an alert
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// SeverityFor maps a category to the severity its alerts carry
func SeverityFor(category Category) Severity {
	switch category {
	case CategoryResource:
		return SeverityCritical
	case CategoryError:
		return SeverityError
	default:
		return SeverityWarning
	}
}

// RequestContext describes the request that triggered a breach
type RequestContext struct {
	Method     string
	Path       string
	StatusCode int
	Duration   time.Duration
	ClientIP   string
	RequestID  string
	Error      string
}

// Stats is a snapshot of the request counters at breach time. Response
// times are in milliseconds over the recent window.
type Stats struct {
	RequestCount      int64
	ErrorCount        int64
	RateLimitBreaches int64
	ErrorRate         float64
	Samples           int
	AverageMs         float64
	P50Ms             float64
	P95Ms             float64
	P99Ms             float64
	MaxMs             float64
}

// ResourceUsage is one host sample
type ResourceUsage struct {
	Hostname         string
	MemoryRatio      float64
	MemoryTotalBytes uint64
	MemoryAvailBytes uint64
	CPURatio         float64
	Load1            float64
	NumCPU           int
	Goroutines       int
	ProcessHeapBytes uint64
}

// Breach is a threshold crossing reported to the Evaluator
type Breach struct {
	Category   Category
	DetectedAt time.Time
	Request    *RequestContext
	Stats      Stats
	Resources  *ResourceUsage
}

// Alert is a breach that passed its cooldown, ready for delivery
type Alert struct {
	ID          string
	Category    Category
	Severity    Severity
	Title       string
	Description string
	Environment string
	ServerName  string
	Timestamp   time.Time
	Breach      Breach
}
