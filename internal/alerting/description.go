package alerting

import (
	"fmt"
	"strings"
	"time"
)

func titleFor(breach Breach) string {
	switch breach.Category {
	case CategoryError:
		return fmt.Sprintf("High error rate: %.2f%%", breach.Stats.ErrorRate*100)
	case CategoryPerformance:
		if breach.Request != nil {
			return fmt.Sprintf("Slow response: %s %s took %dms",
				breach.Request.Method, breach.Request.Path, breach.Request.Duration.Milliseconds())
		}
		return "Slow responses detected"
	case CategoryRateLimit:
		return fmt.Sprintf("Rate limit breaches: %d", breach.Stats.RateLimitBreaches)
	case CategoryResource:
		if breach.Resources != nil {
			return fmt.Sprintf("Resource pressure: memory %.1f%%, CPU %.1f%%",
				breach.Resources.MemoryRatio*100, breach.Resources.CPURatio*100)
		}
		return "Resource pressure"
	default:
		return fmt.Sprintf("Threshold breached: %s", breach.Category)
	}
}

// describe renders the plain-text diagnostic body of an alert ticket
func describe(breach Breach, config ManagerConfig, uptime time.Duration) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Alert category: %s\n", breach.Category)
	fmt.Fprintf(&b, "Severity: %s\n", SeverityFor(breach.Category))
	fmt.Fprintf(&b, "Detected at: %s\n", breach.DetectedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Environment: %s\n", valueOr(config.Environment, "unknown"))
	fmt.Fprintf(&b, "Server: %s\n", valueOr(config.ServerName, "unknown"))
	fmt.Fprintf(&b, "Uptime: %s\n", uptime.Round(time.Second))

	switch breach.Category {
	case CategoryError:
		b.WriteString("\n== Error rate ==\n")
		fmt.Fprintf(&b, "Error rate: %.2f%% (%d errors / %d requests)\n",
			breach.Stats.ErrorRate*100, breach.Stats.ErrorCount, breach.Stats.RequestCount)
	case CategoryPerformance:
		b.WriteString("\n== Slow response ==\n")
		if breach.Request != nil {
			fmt.Fprintf(&b, "Duration: %dms\n", breach.Request.Duration.Milliseconds())
		}
	case CategoryRateLimit:
		b.WriteString("\n== Rate limiting ==\n")
		fmt.Fprintf(&b, "Requests rejected with 429 since start: %d\n", breach.Stats.RateLimitBreaches)
	case CategoryResource:
		b.WriteString("\n== Host resources ==\n")
		writeResources(&b, breach.Resources)
	}

	if breach.Request != nil {
		b.WriteString("\n== Triggering request ==\n")
		writeRequest(&b, breach.Request)
	}

	b.WriteString("\n== Traffic ==\n")
	fmt.Fprintf(&b, "Requests: %d\n", breach.Stats.RequestCount)
	fmt.Fprintf(&b, "Errors: %d\n", breach.Stats.ErrorCount)
	fmt.Fprintf(&b, "Rate limit breaches: %d\n", breach.Stats.RateLimitBreaches)
	if breach.Stats.Samples > 0 {
		fmt.Fprintf(&b, "Response times over last %d requests: avg %.0fms, p50 %.0fms, p95 %.0fms, p99 %.0fms, max %.0fms\n",
			breach.Stats.Samples, breach.Stats.AverageMs, breach.Stats.P50Ms,
			breach.Stats.P95Ms, breach.Stats.P99Ms, breach.Stats.MaxMs)
	}

	return b.String()
}

func writeRequest(b *strings.Builder, req *RequestContext) {
	fmt.Fprintf(b, "Request: %s %s\n", req.Method, req.Path)
	if req.StatusCode != 0 {
		fmt.Fprintf(b, "Status: %d\n", req.StatusCode)
	}
	if req.RequestID != "" {
		fmt.Fprintf(b, "Request ID: %s\n", req.RequestID)
	}
	if req.ClientIP != "" {
		fmt.Fprintf(b, "Client IP: %s\n", req.ClientIP)
	}
	if req.Error != "" {
		fmt.Fprintf(b, "Error: %s\n", req.Error)
	}
}

func writeResources(b *strings.Builder, res *ResourceUsage) {
	if res == nil {
		b.WriteString("No sample available\n")
		return
	}

	fmt.Fprintf(b, "Host: %s\n", valueOr(res.Hostname, "unknown"))
	fmt.Fprintf(b, "Memory: %.1f%% used (%s available of %s)\n",
		res.MemoryRatio*100, formatBytes(res.MemoryAvailBytes), formatBytes(res.MemoryTotalBytes))
	fmt.Fprintf(b, "CPU load: %.1f%% (load1 %.2f over %d CPUs)\n", res.CPURatio*100, res.Load1, res.NumCPU)
	fmt.Fprintf(b, "Goroutines: %d\n", res.Goroutines)
	fmt.Fprintf(b, "Process heap: %s\n", formatBytes(res.ProcessHeapBytes))
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
