package monitoring

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/prometheus/procfs"

	"github.com/NikhilSetiya/helpdesk-relay/internal/alerting"
)

// ResourceSampler reads the host's memory and CPU pressure
type ResourceSampler interface {
	Sample(ctx context.Context) (alerting.ResourceUsage, error)
}

// HostSampler reads /proc through procfs. Memory pressure is the used
// fraction of MemTotal; CPU pressure is the one minute load average divided
// by the CPU count.
type HostSampler struct {
	fs       procfs.FS
	hostname string
	numCPU   int
}

// NewHostSampler opens the proc filesystem at mountPoint, or the default
// mount when it is empty.
func NewHostSampler(mountPoint string) (*HostSampler, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}

	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open proc filesystem: %w", err)
	}

	hostname, _ := os.Hostname()
	return &HostSampler{
		fs:       fs,
		hostname: hostname,
		numCPU:   runtime.NumCPU(),
	}, nil
}

// Sample implements ResourceSampler
func (s *HostSampler) Sample(ctx context.Context) (alerting.ResourceUsage, error) {
	meminfo, err := s.fs.Meminfo()
	if err != nil {
		return alerting.ResourceUsage{}, fmt.Errorf("failed to read meminfo: %w", err)
	}
	load, err := s.fs.LoadAvg()
	if err != nil {
		return alerting.ResourceUsage{}, fmt.Errorf("failed to read loadavg: %w", err)
	}

	total := kib(meminfo.MemTotal)
	avail := kib(meminfo.MemAvailable)
	if meminfo.MemAvailable == nil {
		// Kernels before 3.14 lack MemAvailable
		avail = kib(meminfo.MemFree) + kib(meminfo.Buffers) + kib(meminfo.Cached)
	}
	if total == 0 {
		return alerting.ResourceUsage{}, fmt.Errorf("meminfo reported no memory")
	}

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	return alerting.ResourceUsage{
		Hostname:         s.hostname,
		MemoryRatio:      memoryRatio(total, avail),
		MemoryTotalBytes: total,
		MemoryAvailBytes: avail,
		CPURatio:         cpuRatio(load.Load1, s.numCPU),
		Load1:            load.Load1,
		NumCPU:           s.numCPU,
		Goroutines:       runtime.NumGoroutine(),
		ProcessHeapBytes: stats.HeapAlloc,
	}, nil
}

func kib(v *uint64) uint64 {
	if v == nil {
		return 0
	}
	return *v * 1024
}

func memoryRatio(total, avail uint64) float64 {
	if total == 0 {
		return 0
	}
	if avail > total {
		avail = total
	}
	return 1 - float64(avail)/float64(total)
}

func cpuRatio(load1 float64, numCPU int) float64 {
	if numCPU <= 0 {
		numCPU = 1
	}
	return load1 / float64(numCPU)
}
