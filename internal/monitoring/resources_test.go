package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/helpdesk-relay/internal/alerting"
	"github.com/NikhilSetiya/helpdesk-relay/pkg/logging"
)

func writeProc(t *testing.T, meminfo, loadavg string) string {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meminfo"), []byte(meminfo), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "loadavg"), []byte(loadavg), 0o644))
	return dir
}

func TestHostSampler_Sample(t *testing.T) {
	dir := writeProc(t,
		"MemTotal:       16000000 kB\n"+
			"MemFree:         1000000 kB\n"+
			"MemAvailable:    4000000 kB\n"+
			"Buffers:          100000 kB\n"+
			"Cached:          2000000 kB\n",
		"2.00 1.50 1.00 3/512 4242\n")

	sampler, err := NewHostSampler(dir)
	require.NoError(t, err)

	usage, err := sampler.Sample(context.Background())
	require.NoError(t, err)

	assert.InDelta(t, 0.75, usage.MemoryRatio, 1e-9)
	assert.Equal(t, uint64(16000000*1024), usage.MemoryTotalBytes)
	assert.Equal(t, uint64(4000000*1024), usage.MemoryAvailBytes)
	assert.Equal(t, 2.0, usage.Load1)
	assert.Equal(t, runtime.NumCPU(), usage.NumCPU)
	assert.InDelta(t, 2.0/float64(runtime.NumCPU()), usage.CPURatio, 1e-9)
	assert.Positive(t, usage.Goroutines)
}

func TestHostSampler_WithoutMemAvailable(t *testing.T) {
	dir := writeProc(t,
		"MemTotal:       1000 kB\n"+
			"MemFree:         100 kB\n"+
			"Buffers:          50 kB\n"+
			"Cached:           50 kB\n",
		"0.10 0.10 0.10 1/10 1\n")

	sampler, err := NewHostSampler(dir)
	require.NoError(t, err)

	usage, err := sampler.Sample(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.8, usage.MemoryRatio, 1e-9)
}

func TestHostSampler_MissingFiles(t *testing.T) {
	sampler, err := NewHostSampler(t.TempDir())
	require.NoError(t, err)

	_, err = sampler.Sample(context.Background())
	assert.Error(t, err)
}

func TestRatios(t *testing.T) {
	assert.Equal(t, 0.0, memoryRatio(0, 0))
	assert.Equal(t, 0.0, memoryRatio(100, 200))
	assert.Equal(t, 0.5, memoryRatio(100, 50))
	assert.Equal(t, 3.0, cpuRatio(3, 0))
	assert.Equal(t, 0.5, cpuRatio(2, 4))
}

type tickingSampler struct {
	calls atomic.Int32
}

func (s *tickingSampler) Sample(ctx context.Context) (alerting.ResourceUsage, error) {
	s.calls.Add(1)
	return alerting.ResourceUsage{MemoryRatio: 0.2, CPURatio: 0.1}, nil
}

func TestResourceMonitor_StartStop(t *testing.T) {
	aggregator := NewAggregator(nil)
	sampler := &tickingSampler{}
	monitor := NewResourceMonitor(aggregator, sampler, 5*time.Millisecond)

	monitor.Start(context.Background())
	monitor.Start(context.Background())

	require.Eventually(t, func() bool {
		return sampler.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	monitor.Stop()
	calls := sampler.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, sampler.calls.Load())

	_, _, ok := aggregator.LastResourceSample()
	assert.True(t, ok)

	// Stopping twice is harmless
	monitor.Stop()
}

func TestResourceMonitor_StopsWithContext(t *testing.T) {
	sampler := &tickingSampler{}
	monitor := NewResourceMonitor(NewAggregator(nil), sampler, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	monitor.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		monitor.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor did not stop")
	}
}

func TestNewResourceMonitor_DefaultInterval(t *testing.T) {
	monitor := NewResourceMonitor(NewAggregator(nil), &tickingSampler{}, 0)
	assert.Equal(t, DefaultSampleInterval, monitor.interval)
}

type failingSampler struct{}

func (failingSampler) Sample(ctx context.Context) (alerting.ResourceUsage, error) {
	return alerting.ResourceUsage{}, errors.New("proc unavailable")
}

func TestResourceMonitor_LogsFailedSamples(t *testing.T) {
	logger, err := logging.NewLogger(&logging.Config{Level: "warn", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	var buf bytes.Buffer
	logger.SetOutput(&buf)

	monitor := NewResourceMonitor(NewAggregator(nil), failingSampler{}, time.Hour)
	monitor.logger = logger
	monitor.sampleOnce(context.Background())

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Resource sample failed", entry["message"])
	assert.Equal(t, "resource_monitor", entry["component"])
	assert.Equal(t, "proc unavailable", entry["error"])
}
