package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/NikhilSetiya/helpdesk-relay/pkg/logging"
)

// DefaultSampleInterval is how often the host is sampled
const DefaultSampleInterval = time.Minute

const monitorComponent = "resource_monitor"

// ResourceMonitor samples host resources on a fixed interval, independent
// of request traffic, and feeds them to the aggregator.
type ResourceMonitor struct {
	aggregator *Aggregator
	sampler    ResourceSampler
	interval   time.Duration
	logger     *logging.Logger

	mutex   sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewResourceMonitor creates a monitor. A non-positive interval uses
// DefaultSampleInterval.
func NewResourceMonitor(aggregator *Aggregator, sampler ResourceSampler, interval time.Duration) *ResourceMonitor {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}

	return &ResourceMonitor{
		aggregator: aggregator,
		sampler:    sampler,
		interval:   interval,
		logger:     logging.GetLogger(),
	}
}

// Start begins sampling in the background. Calling Start on a running
// monitor does nothing.
func (rm *ResourceMonitor) Start(ctx context.Context) {
	rm.mutex.Lock()
	defer rm.mutex.Unlock()

	if rm.running {
		return
	}

	rm.running = true
	rm.stopCh = make(chan struct{})
	rm.done = make(chan struct{})
	go rm.loop(ctx, rm.stopCh, rm.done)

	rm.logger.WithComponent(monitorComponent).
		WithField("interval", rm.interval.String()).
		Info("Resource monitor started")
}

// Stop ends sampling and waits for the loop to exit
func (rm *ResourceMonitor) Stop() {
	rm.mutex.Lock()
	if !rm.running {
		rm.mutex.Unlock()
		return
	}
	rm.running = false
	close(rm.stopCh)
	done := rm.done
	rm.mutex.Unlock()

	<-done
	rm.logger.WithComponent(monitorComponent).Info("Resource monitor stopped")
}

func (rm *ResourceMonitor) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(rm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			rm.sampleOnce(ctx)
		}
	}
}

func (rm *ResourceMonitor) sampleOnce(ctx context.Context) {
	if err := rm.aggregator.SampleResources(ctx, rm.sampler); err != nil {
		rm.logger.WithComponent(monitorComponent).WithError(err).Warn("Resource sample failed")
	}
}
