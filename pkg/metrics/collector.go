package metrics

import "time"

// WorkerLister is the minimal view of the active-worker registry the
// collector needs; implemented by pkg/registry.Registry without metrics
// importing registry (avoids a package cycle).
type WorkerLister interface {
	ActiveCount() int
	CountByStatus() map[string]int
	ShardsAssigned() int
}

// Collector periodically samples registry-derived gauges, mirroring the
// ticker-driven polling loop used throughout this codebase's other
// background workers.
type Collector struct {
	lister WorkerLister
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(lister WorkerLister) *Collector {
	return &Collector{
		lister: lister,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ActiveWorkersTotal.Set(float64(c.lister.ActiveCount()))
	ShardsAssignedTotal.Set(float64(c.lister.ShardsAssigned()))

	for status, count := range c.lister.CountByStatus() {
		WorkersByStatus.WithLabelValues(status).Set(float64(count))
	}
}
