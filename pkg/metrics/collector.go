package metrics

import (
	"time"

	"github.com/craftd/msm/pkg/storage"
)

// ConsoleStats is the slice of the console hub the collector reads.
type ConsoleStats interface {
	// LiveCount returns the number of servers with a live child session.
	LiveCount() int
	// SubscriberTotal returns the number of attached console subscribers
	// across all sessions.
	SubscriberTotal() int
}

// Collector refreshes the gauge metrics from the store and the console hub.
// Counters are incremented at their call sites; only point-in-time gauges
// need polling.
type Collector struct {
	store  storage.Store
	hub    ConsoleStats
	period time.Duration
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(store storage.Store, hub ConsoleStats) *Collector {
	return &Collector{
		store:  store,
		hub:    hub,
		period: 15 * time.Second,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.period)
	go func() {
		// Collect immediately on start
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
	if servers, err := c.store.ListRunningServers(); err == nil {
		ServersRunning.Set(float64(len(servers)))
	}
	ConsoleSubscribers.Set(float64(c.hub.SubscriberTotal()))
}
