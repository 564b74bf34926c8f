package metrics

import (
	"context"
	"runtime"
	"time"

	"gorm.io/gorm"

	"clowdy/internal/logging"
)

// Collector periodically samples store row counts, the database pool and
// process runtime stats into gauges. One instance per process.
type Collector struct {
	db       *gorm.DB
	metrics  *Metrics
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector sampling every interval.
func NewCollector(db *gorm.DB, interval time.Duration) *Collector {
	return &Collector{
		db:       db,
		metrics:  Get(),
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins sampling in the background until Stop is called or the
// context is canceled.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		c.collectAll()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.collectAll()
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collectAll() {
	c.collectStoreCounts()
	c.collectPoolStats()
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))
}

func (c *Collector) collectStoreCounts() {
	if c.db == nil {
		return
	}

	tables := []struct {
		name  string
		gauge interface{ Set(float64) }
	}{
		{"projects", c.metrics.StoreProjects},
		{"functions", c.metrics.StoreFunctions},
		{"invocations", c.metrics.StoreInvocations},
	}
	for _, t := range tables {
		var n int64
		if err := c.db.Table(t.name).Count(&n).Error; err != nil {
			logging.S().Warnw("Store count failed", "table", t.name, "error", err)
			continue
		}
		t.gauge.Set(float64(n))
	}
}

func (c *Collector) collectPoolStats() {
	if c.db == nil {
		return
	}

	sqlDB, err := c.db.DB()
	if err != nil {
		logging.S().Warnw("Pool stats unavailable", "error", err)
		return
	}
	stats := sqlDB.Stats()
	c.metrics.DBConnectionsInUse.Set(float64(stats.InUse))
	c.metrics.DBConnectionsIdle.Set(float64(stats.Idle))
}
