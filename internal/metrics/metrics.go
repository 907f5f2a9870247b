// Package metrics exposes the buffer cache's four monotonic counters
// (tries, hits, device_reads, device_writes) as real
// prometheus.Counters, grounded on gcsfuse's common/otel_metrics.go
// package-level-meter idiom but using prometheus/client_golang directly
// since there is no OpenTelemetry collector to export to in this design
// (see DESIGN.md).
package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics holds one registered counter per buffer-cache statistic.
// Each blockfs.FileSystem owns its own CacheMetrics (and its own
// prometheus.Registry) so multiple mounted volumes in one process don't
// collide on metric names.
type CacheMetrics struct {
	Registry     *prometheus.Registry
	Tries        prometheus.Counter
	Hits         prometheus.Counter
	DeviceReads  prometheus.Counter
	DeviceWrites prometheus.Counter
}

// NewCacheMetrics creates and registers a fresh set of counters.
func NewCacheMetrics() *CacheMetrics {
	reg := prometheus.NewRegistry()

	m := &CacheMetrics{
		Registry: reg,
		Tries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockfs",
			Subsystem: "cache",
			Name:      "tries_total",
			Help:      "Number of cache_read/cache_write lookups attempted.",
		}),
		Hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockfs",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Number of cache lookups that found a resident slot.",
		}),
		DeviceReads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockfs",
			Subsystem: "cache",
			Name:      "device_reads_total",
			Help:      "Number of sectors read from the backing device.",
		}),
		DeviceWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "blockfs",
			Subsystem: "cache",
			Name:      "device_writes_total",
			Help:      "Number of sectors written to the backing device.",
		}),
	}

	reg.MustRegister(m.Tries, m.Hits, m.DeviceReads, m.DeviceWrites)
	return m
}

// Snapshot reads back the four counters as plain integers, the shape
// the facade's diagnostic accessors (cache_tries, cache_hits, disk_reads,
// disk_writes) need.
type Snapshot struct {
	Tries        uint64
	Hits         uint64
	DeviceReads  uint64
	DeviceWrites uint64
}

func (m *CacheMetrics) Snapshot() Snapshot {
	return Snapshot{
		Tries:        counterValue(m.Tries),
		Hits:         counterValue(m.Hits),
		DeviceReads:  counterValue(m.DeviceReads),
		DeviceWrites: counterValue(m.DeviceWrites),
	}
}

func counterValue(c prometheus.Counter) uint64 {
	var m dto.Metric
	_ = c.Write(&m)
	return uint64(m.GetCounter().GetValue())
}
