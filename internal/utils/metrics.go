// internal/utils/metrics.go
package utils

import (
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector keeps lightweight in-process counters and timings,
// exposed through the health endpoint.
type MetricsCollector struct {
	counters map[string]*counter
	timings  map[string]*timing

	mu sync.RWMutex
}

type counter struct {
	value int64 // atomic
}

type timing struct {
	mu    sync.Mutex
	count int64
	sum   time.Duration
	min   time.Duration
	max   time.Duration
}

var (
	globalMetrics *MetricsCollector
	metricsOnce   sync.Once
)

// GetMetricsCollector returns the global metrics collector
func GetMetricsCollector() *MetricsCollector {
	metricsOnce.Do(func() {
		globalMetrics = &MetricsCollector{
			counters: make(map[string]*counter),
			timings:  make(map[string]*timing),
		}
	})
	return globalMetrics
}

// IncrementCounter bumps the named counter, creating it on first use
func (m *MetricsCollector) IncrementCounter(name string) {
	m.mu.RLock()
	c, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if c, exists = m.counters[name]; !exists {
			c = &counter{}
			m.counters[name] = c
		}
		m.mu.Unlock()
	}
	atomic.AddInt64(&c.value, 1)
}

// ObserveDuration records one elapsed duration under the given name
func (m *MetricsCollector) ObserveDuration(name string, d time.Duration) {
	m.mu.RLock()
	t, exists := m.timings[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if t, exists = m.timings[name]; !exists {
			t = &timing{}
			m.timings[name] = t
		}
		m.mu.Unlock()
	}

	t.mu.Lock()
	t.count++
	t.sum += d
	if t.min == 0 || d < t.min {
		t.min = d
	}
	if d > t.max {
		t.max = d
	}
	t.mu.Unlock()
}

// Snapshot returns a copy of all metrics for reporting
func (m *MetricsCollector) Snapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[string]interface{}, len(m.counters)+len(m.timings))
	for name, c := range m.counters {
		snapshot[name] = atomic.LoadInt64(&c.value)
	}
	for name, t := range m.timings {
		t.mu.Lock()
		if t.count > 0 {
			snapshot[name] = map[string]interface{}{
				"count":  t.count,
				"avg_ms": (t.sum / time.Duration(t.count)).Milliseconds(),
				"min_ms": t.min.Milliseconds(),
				"max_ms": t.max.Milliseconds(),
			}
		}
		t.mu.Unlock()
	}
	return snapshot
}
