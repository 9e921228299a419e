// internal/services/story_service_metrics.go
package services

import (
	"sync"
	"time"
)

// EditMetrics counts editing operations per kind with a running
// average duration across all of them.
type EditMetrics struct {
	mutex           sync.RWMutex
	editsByOp       map[string]int64
	totalEdits      int64
	averageEditTime time.Duration
	lastReset       time.Time
}

// NewEditMetrics creates an empty counter set
func NewEditMetrics() *EditMetrics {
	return &EditMetrics{
		editsByOp: make(map[string]int64),
		lastReset: time.Now(),
	}
}

// RecordEdit records one completed editing operation
func (m *EditMetrics) RecordEdit(op string, duration time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.editsByOp[op]++
	m.totalEdits++
	m.averageEditTime = (m.averageEditTime*time.Duration(m.totalEdits-1) + duration) / time.Duration(m.totalEdits)
}

// GetMetrics returns a snapshot of the counters
func (m *EditMetrics) GetMetrics() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	byOp := make(map[string]int64, len(m.editsByOp))
	for op, count := range m.editsByOp {
		byOp[op] = count
	}

	return map[string]interface{}{
		"total_edits":       m.totalEdits,
		"edits_by_op":       byOp,
		"average_edit_time": m.averageEditTime.Milliseconds(),
		"last_reset":        m.lastReset,
	}
}

// ResetMetrics zeroes every counter
func (m *EditMetrics) ResetMetrics() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.editsByOp = make(map[string]int64)
	m.totalEdits = 0
	m.averageEditTime = 0
	m.lastReset = time.Now()
}
