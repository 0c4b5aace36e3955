// File: internal/metrics/manager.go
package metrics

import (
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mintheist/steal-indexer/pkg/utils"
)

// Manager owns the process-wide metric set plus the runtime gauges no single
// pipeline component is responsible for (uptime, heap, goroutines).
type Manager struct {
	prometheus *PrometheusMetrics
	logger     *logrus.Entry
	startTime  time.Time
}

// NewManager registers the indexer metric set on the default registry
func NewManager() *Manager {
	return &Manager{
		prometheus: NewPrometheusMetrics(),
		logger:     utils.ComponentLogger("metrics"),
		startTime:  time.Now(),
	}
}

// GetPrometheusMetrics returns the shared metric set. The scanner, consumer,
// reader and reconciler record through it directly.
func (m *Manager) GetPrometheusMetrics() *PrometheusMetrics {
	return m.prometheus
}

// Uptime reports how long this process has been running
func (m *Manager) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// UpdateSystemMetrics refreshes the runtime gauges
func (m *Manager) UpdateSystemMetrics() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	m.prometheus.UpdateMemoryUsage(mem.Alloc)
	m.prometheus.UpdateGoroutineCount(runtime.NumGoroutine())
	m.prometheus.UpdateApplicationUptime(m.startTime)
}
