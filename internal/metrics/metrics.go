package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Pipeline counter names. One counter per stage outcome so the snapshot
// endpoint reads like a trace of the pipeline.
const (
	MessagesProcessed       = "messages_processed"
	ParseFailures           = "parse_failures"
	ReadingsUnknownKind     = "readings_unknown_kind"
	HistoryRegisterFailures = "history_register_failures"
	AlertsEmitted           = "alerts_emitted"
	AlertsSuppressed        = "alerts_suppressed"
	AlertsNotified          = "alerts_notified"
	StorageFailures         = "storage_failures"
	NotifyFailures          = "notify_failures"
	EvaluationFaults        = "evaluation_faults"
)

// Metrics is an in-process counter collector for the pipeline
type Metrics struct {
	mu        sync.RWMutex
	counters  map[string]*int64
	startTime time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{
		counters:  make(map[string]*int64),
		startTime: time.Now(),
	}
}

// IncrementCounter increments a counter by 1
func (m *Metrics) IncrementCounter(name string) {
	m.IncrementCounterBy(name, 1)
}

// IncrementCounterBy increments a counter by the specified value
func (m *Metrics) IncrementCounterBy(name string, value int64) {
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		// Check again to avoid race conditions
		if counter, exists = m.counters[name]; !exists {
			var c int64
			counter = &c
			m.counters[name] = counter
		}
		m.mu.Unlock()
	}

	atomic.AddInt64(counter, value)
}

// GetCounters returns all counters
func (m *Metrics) GetCounters() map[string]int64 {
	counters := make(map[string]int64)

	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, counter := range m.counters {
		counters[name] = atomic.LoadInt64(counter)
	}

	return counters
}

// GetUptimeSeconds returns the service uptime in seconds
func (m *Metrics) GetUptimeSeconds() int64 {
	return int64(time.Since(m.startTime).Seconds())
}

// GetAllMetrics returns all metrics in a structured format
func (m *Metrics) GetAllMetrics() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": m.GetUptimeSeconds(),
		"counters":       m.GetCounters(),
	}
}
