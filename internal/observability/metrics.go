package observability

import "sync"

// Metrics provides basic in-memory counters for the ingestion pipeline.
type Metrics struct {
	mu       sync.Mutex
	counters map[string]int64
}

// Counter names tracked by the pipeline.
const (
	MetricProcessed    = "messages_processed"
	MetricDuplicates   = "messages_duplicate"
	MetricRetries      = "processing_retries"
	MetricDeadLettered = "messages_dead_lettered"
	MetricEscalations  = "tickets_escalated"
	MetricMerges       = "conversations_merged"
)

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{counters: make(map[string]int64)}
}

// Inc increments the named counter by one.
func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name]++
}

// Get returns the current value of a counter.
func (m *Metrics) Get(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// Snapshot returns a copy of all counters for health reporting.
func (m *Metrics) Snapshot() map[string]int64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}
