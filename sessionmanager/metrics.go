package sessionmanager

// MetricsSink allows optional instrumentation without hard dependency.
type MetricsSink interface {
	IncCounter(name string, tags map[string]string)
	ObserveHistogram(name string, value float64, tags map[string]string)
}

// Metric names reported to the MetricsSink.
const (
	// MetricCreated counts stored sessions.
	MetricCreated = "sessions_created"
	// MetricDestroyed counts removals, tagged by "reason".
	MetricDestroyed = "sessions_destroyed"
	// MetricLookups counts GetSession calls, tagged by "result"
	// (hit, miss, expired).
	MetricLookups = "sessions_lookups"
	// MetricLifetime observes seconds between creation and removal, tagged
	// by "reason".
	MetricLifetime = "session_lifetime_seconds"
	// MetricEvictionsDropped counts expiry notices dropped on a full queue.
	MetricEvictionsDropped = "sessions_evictions_dropped"
	// MetricPublishFailed counts events the publisher refused, tagged by
	// "type".
	MetricPublishFailed = "sessions_publish_failed"
)

func (m *Manager) incCounter(name string, tags map[string]string) {
	if m.metrics != nil {
		m.metrics.IncCounter(name, tags)
	}
}

func (m *Manager) observe(name string, value float64, tags map[string]string) {
	if m.metrics != nil {
		m.metrics.ObserveHistogram(name, value, tags)
	}
}
